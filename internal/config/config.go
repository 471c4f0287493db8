// Package config manages rmono's configuration file and defaults, in the
// same DefaultConfig/LoadConfig/SaveConfig shape as the teacher's
// internal/daemon/config.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/rmono/internal/infra/deferredfree"
)

// Config holds all rmono configuration.
type Config struct {
	Attach       AttachConfig       `toml:"attach"`
	DeferredFree DeferredFreeConfig `toml:"deferred_free"`
	Logging      LoggingConfig      `toml:"logging"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
}

// AttachConfig controls how rmono locates and attaches to a target process.
type AttachConfig struct {
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	MonoModuleHint   string `toml:"mono_module_hint"`
	RequireGeneration int   `toml:"require_generation"`
}

// DeferredFreeConfig bounds the batched GC-handle/raw-pointer free buffer.
type DeferredFreeConfig struct {
	MaxBatchSize int `toml:"max_batch_size"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Enabled        bool `toml:"enabled"`
	PrometheusPort int  `toml:"prometheus_port"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := rmonoHome()
	return Config{
		Attach: AttachConfig{
			TimeoutSeconds:    10,
			RequireGeneration: 2,
		},
		DeferredFree: DeferredFreeConfig{
			MaxBatchSize: deferredfree.DefaultMax,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "rmono.log"),
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			PrometheusPort: 9091,
		},
	}
}

// LoadConfig reads config from ~/.rmono/config.toml, falling back to
// defaults if the file doesn't exist, and rejects a deferred-free batch
// size outside deferredfree's supported range before the caller ever
// reaches infra/deferredfree.New.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(rmonoHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.DeferredFree.MaxBatchSize <= 0 || cfg.DeferredFree.MaxBatchSize > deferredfree.AbsoluteMax {
		return cfg, fmt.Errorf("config: deferred_free.max_batch_size must be in (0, %d], got %d", deferredfree.AbsoluteMax, cfg.DeferredFree.MaxBatchSize)
	}
	return cfg, nil
}

// SaveConfig writes cfg to ~/.rmono/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(rmonoHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func rmonoHome() string {
	if env := os.Getenv("RMONO_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".rmono")
}
