package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_FallsBackToDefaultsWithoutFile(t *testing.T) {
	t.Setenv("RMONO_HOME", t.TempDir())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	if cfg != want {
		t.Fatalf("LoadConfig without a file = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadConfig_RejectsOutOfRangeBatchSize(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RMONO_HOME", dir)
	os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[deferred_free]\nmax_batch_size = 9000\n"), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for out-of-range max_batch_size")
	}
}

func TestSaveConfig_RoundTripsThroughLoadConfig(t *testing.T) {
	t.Setenv("RMONO_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Attach.TimeoutSeconds = 30

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("round trip = %+v, want %+v", loaded, cfg)
	}
}
