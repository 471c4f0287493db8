package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/rmono/internal/config"
	"github.com/tutu-network/rmono/internal/infra/lifecycle"
	"github.com/tutu-network/rmono/internal/rmono"
)

// attachFlags are shared by every subcommand that needs a live attachment,
// mirroring config.AttachConfig so a flag always overrides its config file
// counterpart rather than duplicating its meaning.
type attachFlags struct {
	pid          string
	monoHint     string
	minGen       int
}

func addAttachFlags(cmd *cobra.Command, f *attachFlags) {
	cmd.Flags().StringVar(&f.pid, "pid", "", "target process ID (required)")
	cmd.Flags().StringVar(&f.monoHint, "mono-hint", "", "exact Mono module name to look for, instead of the built-in common names")
	cmd.Flags().IntVar(&f.minGen, "min-generation", 0, "reject attach if the target's Mono generation is below this")
	cmd.MarkFlagRequired("pid")
}

// attach opens one rmono.Context for the duration of a command, applying
// cfg's attach defaults under whatever the command's own flags override.
func attach(ctx context.Context, f attachFlags) (*rmono.Context, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	opts := lifecycle.Options{
		MonoModuleHint:    cfg.Attach.MonoModuleHint,
		DeferredFreeMax:   cfg.DeferredFree.MaxBatchSize,
		RequireGeneration: cfg.Attach.RequireGeneration,
	}
	if f.monoHint != "" {
		opts.MonoModuleHint = f.monoHint
	}
	if f.minGen > 0 {
		opts.RequireGeneration = f.minGen
	}

	c, err := rmono.Attach(ctx, newBackend(), f.pid, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("attach to pid %s: %w", f.pid, err)
	}
	return c, func() { c.Close(ctx) }, nil
}
