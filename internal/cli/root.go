// Package cli implements the rmono command-line interface using Cobra.
// Each subcommand drives one attach/call/detach round trip against a
// running target process; rmono keeps no daemon and no on-disk session
// state, so every invocation is a fresh attachment.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rmonocli",
	Short: "rmonocli — drive a target process's Mono runtime from outside it",
	Long: `rmonocli attaches to a running process, locates its loaded Mono
embedding library, and lets you open assemblies, resolve classes and
members, and invoke managed methods without injecting a managed
assembly of your own.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
