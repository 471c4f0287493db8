package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var echoFlags attachFlags

func init() {
	cmd := &cobra.Command{
		Use:   "echo-string TEXT",
		Short: "Create a managed string in the target and read it back via ToString",
		Long: `echo-string is a connectivity smoke test: it allocates a
System.String in the target's root domain, then calls ToString() on it
through the same code path any other managed object would use, proving the
attach, string-new and object-to-string round trips all work end to end.`,
		Args: cobra.ExactArgs(1),
		RunE: runEchoString,
	}
	addAttachFlags(cmd, &echoFlags)
	rootCmd.AddCommand(cmd)
}

func runEchoString(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, closeFn, err := attach(ctx, echoFlags)
	if err != nil {
		return err
	}
	defer closeFn()

	str, err := c.NewString(ctx, c.RootDomain(), args[0])
	if err != nil {
		return fmt.Errorf("creating string: %w", err)
	}
	got, err := c.ObjectToString(ctx, str)
	if err != nil {
		return fmt.Errorf("reading string back: %w", err)
	}
	fmt.Println(got)
	return nil
}
