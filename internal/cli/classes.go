package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/rmono/internal/infra/metadata"
)

func init() {
	rootCmd.AddCommand(classesCmd)
}

var classesCmd = &cobra.Command{
	Use:   "classes ASSEMBLY",
	Short: "List the classes an assembly defines, read from its on-disk metadata",
	Long: `classes parses ASSEMBLY's CLR header and TYPEDEF table directly — it
never attaches to a running process, so it works even against an assembly
no target process has loaded yet.`,
	Args: cobra.ExactArgs(1),
	RunE: runClasses,
}

func runClasses(cmd *cobra.Command, args []string) error {
	classes, err := metadata.ListClasses(args[0])
	if err != nil {
		return err
	}
	if len(classes) == 0 {
		fmt.Println("No classes found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tNAME")
	for _, c := range classes {
		fmt.Fprintf(w, "%s\t%s\n", c.Namespace, c.Name)
	}
	return w.Flush()
}
