package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/handle"
	"github.com/tutu-network/rmono/internal/rmono"
)

var callFlags attachFlags

func init() {
	cmd := &cobra.Command{
		Use:   "call ASSEMBLY NAMESPACE CLASS METHOD",
		Short: "Resolve a static method and invoke it with no arguments",
		Long: `call opens ASSEMBLY in the target's root domain, resolves
NAMESPACE.CLASS::METHOD and invokes it as a static method (the zero-value
instance handle), printing the returned Variant's tag and value.`,
		Args: cobra.ExactArgs(4),
		RunE: runCall,
	}
	addAttachFlags(cmd, &callFlags)
	rootCmd.AddCommand(cmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	assembly, namespace, class, method := args[0], args[1], args[2], args[3]

	ctx := cmd.Context()
	c, closeFn, err := attach(ctx, callFlags)
	if err != nil {
		return err
	}
	defer closeFn()

	asm, err := c.OpenAssembly(ctx, c.RootDomain(), assembly)
	if err != nil {
		return fmt.Errorf("opening assembly: %w", err)
	}
	img, err := c.Image(ctx, asm)
	if err != nil {
		return fmt.Errorf("resolving image: %w", err)
	}
	klass, err := c.ClassFromName(ctx, img, namespace, class)
	if err != nil {
		return fmt.Errorf("resolving class: %w", err)
	}
	m, err := c.MethodFromName(ctx, klass, method, 0)
	if err != nil {
		return fmt.Errorf("resolving method: %w", err)
	}

	result, err := c.InvokeMethod(ctx, m, handle.Managed[rmono.Object]{}, nil)
	if err != nil {
		var rex *rmono.RemoteException
		if errors.As(err, &rex) {
			return fmt.Errorf("managed exception: %s", rex.Message)
		}
		return fmt.Errorf("invoking method: %w", err)
	}
	printResult(result)
	return nil
}

func printResult(v domain.Variant) {
	switch v.Tag {
	case domain.TagManagedRef:
		if v.Managed == nil {
			fmt.Println("ManagedRef <null>")
			return
		}
		fmt.Printf("ManagedRef gchandle=%v\n", v.Managed.GCHandle())
	case domain.TagRawPointer:
		fmt.Printf("RawPointer %v\n", v.RawValue)
	case domain.TagValue:
		fmt.Printf("Value %v\n", v.ValuePtr)
	default:
		fmt.Println("(void)")
	}
}
