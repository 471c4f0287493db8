package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/rmono/internal/infra/handle"
	"github.com/tutu-network/rmono/internal/rmono"
)

var (
	fieldGetFlags attachFlags
	fieldSetFlags attachFlags
	fieldSize     int
)

func init() {
	get := &cobra.Command{
		Use:   "field-get ASSEMBLY NAMESPACE CLASS FIELD",
		Short: "Read a static field's raw value-type bytes, printed as hex",
		Args:  cobra.ExactArgs(4),
		RunE:  runFieldGet,
	}
	get.Flags().IntVar(&fieldSize, "size", 4, "field size in bytes")
	addAttachFlags(get, &fieldGetFlags)

	set := &cobra.Command{
		Use:   "field-set ASSEMBLY NAMESPACE CLASS FIELD HEXVALUE",
		Short: "Write a static field's raw value-type bytes, given as hex",
		Args:  cobra.ExactArgs(5),
		RunE:  runFieldSet,
	}
	addAttachFlags(set, &fieldSetFlags)

	rootCmd.AddCommand(get, set)
}

func resolveField(cmd *cobra.Command, f attachFlags, assembly, namespace, class, field string) (*rmono.Context, func(), handle.Raw[rmono.Field], error) {
	ctx := cmd.Context()
	c, closeFn, err := attach(ctx, f)
	if err != nil {
		return nil, nil, handle.Raw[rmono.Field]{}, err
	}
	asm, err := c.OpenAssembly(ctx, c.RootDomain(), assembly)
	if err != nil {
		closeFn()
		return nil, nil, handle.Raw[rmono.Field]{}, fmt.Errorf("opening assembly: %w", err)
	}
	img, err := c.Image(ctx, asm)
	if err != nil {
		closeFn()
		return nil, nil, handle.Raw[rmono.Field]{}, fmt.Errorf("resolving image: %w", err)
	}
	klass, err := c.ClassFromName(ctx, img, namespace, class)
	if err != nil {
		closeFn()
		return nil, nil, handle.Raw[rmono.Field]{}, fmt.Errorf("resolving class: %w", err)
	}
	fld, err := c.FieldFromName(ctx, klass, field)
	if err != nil {
		closeFn()
		return nil, nil, handle.Raw[rmono.Field]{}, fmt.Errorf("resolving field: %w", err)
	}
	return c, closeFn, fld, nil
}

func runFieldGet(cmd *cobra.Command, args []string) error {
	c, closeFn, fld, err := resolveField(cmd, fieldGetFlags, args[0], args[1], args[2], args[3])
	if err != nil {
		return err
	}
	defer closeFn()

	data, err := c.GetFieldValue(cmd.Context(), handle.Managed[rmono.Object]{}, fld, fieldSize)
	if err != nil {
		return fmt.Errorf("reading field: %w", err)
	}
	fmt.Println(hex.EncodeToString(data))
	return nil
}

func runFieldSet(cmd *cobra.Command, args []string) error {
	data, err := hex.DecodeString(args[4])
	if err != nil {
		return fmt.Errorf("decoding hex value: %w", err)
	}

	c, closeFn, fld, err := resolveField(cmd, fieldSetFlags, args[0], args[1], args[2], args[3])
	if err != nil {
		return err
	}
	defer closeFn()

	if err := c.SetFieldValue(cmd.Context(), handle.Managed[rmono.Object]{}, fld, data); err != nil {
		return fmt.Errorf("writing field: %w", err)
	}
	return nil
}
