package rmono

import (
	"context"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/handle"
)

// FieldFromName resolves klass's instance or static field name. Mirrors
// mono_class_get_field_from_name; the result is a raw pointer, not a GC
// handle, since a MonoClassField lives for the lifetime of its class.
func (c *Context) FieldFromName(ctx context.Context, klass handle.Raw[Class], name string) (handle.Raw[Field], error) {
	klassPtr, err := klass.Pointer()
	if err != nil {
		return handle.Raw[Field]{}, err
	}
	addr, release, err := c.writeCString(name)
	if err != nil {
		return handle.Raw[Field]{}, err
	}
	defer release()

	result, err := c.call(ctx, "mono_class_get_field_from_name", klassPtr, addr)
	if err != nil {
		return handle.Raw[Field]{}, fmt.Errorf("rmono: mono_class_get_field_from_name: %w", err)
	}
	ptr := result.(domain.Rptr)
	if ptr.IsNull() {
		return handle.Raw[Field]{}, fmt.Errorf("%w: field %q", domain.ErrMemberNotFound, name)
	}
	return handle.NewRaw[Field](c.sess.Handles, "Field", ptr), nil
}

// GetFieldValue reads field's raw value-type bytes out of obj (pass
// handle.Managed[Object]{} for a static field), sized elemSize. Mirrors
// mono_field_get_value, which writes into a caller-owned buffer rather than
// returning one, so this allocates scratch, calls, then reads it back.
func (c *Context) GetFieldValue(ctx context.Context, obj domain.ManagedHandle, field handle.Raw[Field], elemSize int) ([]byte, error) {
	fieldPtr, err := field.Pointer()
	if err != nil {
		return nil, err
	}
	buf, release, err := c.allocScratch(uint64(elemSize))
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := c.call(ctx, "mono_field_get_value", obj, fieldPtr, buf); err != nil {
		return nil, fmt.Errorf("rmono: mono_field_get_value: %w", err)
	}
	data, err := c.sess.Backend.Read(buf, uint64(elemSize))
	if err != nil {
		return nil, fmt.Errorf("rmono: reading field value: %w", err)
	}
	return data, nil
}

// SetFieldValue writes data into field on obj (pass handle.Managed[Object]{}
// for a static field). Mirrors mono_field_set_value.
func (c *Context) SetFieldValue(ctx context.Context, obj domain.ManagedHandle, field handle.Raw[Field], data []byte) error {
	fieldPtr, err := field.Pointer()
	if err != nil {
		return err
	}
	buf, release, err := c.allocScratch(uint64(len(data)))
	if err != nil {
		return err
	}
	defer release()

	if err := c.sess.Backend.Write(buf, data); err != nil {
		return fmt.Errorf("rmono: writing field scratch: %w", err)
	}
	if _, err := c.call(ctx, "mono_field_set_value", obj, fieldPtr, buf); err != nil {
		return fmt.Errorf("rmono: mono_field_set_value: %w", err)
	}
	return nil
}
