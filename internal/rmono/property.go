package rmono

import (
	"context"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/handle"
)

// PropertyFromName resolves klass's property name. Mirrors
// mono_class_get_property_from_name.
func (c *Context) PropertyFromName(ctx context.Context, klass handle.Raw[Class], name string) (handle.Raw[Property], error) {
	klassPtr, err := klass.Pointer()
	if err != nil {
		return handle.Raw[Property]{}, err
	}
	addr, release, err := c.writeCString(name)
	if err != nil {
		return handle.Raw[Property]{}, err
	}
	defer release()

	result, err := c.call(ctx, "mono_class_get_property_from_name", klassPtr, addr)
	if err != nil {
		return handle.Raw[Property]{}, fmt.Errorf("rmono: mono_class_get_property_from_name: %w", err)
	}
	ptr := result.(domain.Rptr)
	if ptr.IsNull() {
		return handle.Raw[Property]{}, fmt.Errorf("%w: property %q", domain.ErrMemberNotFound, name)
	}
	return handle.NewRaw[Property](c.sess.Handles, "Property", ptr), nil
}

// PropertyGetter resolves prop's get accessor as a plain Method, which the
// caller then runs through InvokeMethod the same as any other method.
// Mirrors mono_property_get_get_method.
func (c *Context) PropertyGetter(ctx context.Context, prop handle.Raw[Property]) (handle.Raw[Method], error) {
	return c.propertyAccessor(ctx, prop, "mono_property_get_get_method")
}

// PropertySetter resolves prop's set accessor. Mirrors
// mono_property_get_set_method. Returns domain.ErrMemberNotFound for a
// read-only property.
func (c *Context) PropertySetter(ctx context.Context, prop handle.Raw[Property]) (handle.Raw[Method], error) {
	return c.propertyAccessor(ctx, prop, "mono_property_get_set_method")
}

func (c *Context) propertyAccessor(ctx context.Context, prop handle.Raw[Property], fn string) (handle.Raw[Method], error) {
	propPtr, err := prop.Pointer()
	if err != nil {
		return handle.Raw[Method]{}, err
	}
	result, err := c.call(ctx, fn, propPtr)
	if err != nil {
		return handle.Raw[Method]{}, fmt.Errorf("rmono: %s: %w", fn, err)
	}
	ptr := result.(domain.Rptr)
	if ptr.IsNull() {
		return handle.Raw[Method]{}, fmt.Errorf("%w: property has no matching accessor", domain.ErrMemberNotFound)
	}
	return handle.NewRaw[Method](c.sess.Handles, "Method", ptr), nil
}
