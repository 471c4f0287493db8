package rmono

import (
	"context"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/handle"
)

// ClassFromName resolves a class by namespace and name within image.
// Mirrors mono_class_from_name. Returns domain.ErrMemberNotFound if the
// target reports no such class (a null return, never an error from the
// call itself).
func (c *Context) ClassFromName(ctx context.Context, img handle.Raw[Image], namespace, name string) (handle.Raw[Class], error) {
	imgPtr, err := img.Pointer()
	if err != nil {
		return handle.Raw[Class]{}, err
	}
	nsAddr, releaseNS, err := c.writeCString(namespace)
	if err != nil {
		return handle.Raw[Class]{}, err
	}
	defer releaseNS()
	nameAddr, releaseName, err := c.writeCString(name)
	if err != nil {
		return handle.Raw[Class]{}, err
	}
	defer releaseName()

	result, err := c.call(ctx, "mono_class_from_name", imgPtr, nsAddr, nameAddr)
	if err != nil {
		return handle.Raw[Class]{}, fmt.Errorf("rmono: resolving class %s.%s: %w", namespace, name, err)
	}
	addr := result.(domain.Rptr)
	if addr.IsNull() {
		return handle.Raw[Class]{}, fmt.Errorf("%w: class %s.%s", domain.ErrMemberNotFound, namespace, name)
	}
	return handle.NewRaw[Class](c.sess.Handles, "Class", addr), nil
}

// MethodFromName resolves a method by name and parameter count within
// class. Mirrors mono_class_get_method_from_name. paramCount -1 matches any
// arity, per Mono's own convention for that function.
func (c *Context) MethodFromName(ctx context.Context, klass handle.Raw[Class], name string, paramCount int) (handle.Raw[Method], error) {
	klassPtr, err := klass.Pointer()
	if err != nil {
		return handle.Raw[Method]{}, err
	}
	nameAddr, release, err := c.writeCString(name)
	if err != nil {
		return handle.Raw[Method]{}, err
	}
	defer release()

	result, err := c.call(ctx, "mono_class_get_method_from_name", klassPtr, nameAddr, uint64(paramCount))
	if err != nil {
		return handle.Raw[Method]{}, fmt.Errorf("rmono: resolving method %s: %w", name, err)
	}
	addr := result.(domain.Rptr)
	if addr.IsNull() {
		return handle.Raw[Method]{}, fmt.Errorf("%w: method %s", domain.ErrMemberNotFound, name)
	}
	return handle.NewRaw[Method](c.sess.Handles, "Method", addr), nil
}
