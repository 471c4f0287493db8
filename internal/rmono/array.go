package rmono

import (
	"context"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/handle"
)

// NewArray allocates a managed array of length elements with element type
// eclass in dom. Mirrors mono_array_new.
func (c *Context) NewArray(ctx context.Context, dom handle.Raw[Domain], eclass handle.Raw[Class], length int) (handle.Managed[Array], error) {
	domPtr, err := dom.Pointer()
	if err != nil {
		return handle.Managed[Array]{}, err
	}
	classPtr, err := eclass.Pointer()
	if err != nil {
		return handle.Managed[Array]{}, err
	}
	result, err := c.call(ctx, "mono_array_new", domPtr, classPtr, uint64(length))
	if err != nil {
		return handle.Managed[Array]{}, fmt.Errorf("rmono: mono_array_new: %w", err)
	}
	gc := domain.GCHandle(result.(uint64))
	if !gc.IsValid() {
		return handle.Managed[Array]{}, fmt.Errorf("%w: mono_array_new returned an invalid handle", domain.ErrBackendFailure)
	}
	return handle.NewManaged[Array](c.sess.Handles, "Array", gc), nil
}

// ArrayLength returns the number of elements in arr. Mirrors
// mono_array_length.
func (c *Context) ArrayLength(ctx context.Context, arr handle.Managed[Array]) (int, error) {
	result, err := c.call(ctx, "mono_array_length", arr)
	if err != nil {
		return 0, fmt.Errorf("rmono: mono_array_length: %w", err)
	}
	return int(result.(uint64)), nil
}

// ReadArrayElement reads elemSize raw bytes at index out of arr's backing
// storage, for value-type element arrays (int, float, custom struct). The
// target-side address comes from mono_array_addr_with_size; the controller
// then issues a normal Backend.Read against it, since a value-type array
// element is never itself a managed reference that needs a GC handle
// (spec.md §4.6's ManagedRef handling applies only to reference-type array
// elements — see DESIGN.md for the boxed-element Open Question).
func (c *Context) ReadArrayElement(ctx context.Context, arr handle.Managed[Array], index, elemSize int) ([]byte, error) {
	addr, err := c.arrayElementAddr(ctx, arr, index, elemSize)
	if err != nil {
		return nil, err
	}
	data, err := c.sess.Backend.Read(addr, uint64(elemSize))
	if err != nil {
		return nil, fmt.Errorf("rmono: reading array element %d: %w", index, err)
	}
	return data, nil
}

// WriteArrayElement writes data into arr's backing storage at index, sized
// elemSize. See ReadArrayElement for the value-type-only caveat.
func (c *Context) WriteArrayElement(ctx context.Context, arr handle.Managed[Array], index, elemSize int, data []byte) error {
	if len(data) != elemSize {
		return fmt.Errorf("%w: data is %d bytes, element size is %d", domain.ErrInvalidPrecondition, len(data), elemSize)
	}
	addr, err := c.arrayElementAddr(ctx, arr, index, elemSize)
	if err != nil {
		return err
	}
	if err := c.sess.Backend.Write(addr, data); err != nil {
		return fmt.Errorf("rmono: writing array element %d: %w", index, err)
	}
	return nil
}

// SetArrayElementRef writes value into a reference-type element of arr at
// index via mono_gc_wbarrier_set_arrayref, rather than a plain
// Backend.Write against mono_array_addr_with_size's returned address.
// Writing a managed pointer into another object's field without telling the
// collector about the new cross-object reference (the "write barrier") lets
// a generational GC miss it on the next minor collection and reclaim value
// while arr still points at it — mono_gc_wbarrier_set_arrayref is the API
// that records the reference in the GC's remembered/card-table set in the
// same call that stores it, which is why this, not WriteArrayElement, is
// the only correct way to store a reference-type element.
func (c *Context) SetArrayElementRef(ctx context.Context, arr handle.Managed[Array], index int, value domain.ManagedHandle) error {
	elemSize := c.sess.Table.ABI.PtrWidth()
	addr, err := c.arrayElementAddr(ctx, arr, index, elemSize)
	if err != nil {
		return err
	}
	if _, err := c.call(ctx, "mono_gc_wbarrier_set_arrayref", arr, addr, value); err != nil {
		return fmt.Errorf("rmono: mono_gc_wbarrier_set_arrayref: %w", err)
	}
	return nil
}

func (c *Context) arrayElementAddr(ctx context.Context, arr handle.Managed[Array], index, elemSize int) (domain.Rptr, error) {
	result, err := c.call(ctx, "mono_array_addr_with_size", arr, uint64(elemSize), uint64(index))
	if err != nil {
		return domain.Null, fmt.Errorf("rmono: mono_array_addr_with_size: %w", err)
	}
	return result.(domain.Rptr), nil
}
