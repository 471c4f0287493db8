package rmono

import (
	"context"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/function"
	"github.com/tutu-network/rmono/internal/infra/handle"
	"github.com/tutu-network/rmono/internal/infra/ipcvector"
)

// defaultAssemblyEnumCap bounds how many loaded assemblies EnumerateAssemblies
// collects in one pass. mono_assembly_foreach gives callers no preflight
// count to size the vector from (unlike, say, mono_array_length before
// reading array elements), so this is a fixed ceiling rather than a value
// computed from the target; ErrTruncated signals when it was hit.
const defaultAssemblyEnumCap = 256

// OpenAssembly loads an assembly from path into dom, returning a handle to
// it. Mirrors mono_domain_assembly_open.
func (c *Context) OpenAssembly(ctx context.Context, dom handle.Raw[Domain], path string) (handle.Raw[Assembly], error) {
	domPtr, err := dom.Pointer()
	if err != nil {
		return handle.Raw[Assembly]{}, err
	}
	pathAddr, release, err := c.writeCString(path)
	if err != nil {
		return handle.Raw[Assembly]{}, err
	}
	defer release()

	result, err := c.call(ctx, "mono_domain_assembly_open", domPtr, pathAddr)
	if err != nil {
		return handle.Raw[Assembly]{}, fmt.Errorf("rmono: opening assembly %q: %w", path, err)
	}
	addr := result.(domain.Rptr)
	if addr.IsNull() {
		return handle.Raw[Assembly]{}, fmt.Errorf("%w: mono_domain_assembly_open returned null for %q", domain.ErrBackendFailure, path)
	}
	return handle.NewRaw[Assembly](c.sess.Handles, "Assembly", addr), nil
}

// EnumerateAssemblies lists every assembly currently loaded into the
// runtime via mono_assembly_foreach, whose GFunc callback convention this
// engine drives with a synthesized collector trampoline
// (function.GenerateForeachCollector) writing each MonoAssembly* into a
// target-allocated ipcvector.Vector (spec.md §4.3's IPC-vector enumeration
// pattern) that the controller reads back afterward in one round trip
// instead of one RPC per assembly.
//
// Returns domain.ErrTruncated, alongside the (possibly incomplete) handles
// collected so far, once the vector is full, i.e. when defaultAssemblyEnumCap
// or more assemblies are loaded — mono_assembly_foreach gives no preflight count to size the
// vector from up front.
func (c *Context) EnumerateAssemblies(ctx context.Context) ([]handle.Raw[Assembly], error) {
	traits := c.sess.Table.ABI
	elemSize := traits.PtrWidth()

	vec, err := ipcvector.New(c.sess.Backend, traits, elemSize, defaultAssemblyEnumCap)
	if err != nil {
		return nil, fmt.Errorf("rmono: allocating assembly enumeration buffer: %w", err)
	}
	defer vec.Free()

	entry, err := c.sess.Table.Lookup("mono_assembly_foreach")
	if err != nil {
		return nil, err
	}

	asmr := c.sess.Backend.Assembler()
	code := function.GenerateForeachCollector(asmr, traits, entry.Def.Convention, vec.CursorFieldOffset(), defaultAssemblyEnumCap, elemSize)
	collectorAddr, err := c.sess.Backend.Alloc(uint64(len(code)), domain.ProtExecuteReadWrite)
	if err != nil {
		return nil, fmt.Errorf("rmono: allocating assembly collector trampoline: %w", err)
	}
	defer c.sess.Backend.Free(collectorAddr)
	if err := c.sess.Backend.Write(collectorAddr, code); err != nil {
		return nil, fmt.Errorf("rmono: writing assembly collector trampoline: %w", err)
	}

	if _, err := entry.Invoke(ctx, c.sess.Backend, traits, c.scratch, []any{collectorAddr, vec.Addr()}); err != nil {
		return nil, fmt.Errorf("rmono: mono_assembly_foreach: %w", err)
	}

	n, err := vec.Len()
	if err != nil {
		return nil, err
	}
	raw, err := vec.Data(n)
	if err != nil {
		return nil, err
	}

	out := make([]handle.Raw[Assembly], n)
	for i := 0; i < n; i++ {
		var v uint64
		off := i * elemSize
		for b := 0; b < elemSize; b++ {
			v |= uint64(raw[off+b]) << (8 * uint(b))
		}
		out[i] = handle.NewRaw[Assembly](c.sess.Handles, "Assembly", domain.Rptr(v))
	}
	if n >= defaultAssemblyEnumCap {
		return out, domain.ErrTruncated
	}
	return out, nil
}

// Image returns the assembly's single module image, used to resolve
// classes. Mirrors mono_assembly_get_image.
func (c *Context) Image(ctx context.Context, asm handle.Raw[Assembly]) (handle.Raw[Image], error) {
	asmPtr, err := asm.Pointer()
	if err != nil {
		return handle.Raw[Image]{}, err
	}
	result, err := c.call(ctx, "mono_assembly_get_image", asmPtr)
	if err != nil {
		return handle.Raw[Image]{}, fmt.Errorf("rmono: resolving image: %w", err)
	}
	addr := result.(domain.Rptr)
	if addr.IsNull() {
		return handle.Raw[Image]{}, fmt.Errorf("%w: mono_assembly_get_image returned null", domain.ErrBackendFailure)
	}
	return handle.NewRaw[Image](c.sess.Handles, "Image", addr), nil
}
