// Package lifecycle implements Component 11: the ordered attach and detach
// sequences that bring a Session from "nothing located yet" to "every
// catalog function resolved and callable" and back down again cleanly
// (spec.md §4.10).
package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/deferredfree"
	"github.com/tutu-network/rmono/internal/infra/dispatcher"
	"github.com/tutu-network/rmono/internal/infra/handle"
)

// Session is everything an attached rmono.Context needs: the backend, the
// resolved dispatch table, the live-handle registry, and the deferred-free
// buffer — bundled so attach/detach own their full lifetime as one unit.
type Session struct {
	ID           uuid.UUID // distinguishes overlapping attachments in logs/metrics
	Backend      domain.Backend
	MonoModule   domain.ModuleInfo
	Generation   int
	Table        *dispatcher.Table
	Handles      *handle.Registry
	DeferredFree *deferredfree.Buffer
	RootDomain   domain.Rptr

	attached bool
}

// Options configures one Attach call.
type Options struct {
	MonoModuleHint     string // exact module name/suffix to look for; "" tries common names
	DeferredFreeMax    int
	RequireGeneration  int
}

// commonMonoModuleNames is tried in order when Options.MonoModuleHint is
// empty, covering the handful of names Mono embeds under across the
// runtimes this project targets (spec.md §4.9 "locating the Mono
// embedding library").
var commonMonoModuleNames = []string{
	"mono-2.0-bdwgc.dll", "mono-2.0-sgen.dll", "mono.dll",
	"libmonosgen-2.0.so", "libmonobdwgc-2.0.so", "libmono-2.0.so",
}

// Attach runs the nine-step sequence: attach the backend, locate the Mono
// module, detect its API generation, select the ABI, resolve boilerplate,
// build the dispatch table (synthesizing and injecting every needed
// wrapper), wire up the deferred-free buffer, create the handle registry,
// and finally attach this thread to the runtime so calls can be issued.
func Attach(ctx context.Context, backend domain.Backend, target any, opts Options) (*Session, error) {
	// 1. Attach the backend to the target process.
	if err := backend.Attach(ctx, target); err != nil {
		return nil, err
	}

	// 2. Locate the Mono embedding module.
	monoModule, err := findMonoModule(backend, opts.MonoModuleHint)
	if err != nil {
		backend.Detach()
		return nil, err
	}

	// 3. Detect the API generation via the mono_free export heuristic
	// (spec.md §6/§9: its presence distinguishes the post-2.11 API surface
	// from older Mono builds that never exported it).
	generation := detectGeneration(backend, monoModule)
	if opts.RequireGeneration > 0 && generation < opts.RequireGeneration {
		backend.Detach()
		return nil, fmt.Errorf("%w: target Mono generation %d is below the required %d", domain.ErrUnsupportedAPI, generation, opts.RequireGeneration)
	}

	// 4-6. Select the ABI, resolve boilerplate, and build the dispatch
	// table — all inside dispatcher.Build.
	table, err := dispatcher.Build(backend, monoModule, generation, dispatcher.Catalog)
	if err != nil {
		backend.Detach()
		return nil, err
	}

	// 7. Create the deferred-free buffer, backed by the dispatch table's
	// mono_gchandle_free_v2 entry.
	maxBatch := opts.DeferredFreeMax
	if maxBatch <= 0 {
		maxBatch = deferredfree.DefaultMax
	}
	flusher := &tableFlusher{table: table, backend: backend}
	deferred, err := deferredfree.New(flusher, maxBatch)
	if err != nil {
		backend.Detach()
		return nil, err
	}

	// 8. Create the live-handle registry, with a FreeFunc that queues into
	// the deferred-free buffer rather than calling back into the target
	// synchronously on every single Release, and a RuntimeOps adapter so
	// Managed[D].Raw/Pin can resolve or pin a handle on demand.
	registry := handle.NewRegistry(func(e handle.FreedEntry) {
		if e.GCHandle != domain.InvalidGCHandle {
			deferred.QueueGCHandle(context.Background(), e.GCHandle)
		}
		if e.Rptr != domain.Null {
			deferred.QueueRawPointer(context.Background(), e.Rptr)
		}
	}, &runtimeOps{table: table, backend: backend})

	// 9. Attach the worker thread to the runtime and record the root
	// domain, so every subsequent call has a domain to default to.
	var rootDomain domain.Rptr
	if entry, err := table.Lookup("mono_get_root_domain"); err == nil {
		result, err := entry.Invoke(ctx, backend, table.ABI, nil, nil)
		if err != nil {
			backend.Detach()
			return nil, fmt.Errorf("lifecycle: mono_get_root_domain: %w", err)
		}
		rootDomain = domain.Rptr(result.(uint64))
	}
	if entry, err := table.Lookup("mono_thread_attach"); err == nil {
		if _, err := entry.Invoke(ctx, backend, table.ABI, nil, []any{rootDomain}); err != nil {
			backend.Detach()
			return nil, fmt.Errorf("lifecycle: mono_thread_attach: %w", err)
		}
	}

	return &Session{
		ID:           uuid.New(),
		Backend:      backend,
		MonoModule:   monoModule,
		Generation:   generation,
		Table:        table,
		Handles:      registry,
		DeferredFree: deferred,
		RootDomain:   rootDomain,
		attached:     true,
	}, nil
}

// Detach runs the six-step teardown: flush any pending deferred frees,
// refuse with an error while any handle is still live in the registry (the
// session then stays attached), free injected wrapper
// code pages, detach the worker thread (best-effort — a dying target may
// already be gone), detach the backend, and mark the session dead.
func (s *Session) Detach(ctx context.Context) error {
	if !s.attached {
		return domain.ErrNotAttached
	}

	// 1. Flush pending deferred frees.
	if err := s.DeferredFree.Flush(ctx); err != nil {
		return fmt.Errorf("lifecycle: detach: flushing deferred frees: %w", err)
	}

	// 2. Step 1 only flushed handles that were already released; any handle
	// still live here means a caller leaked a reference, which Detach
	// surfaces rather than silently freeing out from under them.
	if n := s.Handles.Len(); n > 0 {
		return fmt.Errorf("%w: %d handles still live at detach", domain.ErrInvalidPrecondition, n)
	}

	// 3. Free injected wrapper code pages.
	for _, addr := range s.Table.WrapAddresses() {
		s.Backend.Free(addr)
	}

	// 4-5. Best-effort worker-thread detach, then backend detach.
	if entry, err := s.Table.Lookup("mono_thread_detach"); err == nil {
		entry.Invoke(ctx, s.Backend, s.Table.ABI, nil, []any{uint64(0)})
	}
	if err := s.Backend.Detach(); err != nil {
		return err
	}

	// 6. Mark the session dead.
	s.attached = false
	return nil
}

func findMonoModule(backend domain.Backend, hint string) (domain.ModuleInfo, error) {
	candidates := commonMonoModuleNames
	if hint != "" {
		candidates = append([]string{hint}, candidates...)
	}
	for _, name := range candidates {
		if mod, ok, err := backend.GetModule(name); err == nil && ok {
			return mod, nil
		}
	}
	return domain.ModuleInfo{}, domain.ErrMonoNotFound
}

// detectGeneration returns 2 if monoModule exports mono_free (the
// heuristic spec.md §6/§9 calls for), 1 otherwise.
func detectGeneration(backend domain.Backend, monoModule domain.ModuleInfo) int {
	if backend.HasExport(monoModule, "mono_free") {
		return 2
	}
	return 1
}

// tableFlusher adapts dispatcher.Table's free-multi trampoline and the
// backend's own allocator to the deferredfree.Flusher interface: a whole
// batch of GC handles goes out as one rmono_free_multi round trip instead of
// one mono_gchandle_free_v2 RPC per handle, and raw pointers are released
// through the backend directly since they were never Mono's to free.
type tableFlusher struct {
	table   *dispatcher.Table
	backend domain.Backend
}

func (f *tableFlusher) FlushGCHandles(ctx context.Context, handles []domain.GCHandle) error {
	if len(handles) == 0 {
		return nil
	}
	if f.table.FreeMultiAddr == domain.Null {
		// No free-multi trampoline was synthesized — mono_gchandle_free_v2
		// never resolved (pre-generation-2 target) — so fall back to one
		// RPC per handle via whatever free entry the catalog did resolve.
		entry, err := f.table.Lookup("mono_gchandle_free_v2")
		if err != nil {
			return err
		}
		for _, h := range handles {
			if _, err := entry.Invoke(ctx, f.backend, f.table.ABI, nil, []any{uint64(h)}); err != nil {
				return err
			}
		}
		return nil
	}

	width := int(f.table.ABI.GCHandleWidth())
	buf := make([]byte, width*len(handles))
	for i, h := range handles {
		putUintWidth(buf[i*width:], width, uint64(h))
	}
	scratch, err := f.backend.Alloc(uint64(len(buf)), domain.ProtReadWrite)
	if err != nil {
		return fmt.Errorf("lifecycle: allocating free-multi handle buffer: %w", err)
	}
	defer f.backend.Free(scratch)
	if err := f.backend.Write(scratch, buf); err != nil {
		return fmt.Errorf("lifecycle: writing free-multi handle buffer: %w", err)
	}
	conv := domain.CConvCdecl
	if entry, err := f.table.Lookup("mono_gchandle_free_v2"); err == nil {
		conv = entry.Def.Convention
	}
	if _, err := f.backend.RPCCall(ctx, f.table.FreeMultiAddr, conv, []uint64{uint64(scratch), uint64(len(handles))}); err != nil {
		return fmt.Errorf("lifecycle: free-multi RPC: %w", err)
	}
	return nil
}

func (f *tableFlusher) FlushRawPointers(ctx context.Context, ptrs []domain.Rptr) error {
	var firstErr error
	for _, p := range ptrs {
		if err := f.backend.Free(p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("lifecycle: freeing raw pointer: %w", err)
		}
	}
	return firstErr
}

// runtimeOps adapts a dispatcher.Table/backend pair to handle.RuntimeOps,
// letting Managed[D].Raw/Pin resolve or pin a handle without the handle
// package needing to know about dispatch tables at all.
type runtimeOps struct {
	table   *dispatcher.Table
	backend domain.Backend
}

func (o *runtimeOps) GetTarget(ctx context.Context, gc domain.GCHandle) (domain.Rptr, error) {
	result, err := o.backend.RPCCall(ctx, o.table.Boilerplate.GCHandleGetTarget, domain.CConvCdecl, []uint64{uint64(gc)})
	if err != nil {
		return domain.Null, fmt.Errorf("lifecycle: mono_gchandle_get_target_v2: %w", err)
	}
	return domain.Rptr(o.table.ABI.Widen(result)), nil
}

func (o *runtimeOps) Pin(ctx context.Context, gc domain.GCHandle) (domain.GCHandle, error) {
	entry, err := o.table.Lookup("mono_gchandle_get_target_v2")
	if err != nil {
		return domain.InvalidGCHandle, err
	}
	result, err := entry.Invoke(ctx, o.backend, o.table.ABI, nil, []any{uint64(gc)})
	if err != nil {
		return domain.InvalidGCHandle, err
	}
	return domain.GCHandle(result.(uint64)), nil
}

// putUintWidth writes v into buf's first width bytes, little-endian,
// matching the byte order abi.Traits narrows GCHandle words to elsewhere
// (domain/abi narrowing always writes least-significant byte first).
func putUintWidth(buf []byte, width int, v uint64) {
	for i := 0; i < width; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}
