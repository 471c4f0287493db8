// Package handle implements Component 4: reference-counted handles standing
// in for objects that live in the target process, so that callers in the
// controller process never hold a raw managed pointer across a call
// boundary (spec.md §4.4). The refcount-plus-ledger design is grounded on
// the teacher's engine.Pool (internal/infra/engine/pool.go), adapted from
// "evict the least-recently-used loaded model" to "free the GC handle once
// its last reference drops".
package handle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tutu-network/rmono/internal/domain"
)

// RuntimeOps is the narrow slice of the dispatch table a Managed[D] needs to
// resolve or pin itself, supplied by infra/lifecycle at registry-creation
// time so this package never has to know about dispatcher.Table or
// function.Entry directly (spec.md §4.4's pin()/raw() accessors).
type RuntimeOps interface {
	// GetTarget resolves a GC handle to the raw object pointer it currently
	// wraps, valid only until the next point the target's GC could run.
	GetTarget(ctx context.Context, gc domain.GCHandle) (domain.Rptr, error)
	// Pin resolves gc's target and registers a fresh, pinned GC handle for
	// it, returning the new handle.
	Pin(ctx context.Context, gc domain.GCHandle) (domain.GCHandle, error)
}

// id is a process-local identifier handed out to controller code; it never
// crosses into the target process — only the GCHandle or raw Rptr it wraps
// does.
type id uint64

// Raw is a reference-counted handle over a non-managed target-process
// resource (e.g. a target-allocated buffer) identified by an domain.Rptr.
// D is the handle's "domain tag" — Object, String, Array, Class, Method,
// Field, Property, Image, Assembly, Domain — used only to prevent mixing handle
// kinds at compile time; it carries no runtime state.
type Raw[D any] struct {
	reg *Registry
	id  id
}

// Valid reports whether the handle has not yet been freed.
func (h Raw[D]) Valid() bool {
	if h.reg == nil {
		return false
	}
	_, ok := h.reg.lookup(h.id)
	return ok
}

// Pointer returns the target-process address this handle wraps. Returns
// domain.ErrInvalidHandle once the handle has been freed.
func (h Raw[D]) Pointer() (domain.Rptr, error) {
	if h.reg == nil {
		return domain.Null, domain.ErrInvalidHandle
	}
	e, ok := h.reg.lookup(h.id)
	if !ok {
		return domain.Null, domain.ErrInvalidHandle
	}
	return e.rptr, nil
}

// Equal reports whether two handles refer to the same target-process
// resource — not whether they are the same Go value, since a registry may
// hand out a fresh Raw[D] per NewRaw or RetainRaw call (spec.md §4.4's "handle
// identity is by wrapped value, not by handle object").
func (h Raw[D]) Equal(other Raw[D]) bool {
	pa, errA := h.Pointer()
	pb, errB := other.Pointer()
	return errA == nil && errB == nil && pa == pb
}

// Managed is a reference-counted handle over a managed object, pinned
// against GC relocation/collection via a domain.GCHandle (spec.md §4.4).
type Managed[D any] struct {
	reg *Registry
	id  id
}

func (h Managed[D]) Valid() bool {
	if h.reg == nil {
		return false
	}
	_, ok := h.reg.lookup(h.id)
	return ok
}

// GCHandle returns the underlying GC handle, satisfying domain.ManagedHandle
// so the variant/function packages can serialize a Managed[D] without
// importing this package (avoiding an import cycle: this package itself
// never needs domain.Variant).
func (h Managed[D]) GCHandle() domain.GCHandle {
	if h.reg == nil {
		return domain.InvalidGCHandle
	}
	e, ok := h.reg.lookup(h.id)
	if !ok {
		return domain.InvalidGCHandle
	}
	return e.gchandle
}

func (h Managed[D]) Equal(other Managed[D]) bool {
	return h.GCHandle() != domain.InvalidGCHandle && h.GCHandle() == other.GCHandle()
}

// Raw resolves the handle's current target-process object address. The
// result is only valid transiently — the target's GC may relocate or
// collect the object the instant control returns to it — so callers must
// not retain it across any subsequent call into the target (spec.md §4.4:
// "raw() hands back a pointer good for the current call only").
func (h Managed[D]) Raw(ctx context.Context) (domain.Rptr, error) {
	if h.reg == nil || h.reg.ops == nil {
		return domain.Null, domain.ErrInvalidHandle
	}
	e, ok := h.reg.lookup(h.id)
	if !ok {
		return domain.Null, domain.ErrInvalidHandle
	}
	return h.reg.ops.GetTarget(ctx, e.gchandle)
}

// Pin resolves the handle's current target and registers a brand-new,
// independently-refcounted Managed[D] over a pinned GC handle for it. The
// original handle is untouched; callers that no longer need the movable
// handle release it themselves (spec.md §4.4's pin()/raw() split: pinning
// never mutates the handle it was called on).
func (h Managed[D]) Pin(ctx context.Context) (Managed[D], error) {
	if h.reg == nil || h.reg.ops == nil {
		return Managed[D]{}, domain.ErrInvalidHandle
	}
	e, ok := h.reg.lookup(h.id)
	if !ok {
		return Managed[D]{}, domain.ErrInvalidHandle
	}
	pinned, err := h.reg.ops.Pin(ctx, e.gchandle)
	if err != nil {
		return Managed[D]{}, err
	}
	return NewManaged[D](h.reg, e.kind, pinned), nil
}

type entry struct {
	refcount int32
	rptr     domain.Rptr      // set for Raw handles
	gchandle domain.GCHandle  // set for Managed handles
	kind     string           // type name, for diagnostics
}

// FreeFunc is called exactly once, when an entry's refcount reaches zero.
// It is supplied by infra/lifecycle or infra/deferredfree, never by this
// package, so that handle never needs to know how to talk to the target.
type FreeFunc func(e FreedEntry)

// FreedEntry is what a FreeFunc receives: enough to issue mono_gchandle_free
// or an raw deallocation, without exposing the registry's internals.
type FreedEntry struct {
	Rptr     domain.Rptr
	GCHandle domain.GCHandle
	Kind     string
}

// Registry is the live-handle ledger: one per attached Context (spec.md
// §4.4, "one registry per attachment session"). It is safe for concurrent
// use; the single-worker-thread serialization model (spec.md §4.10) means
// contention is rare, but CLI and background health checks may both query
// handle validity.
type Registry struct {
	mu      sync.Mutex
	entries map[id]*entry
	nextID  uint64
	onFree  FreeFunc
	ops     RuntimeOps
}

// NewRegistry creates a registry backed by onFree for reclamation and ops
// for the Managed[D].Raw/Pin accessors. ops may be nil for registries that
// never need to resolve or pin a handle post-registration (e.g. tests
// exercising only refcounting).
func NewRegistry(onFree FreeFunc, ops RuntimeOps) *Registry {
	return &Registry{entries: map[id]*entry{}, onFree: onFree, ops: ops}
}

func (r *Registry) lookup(i id) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[i]
	return e, ok
}

func (r *Registry) alloc(kind string) id {
	return id(atomic.AddUint64(&r.nextID, 1))
}

// NewRaw registers a fresh Raw handle with refcount 1.
func NewRaw[D any](r *Registry, kind string, rptr domain.Rptr) Raw[D] {
	i := r.alloc(kind)
	r.mu.Lock()
	r.entries[i] = &entry{refcount: 1, rptr: rptr, kind: kind}
	r.mu.Unlock()
	return Raw[D]{reg: r, id: i}
}

// NewManaged registers a fresh Managed handle with refcount 1.
func NewManaged[D any](r *Registry, kind string, gc domain.GCHandle) Managed[D] {
	i := r.alloc(kind)
	r.mu.Lock()
	r.entries[i] = &entry{refcount: 1, gchandle: gc, kind: kind}
	r.mu.Unlock()
	return Managed[D]{reg: r, id: i}
}

// RetainRaw increments the refcount of a Raw handle, returning a new Go value
// that shares the same underlying entry (spec.md §4.4: "retaining a handle
// never reallocates the target resource").
func (r *Registry) RetainRaw(h Raw[any]) (Raw[any], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h.id]
	if !ok {
		return Raw[any]{}, domain.ErrInvalidHandle
	}
	atomic.AddInt32(&e.refcount, 1)
	return Raw[any]{reg: r, id: h.id}, nil
}

// Release decrements an entry's refcount and calls onFree exactly once when
// it reaches zero. Calling Release on an already-freed handle is a no-op
// returning domain.ErrInvalidHandle, matching spec.md §4.4's "double free is
// reported, never silently ignored, never a crash."
func (r *Registry) release(i id) error {
	r.mu.Lock()
	e, ok := r.entries[i]
	if !ok {
		r.mu.Unlock()
		return domain.ErrInvalidHandle
	}
	remaining := atomic.AddInt32(&e.refcount, -1)
	if remaining < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: refcount underflow on %s handle", domain.ErrInvalidHandle, e.kind)
	}
	if remaining > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, i)
	r.mu.Unlock()
	if r.onFree != nil {
		r.onFree(FreedEntry{Rptr: e.rptr, GCHandle: e.gchandle, Kind: e.kind})
	}
	return nil
}

func (h Raw[D]) Release() error {
	if h.reg == nil {
		return domain.ErrInvalidHandle
	}
	return h.reg.release(h.id)
}

func (h Managed[D]) Release() error {
	if h.reg == nil {
		return domain.ErrInvalidHandle
	}
	return h.reg.release(h.id)
}

// Len reports the number of live entries, exposed for metrics and tests
// (spec.md §4.4's leak-detection hook: "a test harness can assert the
// registry is empty after detach").
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
