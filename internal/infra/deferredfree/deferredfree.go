// Package deferredfree queues GC-handle and raw-pointer frees and hands each
// kind to a Flusher as one batch, instead of issuing one RPCCall per release —
// spec.md §4.8's "releases are common enough, and each one cheap enough on
// the target side, that a per-release round trip would dominate overall
// latency; buffer them and flush in one call." Grounded on the teacher's
// engine.Pool eviction batching (internal/infra/engine/pool.go evicts
// several LRU entries per pass rather than one at a time).
package deferredfree

import (
	"context"
	"fmt"
	"sync"

	"github.com/tutu-network/rmono/internal/domain"
)

// Flusher releases one batch of each kind. infra/lifecycle's implementation
// frees a GC-handle batch with a single call to the synthesized free-multi
// trampoline, and frees raw pointers with one backend.Free call each; a
// raw-pointer batch is not sent to the target as a single call.
type Flusher interface {
	FlushGCHandles(ctx context.Context, handles []domain.GCHandle) error
	FlushRawPointers(ctx context.Context, ptrs []domain.Rptr) error
}

// Buffer accumulates pending frees up to Max entries (per kind) before
// auto-flushing, and can always be flushed early via Flush.
type Buffer struct {
	mu      sync.Mutex
	flusher Flusher
	max     int

	gcHandles []domain.GCHandle
	rawPtrs   []domain.Rptr
}

// DefaultMax and AbsoluteMax match SPEC_FULL.md §4.8 / the config package's
// documented bounds: 256 is a reasonable default batch size, and the config
// loader refuses anything above 256 to keep one flush's wrapper call inside
// a single invocation-context data block.
const (
	DefaultMax  = 256
	AbsoluteMax = 256
)

func New(flusher Flusher, max int) (*Buffer, error) {
	if max <= 0 || max > AbsoluteMax {
		return nil, fmt.Errorf("%w: deferred-free buffer max must be in (0, %d], got %d", domain.ErrInvalidPrecondition, AbsoluteMax, max)
	}
	return &Buffer{flusher: flusher, max: max}, nil
}

// QueueGCHandle adds h to the pending batch, then flushes the whole batch
// (h included) synchronously once it has reached capacity.
func (b *Buffer) QueueGCHandle(ctx context.Context, h domain.GCHandle) error {
	b.mu.Lock()
	b.gcHandles = append(b.gcHandles, h)
	full := len(b.gcHandles) >= b.max
	b.mu.Unlock()
	if full {
		return b.flushGCHandles(ctx)
	}
	return nil
}

func (b *Buffer) QueueRawPointer(ctx context.Context, p domain.Rptr) error {
	b.mu.Lock()
	b.rawPtrs = append(b.rawPtrs, p)
	full := len(b.rawPtrs) >= b.max
	b.mu.Unlock()
	if full {
		return b.flushRawPointers(ctx)
	}
	return nil
}

func (b *Buffer) flushGCHandles(ctx context.Context) error {
	b.mu.Lock()
	batch := b.gcHandles
	b.gcHandles = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := b.flusher.FlushGCHandles(ctx, batch); err != nil {
		return fmt.Errorf("deferredfree: flushing %d GC handles: %w", len(batch), err)
	}
	return nil
}

func (b *Buffer) flushRawPointers(ctx context.Context) error {
	b.mu.Lock()
	batch := b.rawPtrs
	b.rawPtrs = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := b.flusher.FlushRawPointers(ctx, batch); err != nil {
		return fmt.Errorf("deferredfree: flushing %d raw pointers: %w", len(batch), err)
	}
	return nil
}

// Flush drains both pending batches regardless of size, called by
// infra/lifecycle before detach so no handle leaks past the session
// boundary (spec.md §4.8's "detach always flushes, even an empty or
// half-full buffer").
func (b *Buffer) Flush(ctx context.Context) error {
	if err := b.flushGCHandles(ctx); err != nil {
		return err
	}
	return b.flushRawPointers(ctx)
}

// Pending reports the number of entries queued but not yet flushed, of
// each kind, for metrics and tests.
func (b *Buffer) Pending() (gcHandles, rawPtrs int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.gcHandles), len(b.rawPtrs)
}
