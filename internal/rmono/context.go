package rmono

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/handle"
	"github.com/tutu-network/rmono/internal/infra/lifecycle"
)

// Context is one attached Mono runtime session. It owns the underlying
// lifecycle.Session and hands out handle.Raw/handle.Managed values scoped
// to it; a handle obtained from one Context must never be passed to
// another.
type Context struct {
	sess    *lifecycle.Session
	scratch *backendScratch
}

// Attach locates, resolves and attaches to target's Mono runtime, returning
// a ready-to-use Context. See lifecycle.Attach for the nine-step sequence.
func Attach(ctx context.Context, backend domain.Backend, target any, opts lifecycle.Options) (*Context, error) {
	sess, err := lifecycle.Attach(ctx, backend, target, opts)
	if err != nil {
		return nil, err
	}
	return &Context{sess: sess, scratch: &backendScratch{backend: backend}}, nil
}

// Close runs the six-step detach sequence, refusing to proceed while any
// handle obtained from this Context is still live (see lifecycle.Detach).
func (c *Context) Close(ctx context.Context) error {
	return c.sess.Detach(ctx)
}

// ID returns this attachment's unique session identifier, for correlating
// log lines and metrics across an attach/detach lifetime when a process
// hosts more than one rmono.Context concurrently.
func (c *Context) ID() uuid.UUID { return c.sess.ID }

// RootDomain returns the application domain the target's runtime was
// initialized with, resolved once at Attach and cached on the session.
func (c *Context) RootDomain() handle.Raw[Domain] {
	return handle.NewRaw[Domain](c.sess.Handles, "Domain", c.sess.RootDomain)
}

func (c *Context) call(ctx context.Context, name string, args ...any) (any, error) {
	entry, err := c.sess.Table.Lookup(name)
	if err != nil {
		return nil, err
	}
	return entry.Invoke(ctx, c.sess.Backend, c.sess.Table.ABI, c.scratch, args)
}

// backendScratch adapts domain.Backend's Alloc/Free to function.ScratchAllocator
// for wrapped-call data blocks; SPEC_FULL.md §4.6 allows swapping in a
// pre-reserved per-thread region later without touching call sites.
type backendScratch struct {
	backend domain.Backend
}

func (s *backendScratch) Alloc(size uint64) (domain.Rptr, error) {
	return s.backend.Alloc(size, domain.ProtReadWrite)
}

func (s *backendScratch) Free(addr domain.Rptr) error {
	return s.backend.Free(addr)
}

// allocScratch allocates a zeroed size-byte buffer in the target for a
// value-type blob (a field value, an array element) and returns its address
// plus a release func.
func (c *Context) allocScratch(size uint64) (domain.Rptr, func(), error) {
	addr, err := c.sess.Backend.Alloc(size, domain.ProtReadWrite)
	if err != nil {
		return domain.Null, nil, fmt.Errorf("rmono: allocating scratch: %w", err)
	}
	return addr, func() { c.sess.Backend.Free(addr) }, nil
}

// writeCString allocates a null-terminated UTF-8 buffer in the target and
// returns its address plus a release func the caller must invoke once the
// call that consumed it has returned.
func (c *Context) writeCString(s string) (domain.Rptr, func(), error) {
	data := append([]byte(s), 0)
	addr, err := c.sess.Backend.Alloc(uint64(len(data)), domain.ProtReadWrite)
	if err != nil {
		return domain.Null, nil, fmt.Errorf("rmono: allocating string %q: %w", s, err)
	}
	if err := c.sess.Backend.Write(addr, data); err != nil {
		c.sess.Backend.Free(addr)
		return domain.Null, nil, fmt.Errorf("rmono: writing string %q: %w", s, err)
	}
	return addr, func() { c.sess.Backend.Free(addr) }, nil
}

// writeBytes allocates a target buffer of len(data) bytes and copies data
// into it verbatim — the non-null-terminated counterpart to writeCString,
// used for fixed-width encoded payloads (UTF-16/UTF-32 string contents)
// where a trailing NUL would corrupt the last code unit.
func (c *Context) writeBytes(data []byte) (domain.Rptr, func(), error) {
	addr, err := c.sess.Backend.Alloc(uint64(len(data)), domain.ProtReadWrite)
	if err != nil {
		return domain.Null, nil, fmt.Errorf("rmono: allocating %d bytes: %w", len(data), err)
	}
	if err := c.sess.Backend.Write(addr, data); err != nil {
		c.sess.Backend.Free(addr)
		return domain.Null, nil, fmt.Errorf("rmono: writing %d bytes: %w", len(data), err)
	}
	return addr, func() { c.sess.Backend.Free(addr) }, nil
}
