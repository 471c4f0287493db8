// Package function implements Component 6: the function-entry model that
// gives every Mono embedding API function three views — raw (the target's
// native C signature), wrap (a synthesized trampoline that marshals
// variants/managed refs/string returns), and API (the ergonomic Go call
// rmono's facade exposes) — resolved from a data-driven domain.FunctionDef
// table instead of the C++ template metaprogramming the original project
// uses for the same job (spec.md §4.6, §9's accepted alternative).
package function

import (
	"context"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
)

// Entry binds a domain.FunctionDef to a located raw export and, when the
// definition needs marshalling, a synthesized wrap trampoline living in
// target memory.
type Entry struct {
	Def     domain.FunctionDef
	RawAddr domain.Rptr
	WrapAddr domain.Rptr // domain.Null unless Def.NeedsWrap()
	WrapCode []byte      // emitted machine code, valid once resolved, before injection
}

// NeedsWrap mirrors Def.NeedsWrap for callers that only have an *Entry.
func (e *Entry) NeedsWrap() bool { return e.Def.NeedsWrap() }

// Invoke calls the function with args in API-view order (one Go value per
// domain.ParamDef, typed per its ArgKind — see argToUint64/uint64ToResult),
// returning the API-view result. Context is honored as a cancellation point
// before the call is issued; once RPCCall is in flight it runs to
// completion, matching spec.md §4.10's "a call, once dispatched to the
// worker thread, is not interruptible; canceling only prevents starting the
// next one."
func (e *Entry) Invoke(ctx context.Context, backend domain.Backend, traits abi.Traits, scratch ScratchAllocator, args []any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(args) != len(e.Def.Params) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", domain.ErrArityMismatch, e.Def.Name, len(e.Def.Params), len(args))
	}

	if !e.NeedsWrap() {
		return e.invokeRaw(ctx, backend, traits, args)
	}
	return e.invokeWrapped(ctx, backend, traits, scratch, args)
}

// invokeRaw handles the common case where every parameter and the return
// are KindPrimitive or KindRawPointer: no data block, no handle unboxing,
// just narrow-call-widen.
func (e *Entry) invokeRaw(ctx context.Context, backend domain.Backend, traits abi.Traits, args []any) (any, error) {
	raw := make([]uint64, len(args))
	for i, a := range args {
		v, err := argToUint64(traits, e.Def.Params[i].Kind, a)
		if err != nil {
			return nil, fmt.Errorf("%s: arg %d (%s): %w", e.Def.Name, i, e.Def.Params[i].Name, err)
		}
		raw[i] = v
	}
	result, err := backend.RPCCall(ctx, e.RawAddr, e.Def.Convention, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", e.Def.Name, domain.ErrBackendFailure, err)
	}
	return uint64ToResult(traits, e.Def.Return.Kind, result), nil
}

// argToUint64 narrows one API-view argument to the value RPCCall's raw
// integer-argument slot should carry, for the ArgKinds that never need a
// data block.
func argToUint64(traits abi.Traits, kind domain.ArgKind, a any) (uint64, error) {
	switch kind {
	case domain.KindPrimitive:
		switch v := a.(type) {
		case uint64:
			return v, nil
		case int64:
			return uint64(v), nil
		case int:
			return uint64(v), nil
		case bool:
			if v {
				return 1, nil
			}
			return 0, nil
		default:
			return 0, fmt.Errorf("%w: unsupported primitive argument type %T", domain.ErrInvalidPrecondition, a)
		}
	case domain.KindRawPointer:
		p, ok := a.(domain.Rptr)
		if !ok {
			return 0, fmt.Errorf("%w: expected domain.Rptr, got %T", domain.ErrInvalidPrecondition, a)
		}
		return abi.AssertFits(traits, uint64(p)), nil
	default:
		return 0, fmt.Errorf("%w: argToUint64 called for marshalled kind %s", domain.ErrInvalidPrecondition, kind)
	}
}

func uint64ToResult(traits abi.Traits, kind domain.ArgKind, raw uint64) any {
	switch kind {
	case domain.KindRawPointer:
		return domain.Rptr(traits.Widen(raw))
	default:
		return raw
	}
}

// ScratchAllocator allocates and frees a temporary target-memory buffer for
// one call's variant data block; internal/rmono supplies the implementation
// (backendScratch), which allocates and frees through the backend on every
// call.
type ScratchAllocator interface {
	Alloc(size uint64) (domain.Rptr, error)
	Free(addr domain.Rptr) error
}
