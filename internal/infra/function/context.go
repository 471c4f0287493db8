package function

import (
	"context"
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
	"github.com/tutu-network/rmono/internal/infra/variant"
)

// stringReturnScratch is the scratch capacity reserved for a string-return
// hidden out-parameter: a uint32 length prefix followed by up to this many
// payload bytes. postReturn reads at most this many bytes, so a longer string
// comes back cut at stringReturnScratch bytes; the remainder is not read.
const stringReturnScratch = 4096

// invocationContext describes the target-memory data block one wrapped call
// needs: a byte offset per parameter/return slot that requires one, and the
// slot's size.
type invocationContext struct {
	traits abi.Traits
	def    domain.FunctionDef

	paramOffset  []int // -1 when the parameter needs no slot
	paramSize    []int
	packOffset   []int // KindVariantArray only: the parallel packed raw-value buffer the trampoline writes resolved elements into and mono_runtime_invoke reads its params from; -1 otherwise
	packSize     []int
	returnOffset int
	returnSize   int
	total        int
}

// sizeInvocation is the "sizing pass": walk the definition once to compute
// every slot's offset before any memory is touched (spec.md §4.6's three
// invocation-context passes: size, fill, post).
func sizeInvocation(traits abi.Traits, def domain.FunctionDef, args []any) (*invocationContext, error) {
	ic := &invocationContext{
		traits:      traits,
		def:         def,
		paramOffset: make([]int, len(def.Params)),
		paramSize:   make([]int, len(def.Params)),
		packOffset:  make([]int, len(def.Params)),
		packSize:    make([]int, len(def.Params)),
	}
	offset := 0
	for i, p := range def.Params {
		ic.packOffset[i] = -1
		switch p.Kind {
		case domain.KindVariant:
			ic.paramOffset[i] = offset
			ic.paramSize[i] = variant.Sizeof(traits)
			offset += ic.paramSize[i]
		case domain.KindVariantArray:
			arr, ok := args[i].(domain.VariantArray)
			if !ok {
				return nil, fmt.Errorf("%w: arg %d expected domain.VariantArray, got %T", domain.ErrInvalidPrecondition, i, args[i])
			}
			ic.paramOffset[i] = offset
			// One extra trailing record, left zeroed by variant.SerializeArray
			// never touching it, so its tag byte reads as TagInvalid (0) and
			// the synthesized trampoline's element loop has a sentinel to stop
			// on without the wrapper ever telling it the element count.
			ic.paramSize[i] = variant.Sizeof(traits) * (len(arr.Items) + 1)
			offset += ic.paramSize[i]
			ic.packOffset[i] = offset
			ic.packSize[i] = traits.PtrWidth() * len(arr.Items)
			offset += ic.packSize[i]
		default:
			ic.paramOffset[i] = -1
		}
	}
	switch def.Return.Kind {
	case domain.KindVariant:
		ic.returnOffset = offset
		ic.returnSize = variant.Sizeof(traits)
		offset += ic.returnSize
	case domain.KindStringReturn, domain.KindU16StringReturn, domain.KindU32StringReturn:
		ic.returnOffset = offset
		ic.returnSize = 4 + stringReturnScratch
		offset += ic.returnSize
	default:
		ic.returnOffset = -1
	}
	ic.total = offset
	return ic, nil
}

// invokeWrapped runs the "fill, call, post" passes against a wrap-view
// entry: allocate the data block, serialize marshalled arguments into it,
// call the synthesized trampoline, then read marshalled results back out.
func (e *Entry) invokeWrapped(ctx context.Context, backend domain.Backend, traits abi.Traits, scratch ScratchAllocator, args []any) (any, error) {
	ic, err := sizeInvocation(traits, e.Def, args)
	if err != nil {
		return nil, err
	}

	var block domain.Rptr
	if ic.total > 0 {
		block, err = scratch.Alloc(uint64(ic.total))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Def.Name, err)
		}
		defer scratch.Free(block)
	}

	buf := make([]byte, ic.total)
	wrapArgs := make([]uint64, 0, len(args)+1)

	for i, p := range e.Def.Params {
		switch p.Kind {
		case domain.KindManagedRef:
			mh, ok := args[i].(domain.ManagedHandle)
			if !ok {
				return nil, fmt.Errorf("%w: arg %d (%s) expected domain.ManagedHandle, got %T", domain.ErrInvalidPrecondition, i, p.Name, args[i])
			}
			wrapArgs = append(wrapArgs, abi.AssertFits(traits, uint64(mh.GCHandle())))
		case domain.KindVariant:
			v, ok := args[i].(domain.Variant)
			if !ok {
				return nil, fmt.Errorf("%w: arg %d (%s) expected domain.Variant, got %T", domain.ErrInvalidPrecondition, i, p.Name, args[i])
			}
			off := ic.paramOffset[i]
			if err := variant.Serialize(traits, v, buf[off:off+ic.paramSize[i]]); err != nil {
				return nil, fmt.Errorf("%s: arg %d: %w", e.Def.Name, i, err)
			}
			wrapArgs = append(wrapArgs, abi.AssertFits(traits, uint64(block)+uint64(off)))
		case domain.KindVariantArray:
			arr := args[i].(domain.VariantArray)
			off := ic.paramOffset[i]
			if err := variant.SerializeArray(traits, arr, buf[off:off+ic.paramSize[i]]); err != nil {
				return nil, fmt.Errorf("%s: arg %d: %w", e.Def.Name, i, err)
			}
			wrapArgs = append(wrapArgs, abi.AssertFits(traits, uint64(block)+uint64(off)))
			wrapArgs = append(wrapArgs, abi.AssertFits(traits, uint64(block)+uint64(ic.packOffset[i])))
		default:
			v, err := argToUint64(traits, p.Kind, args[i])
			if err != nil {
				return nil, fmt.Errorf("%s: arg %d: %w", e.Def.Name, i, err)
			}
			wrapArgs = append(wrapArgs, v)
		}
	}

	if ic.returnOffset >= 0 {
		wrapArgs = append(wrapArgs, abi.AssertFits(traits, uint64(block)+uint64(ic.returnOffset)))
	}

	if ic.total > 0 {
		if err := backend.Write(block, buf); err != nil {
			return nil, fmt.Errorf("%s: write data block: %w", e.Def.Name, err)
		}
	}

	rawResult, err := backend.RPCCall(ctx, e.WrapAddr, e.Def.Convention, wrapArgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", e.Def.Name, domain.ErrBackendFailure, err)
	}

	if ic.total > 0 {
		buf, err = backend.Read(block, uint64(ic.total))
		if err != nil {
			return nil, fmt.Errorf("%s: read data block: %w", e.Def.Name, err)
		}
	}

	for i, p := range e.Def.Params {
		if p.Kind != domain.KindVariant && p.Kind != domain.KindVariantArray {
			continue
		}
		dir := p.Tag.Direction()
		if dir == domain.DirIn {
			continue
		}
		off := ic.paramOffset[i]
		switch p.Kind {
		case domain.KindVariant:
			v := args[i].(domain.Variant)
			if err := variant.Update(traits, buf[off:off+ic.paramSize[i]], &v); err != nil {
				return nil, fmt.Errorf("%s: arg %d post: %w", e.Def.Name, i, err)
			}
		case domain.KindVariantArray:
			arr := args[i].(domain.VariantArray)
			if err := variant.UpdateArray(traits, buf[off:off+ic.paramSize[i]], &arr); err != nil {
				return nil, fmt.Errorf("%s: arg %d post: %w", e.Def.Name, i, err)
			}
		}
	}

	return e.postReturn(traits, ic, buf, rawResult)
}

func (e *Entry) postReturn(traits abi.Traits, ic *invocationContext, buf []byte, rawResult uint64) (any, error) {
	switch e.Def.Return.Kind {
	case domain.KindVariant:
		v := domain.Variant{}
		if err := variant.Update(traits, buf[ic.returnOffset:ic.returnOffset+ic.returnSize], &v); err != nil {
			return nil, fmt.Errorf("%s: return: %w", e.Def.Name, err)
		}
		return v, nil
	case domain.KindStringReturn, domain.KindU16StringReturn, domain.KindU32StringReturn:
		slot := buf[ic.returnOffset : ic.returnOffset+ic.returnSize]
		n := binary.LittleEndian.Uint32(slot[:4])
		if n > stringReturnScratch {
			n = stringReturnScratch
		}
		return decodeString(e.Def.Return.Kind, slot[4:4+n]), nil
	default:
		return uint64ToResult(traits, e.Def.Return.Kind, rawResult), nil
	}
}

func decodeString(kind domain.ArgKind, payload []byte) string {
	switch kind {
	case domain.KindU16StringReturn:
		u16 := make([]uint16, len(payload)/2)
		for i := range u16 {
			u16[i] = binary.LittleEndian.Uint16(payload[i*2:])
		}
		return string(utf16.Decode(u16))
	case domain.KindU32StringReturn:
		r := make([]rune, len(payload)/4)
		for i := range r {
			r[i] = rune(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		return string(r)
	default:
		return string(payload)
	}
}
