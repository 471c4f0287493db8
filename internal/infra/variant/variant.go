// Package variant implements Component 5: wire-level marshalling of
// domain.Variant values into the target process's memory, following the
// "variant data block" layout of remotemono's RMonoVariant (spec.md §4.5).
// A variant is serialized as a fixed-size tagged header the target-side
// wrapper decodes. A TagValue payload either fits the header's pointer-width
// slot inline, or is referenced by a ValuePtr the caller already placed in
// target memory; this package writes nothing outside the header.
package variant

import (
	"encoding/binary"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
)

// Header layout, matching remotemono's on-wire RMonoVariant struct: a one
// byte tag, inline value storage sized to the ABI's pointer width, and (for
// ManagedRef/RawPointer) a single pointer-width slot.
//
//	offset 0: uint8  tag
//	offset 1: (padding to pointer alignment)
//	offset pointerAlign: pointer-width value (GCHandle, Rptr, an inline
//	  Value payload, or the caller-supplied ValuePtr)
const headerTagSize = 1

// Sizeof returns the number of bytes a Variant occupies in the target's
// variant data block for the given ABI, per spec.md §4.5: "the block is a
// flat array of fixed-size variant records; the inline-blob boundary is a
// parameter of the ABI, not the variant."
func Sizeof(t abi.Traits) int {
	align := t.PtrWidth()
	return align + t.PtrWidth() // tag+pad, then one pointer-width slot
}

// Serialize writes v's wire representation into buf (which must be at least
// Sizeof(t) bytes). An inline TagValue ValueBuf wider than the pointer-width
// slot is rejected with an error; nothing is written outside buf.
func Serialize(t abi.Traits, v domain.Variant, buf []byte) error {
	if len(buf) < Sizeof(t) {
		return fmt.Errorf("variant: buffer too small: have %d, need %d", len(buf), Sizeof(t))
	}
	for i := range buf {
		buf[i] = 0
	}
	if v.Null {
		buf[0] = byte(domain.TagRawPointer)
		return nil
	}
	buf[0] = byte(v.Tag)
	slot := buf[t.PtrWidth():]

	switch v.Tag {
	case domain.TagValue:
		if v.ValueBuf != nil {
			if len(v.ValueBuf) > t.PtrWidth() {
				// Caller is responsible for having already copied ValueBuf
				// into target memory and set ValuePtr/ValueLen instead; an
				// inline blob wider than a pointer can't fit in the header.
				return fmt.Errorf("variant: inline value too large (%d bytes); serialize out-of-line first", len(v.ValueBuf))
			}
			copy(slot, v.ValueBuf)
			return nil
		}
		putUint(slot, t.PtrWidth(), uint64(v.ValuePtr))
	case domain.TagManagedRef:
		var gc domain.GCHandle
		if v.Managed != nil {
			gc = v.Managed.GCHandle()
		}
		narrowed := abi.AssertFits(t, uint64(gc))
		putUint(slot, t.PtrWidth(), narrowed)
	case domain.TagRawPointer:
		narrowed := abi.AssertFits(t, uint64(v.RawValue))
		putUint(slot, t.PtrWidth(), narrowed)
	default:
		return fmt.Errorf("%w: tag %s", domain.ErrInvalidPrecondition, v.Tag)
	}
	return nil
}

// Update reads an Out/InOut Variant's wire representation back out of buf
// after a call returns, writing the result into the Variant's out slot
// (spec.md §4.5: "Out and InOut variants are re-read from the data block
// after the call, never trusted from the pre-call copy").
func Update(t abi.Traits, buf []byte, v *domain.Variant) error {
	if len(buf) < Sizeof(t) {
		return fmt.Errorf("variant: buffer too small: have %d, need %d", len(buf), Sizeof(t))
	}
	tag := domain.VariantTag(buf[0])
	slot := buf[t.PtrWidth():]

	switch tag {
	case domain.TagManagedRef:
		raw := t.Widen(getUint(slot, t.PtrWidth()))
		if v.OutSlot != nil {
			*v.OutSlot = gcHandleValue(domain.GCHandle(raw))
		}
	case domain.TagRawPointer:
		raw := t.Widen(getUint(slot, t.PtrWidth()))
		if v.RawSlot != nil {
			*v.RawSlot = domain.Rptr(raw)
		}
	case domain.TagValue:
		raw := t.Widen(getUint(slot, t.PtrWidth()))
		v.ValuePtr = domain.Rptr(raw)
	}
	v.Tag = tag
	return nil
}

// gcHandleValue adapts a raw domain.GCHandle into the domain.ManagedHandle
// interface so Update can populate an OutSlot without depending on the
// handle package (avoiding the same import-cycle concern documented on
// domain.ManagedHandle).
type gcHandleValue domain.GCHandle

func (g gcHandleValue) GCHandle() domain.GCHandle { return domain.GCHandle(g) }

func putUint(buf []byte, width int, v uint64) {
	switch width {
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	default:
		panic(fmt.Sprintf("variant: unsupported pointer width %d", width))
	}
}

func getUint(buf []byte, width int) uint64 {
	switch width {
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	default:
		panic(fmt.Sprintf("variant: unsupported pointer width %d", width))
	}
}

// SerializeArray writes a VariantArray's variant records back to back into
// buf, returning an error if any record cannot be serialized.
// Used by infra/function when a parameter's ArgKind is KindVariantArray
// (spec.md §4.5's "variant arrays are the data block of a normal C array of
// RMonoVariant, never a managed array").
func SerializeArray(t abi.Traits, arr domain.VariantArray, buf []byte) error {
	if arr.Null {
		return nil
	}
	stride := Sizeof(t)
	if len(buf) < stride*len(arr.Items) {
		return fmt.Errorf("variant: array buffer too small: have %d, need %d", len(buf), stride*len(arr.Items))
	}
	for i, item := range arr.Items {
		if err := Serialize(t, item, buf[i*stride:(i+1)*stride]); err != nil {
			return fmt.Errorf("variant: array item %d: %w", i, err)
		}
	}
	return nil
}

// UpdateArray is Update's array counterpart, re-reading every element back
// out of the target's data block after the call.
func UpdateArray(t abi.Traits, buf []byte, arr *domain.VariantArray) error {
	if arr.Null {
		return nil
	}
	stride := Sizeof(t)
	for i := range arr.Items {
		if err := Update(t, buf[i*stride:(i+1)*stride], &arr.Items[i]); err != nil {
			return fmt.Errorf("variant: array item %d: %w", i, err)
		}
	}
	return nil
}
