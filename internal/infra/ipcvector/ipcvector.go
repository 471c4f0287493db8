// Package ipcvector implements Component 3: a dynamically-growing array
// allocated in the target process's memory, used as the sink for Mono
// enumeration APIs (mono_class_foreach-style callbacks write elements into
// it; the controller reads them back afterward). Growth is driven entirely
// from the controller side — it is a thin remote-memory data structure, not
// synthesized code, grounded the same way the teacher's engine.Pool manages
// an in-process slice of entries, here reimplemented against domain.Backend
// remote reads/writes instead of local memory (spec.md §4.3).
package ipcvector

import (
	"encoding/binary"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
)

// header is the on-wire layout written at the start of the target
// allocation: length, capacity and a write cursor, each one pointer-width
// field, followed immediately by the element storage.
//
//	offset 0:               length  (pointer-width, element count)
//	offset ptrWidth:        capacity (pointer-width, element count)
//	offset 2*ptrWidth:      cursor (pointer-width, absolute address of the
//	                        next free element slot)
//	offset 3*ptrWidth:      element 0 ...
//
// cursor exists because the synthesized foreach-collector trampoline
// (infra/function's GenerateForeachCollector) has no multiply instruction
// available to turn a runtime element count into a byte offset, nor a
// register-to-register add to combine that offset with the vector's base
// address: an absolute address it can advance by a compile-time-constant
// elemSize via plain AddRegImm sidesteps both restrictions entirely.
const headerFields = 3

// Vector manages one target-allocated growable array of fixed-width
// elements (elemSize bytes each — a pointer, a GC handle, or a small value
// blob depending on what the enumeration API being driven produces).
type Vector struct {
	backend  domain.Backend
	traits   abi.Traits
	elemSize int
	addr     domain.Rptr
	cap      int
}

// New allocates a fresh vector in the target with room for at least
// initialCap elements (spec.md §4.3: "callers size the initial capacity
// from a cheap preflight count when the Mono API offers one, and grow
// otherwise").
func New(backend domain.Backend, traits abi.Traits, elemSize, initialCap int) (*Vector, error) {
	if initialCap < 1 {
		initialCap = 1
	}
	v := &Vector{backend: backend, traits: traits, elemSize: elemSize}
	if err := v.alloc(initialCap); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vector) headerSize() int { return headerFields * v.traits.PtrWidth() }

func (v *Vector) alloc(cap int) error {
	total := uint64(v.headerSize() + cap*v.elemSize)
	addr, err := v.backend.Alloc(total, domain.ProtReadWrite)
	if err != nil {
		return fmt.Errorf("ipcvector: alloc %d bytes: %w", total, err)
	}
	w := v.traits.PtrWidth()
	header := make([]byte, v.headerSize())
	putUint(header[0:w], w, 0)
	putUint(header[w:2*w], w, uint64(cap))
	putUint(header[2*w:3*w], w, uint64(addr)+uint64(v.headerSize()))
	if err := v.backend.Write(addr, header); err != nil {
		v.backend.Free(addr)
		return fmt.Errorf("ipcvector: write header: %w", err)
	}
	v.addr = addr
	v.cap = cap
	return nil
}

// CursorFieldOffset returns the byte offset, relative to Addr(), of the
// cursor field GenerateForeachCollector advances on every append.
func (v *Vector) CursorFieldOffset() int32 { return int32(2 * v.traits.PtrWidth()) }

// ElemSize returns the fixed per-element width this vector was constructed
// with, the compile-time increment GenerateForeachCollector adds to the
// cursor after every append.
func (v *Vector) ElemSize() int { return v.elemSize }

// Addr returns the target address of the vector header, the value passed to
// a wrapper's hidden IPC-vector argument.
func (v *Vector) Addr() domain.Rptr { return v.addr }

// Free releases the target allocation. Safe to call once; a second call
// returns domain.ErrInvalidHandle.
func (v *Vector) Free() error {
	if v.addr == domain.Null {
		return domain.ErrInvalidHandle
	}
	err := v.backend.Free(v.addr)
	v.addr = domain.Null
	return err
}

// Len reads the vector's current element count back from the target.
func (v *Vector) Len() (int, error) {
	raw, err := v.backend.Read(v.addr, uint64(v.traits.PtrWidth()))
	if err != nil {
		return 0, fmt.Errorf("ipcvector: read length: %w", err)
	}
	return int(getUint(raw, v.traits.PtrWidth())), nil
}

// Cap returns the vector's allocated capacity (a host-side cached value;
// growth always goes through Grow, which keeps it in sync).
func (v *Vector) Cap() int { return v.cap }

// Clear resets the vector's length to zero and its cursor back to the start
// of the data region, without reallocating, for reuse across repeated
// enumeration calls (spec.md §4.3).
func (v *Vector) Clear() error {
	w := v.traits.PtrWidth()
	zero := make([]byte, w)
	if err := v.backend.Write(v.addr, zero); err != nil {
		return fmt.Errorf("ipcvector: clear length: %w", err)
	}
	cursorBuf := make([]byte, w)
	putUint(cursorBuf, w, uint64(v.addr)+uint64(v.headerSize()))
	if err := v.backend.Write(v.addr+domain.Rptr(2*w), cursorBuf); err != nil {
		return fmt.Errorf("ipcvector: clear cursor: %w", err)
	}
	return nil
}

// Data reads back n raw elements starting at index 0 (the common case: the
// caller just learned Len() and wants exactly that many back).
func (v *Vector) Data(n int) ([]byte, error) {
	if n > v.cap {
		return nil, fmt.Errorf("%w: requested %d elements, capacity is %d", domain.ErrInvalidPrecondition, n, v.cap)
	}
	raw, err := v.backend.Read(v.addr+domain.Rptr(v.headerSize()), uint64(n*v.elemSize))
	if err != nil {
		return nil, fmt.Errorf("ipcvector: read data: %w", err)
	}
	return raw, nil
}

// Grow reallocates the vector to at least newCap elements, preserving
// existing contents, and frees the previous allocation (spec.md §4.3:
// "growth is the controller's responsibility; the target-side wrapper
// reports capacity exhaustion rather than growing itself, since growth
// requires a host-side Alloc call").
func (v *Vector) Grow(newCap int) error {
	if newCap <= v.cap {
		return nil
	}
	oldLen, err := v.Len()
	if err != nil {
		return err
	}
	oldData, err := v.Data(oldLen)
	if err != nil {
		return err
	}
	oldAddr := v.addr
	if err := v.alloc(newCap); err != nil {
		return err
	}
	w := v.traits.PtrWidth()
	lenBuf := make([]byte, w)
	putUint(lenBuf, w, uint64(oldLen))
	if err := v.backend.Write(v.addr, lenBuf); err != nil {
		return fmt.Errorf("ipcvector: restore length after grow: %w", err)
	}
	cursorBuf := make([]byte, w)
	putUint(cursorBuf, w, uint64(v.addr)+uint64(v.headerSize())+uint64(oldLen*v.elemSize))
	if err := v.backend.Write(v.addr+domain.Rptr(2*w), cursorBuf); err != nil {
		return fmt.Errorf("ipcvector: restore cursor after grow: %w", err)
	}
	if len(oldData) > 0 {
		if err := v.backend.Write(v.addr+domain.Rptr(v.headerSize()), oldData); err != nil {
			return fmt.Errorf("ipcvector: copy data after grow: %w", err)
		}
	}
	return v.backend.Free(oldAddr)
}

func putUint(buf []byte, width int, val uint64) {
	switch width {
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(val))
	case 8:
		binary.LittleEndian.PutUint64(buf, val)
	default:
		panic(fmt.Sprintf("ipcvector: unsupported pointer width %d", width))
	}
}

func getUint(buf []byte, width int) uint64 {
	switch width {
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	default:
		panic(fmt.Sprintf("ipcvector: unsupported pointer width %d", width))
	}
}
