// Package abi implements Component 2 of the invocation engine: per-ABI
// width and calling-convention information for every Mono-internal type
// that appears in the embedding API, plus lossless bidirectional
// conversion between the controller's widest representation and an ABI's
// native width (spec.md §4.1).
package abi

import (
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
)

// Kind names one of the ABIs this package knows how to target.
type Kind int

const (
	KindWindows386 Kind = iota
	KindWindowsAMD64
	KindLinuxAMD64
)

func (k Kind) String() string {
	switch k {
	case KindWindows386:
		return "windows/386"
	case KindWindowsAMD64:
		return "windows/amd64"
	case KindLinuxAMD64:
		return "linux/amd64"
	default:
		return "unknown"
	}
}

// Traits describes the width (in bytes) and signedness of every
// Mono-internal integer/pointer type used by the embedding API, for one ABI.
//
// Widths are deliberately exposed as plain methods rather than a struct of
// constants: Windows/x86 and Windows/x86_64 agree on everything except
// pointer-ish widths, so most Traits implementations embed a shared base and
// only override PtrWidth/GCHandleWidth/FuncPtrWidth.
type Traits interface {
	Kind() Kind
	OS() domain.TargetOS
	Arch() domain.ProcessorArch

	PtrWidth() int     // width of rmono_voidp / any handle pointer type
	IntWidth() int     // width of "int" in the Mono ABI (always 4)
	UIntWidth() int    // width of "unsigned int" (always 4)
	BoolWidth() int    // width of mono_bool (always 4: a typedef for gint32)
	ByteWidth() int    // width of a raw byte (always 1)
	WCharWidth() int   // width of gunichar2 (always 2)
	GCHandleWidth() int // width of a GC handle integer (== PtrWidth on Mono)
	FuncPtrWidth() int  // width of a function pointer (== PtrWidth)

	// Narrow converts a controller-wide 64-bit value into this ABI's native
	// pointer width, returning ok=false on loss (spec.md §4.1: "overflow is
	// a programmer error").
	Narrow(v uint64) (narrowed uint64, ok bool)
	// Widen sign/zero-extends an ABI-native pointer-width value back up to
	// the controller's 64-bit representation.
	Widen(v uint64) uint64
}

// base implements the width methods that are identical across every ABI
// this package supports; ABI-specific types embed it and override only
// pointer-ish widths.
type base struct{}

func (base) IntWidth() int     { return 4 }
func (base) UIntWidth() int    { return 4 }
func (base) BoolWidth() int    { return 4 }
func (base) ByteWidth() int    { return 1 }
func (base) WCharWidth() int   { return 2 }

// registry is populated by the init functions in x86.go and x86_64.go.
var registry = map[Kind]Traits{}

func register(t Traits) { registry[t.Kind()] = t }

// Select returns the Traits for the ABI matching arch/os, following spec.md
// §4.1's attach-time rule: "query the target's processor architecture and
// choose the ABI whose internal pointer width matches. If no ABI matches,
// attach fails."
func Select(arch domain.ProcessorArch, os domain.TargetOS) (Traits, error) {
	for _, t := range registry {
		if t.Arch() == arch && t.OS() == os {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: arch=%s os=%v", domain.ErrNoMatchingABI, arch, os)
}

// AssertFits panics if Narrow would lose bits — the debug-build assertion
// spec.md §4.1 calls for on programmer error.
func AssertFits(t Traits, v uint64) uint64 {
	n, ok := t.Narrow(v)
	if !ok {
		panic(fmt.Sprintf("abi: value 0x%x does not fit in %s pointer width (%d bytes)", v, t.Kind(), t.PtrWidth()))
	}
	return n
}
