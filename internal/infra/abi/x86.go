package abi

import "github.com/tutu-network/rmono/internal/domain"

// windows386 is the Windows/x86 ABI: 4-byte pointers, GC handles and
// function pointers the same width (spec.md §4.1).
type windows386 struct{ base }

func (windows386) Kind() Kind                  { return KindWindows386 }
func (windows386) OS() domain.TargetOS         { return domain.OSWindows }
func (windows386) Arch() domain.ProcessorArch  { return domain.ArchX86 }
func (windows386) PtrWidth() int               { return 4 }
func (windows386) GCHandleWidth() int          { return 4 }
func (windows386) FuncPtrWidth() int           { return 4 }

func (windows386) Narrow(v uint64) (uint64, bool) {
	if v > 0xFFFFFFFF {
		return 0, false
	}
	return v, true
}

func (windows386) Widen(v uint64) uint64 { return v & 0xFFFFFFFF }

func init() { register(windows386{}) }
