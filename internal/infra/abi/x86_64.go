package abi

import "github.com/tutu-network/rmono/internal/domain"

// windowsAMD64 is the Windows/x86-64 ABI: 8-byte pointers, Microsoft x64
// calling convention (shadow space, 16-byte stack alignment — see
// infra/function/wrappergen.go).
type windowsAMD64 struct{ base }

func (windowsAMD64) Kind() Kind                 { return KindWindowsAMD64 }
func (windowsAMD64) OS() domain.TargetOS        { return domain.OSWindows }
func (windowsAMD64) Arch() domain.ProcessorArch { return domain.ArchX86_64 }
func (windowsAMD64) PtrWidth() int              { return 8 }
func (windowsAMD64) GCHandleWidth() int         { return 8 }
func (windowsAMD64) FuncPtrWidth() int          { return 8 }

func (windowsAMD64) Narrow(v uint64) (uint64, bool) { return v, true }
func (windowsAMD64) Widen(v uint64) uint64           { return v }

func init() { register(windowsAMD64{}) }

// linuxAMD64 is the Linux/x86-64 ABI (SysV calling convention): 8-byte
// pointers, same widths as Windows/x86-64 but a different argument-register
// assignment in the System V ABI, handled by infra/asm rather than here —
// this package only carries widths and overflow rules, not register
// assignment (SPEC_FULL.md §2: the Linux target this rewrite adds beyond
// spec.md's original two Windows-only ABIs).
type linuxAMD64 struct{ base }

func (linuxAMD64) Kind() Kind                 { return KindLinuxAMD64 }
func (linuxAMD64) OS() domain.TargetOS        { return domain.OSLinux }
func (linuxAMD64) Arch() domain.ProcessorArch { return domain.ArchX86_64 }
func (linuxAMD64) PtrWidth() int              { return 8 }
func (linuxAMD64) GCHandleWidth() int         { return 8 }
func (linuxAMD64) FuncPtrWidth() int          { return 8 }

func (linuxAMD64) Narrow(v uint64) (uint64, bool) { return v, true }
func (linuxAMD64) Widen(v uint64) uint64           { return v }

func init() { register(linuxAMD64{}) }
