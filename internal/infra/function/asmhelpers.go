package function

import (
	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
)

// calleeSavedScratch is the set of registers a synthesized trampoline is
// free to clobber as working storage, chosen disjoint from the ABI's own
// argument-passing registers for the common case of a handful of live
// values (GenCall's stack-routed parallel move, see asm/encode.go, covers
// the overflow case where a function has more live arguments than this pool
// has slots). Every register in this pool is callee-saved under at least
// one of the ABIs this package targets, so Prologue/Epilogue always spill
// and restore the whole pool rather than tracking per-ABI which subset
// needs it — one save/restore sequence, reused everywhere.
func calleeSavedScratch(traits abi.Traits) []domain.Reg {
	if traits.PtrWidth() == 8 {
		return []domain.Reg{domain.RegR10, domain.RegR11, domain.RegB}
	}
	return []domain.Reg{domain.RegB, domain.RegSI, domain.RegDI}
}

// Prologue emits `push rbp; mov rbp,rsp` followed by a save of every
// register calleeSavedScratch hands out, so the generator can clobber them
// freely without violating the host ABI's callee-saved-register contract
// (spec.md §4.2). Returns the save list so Epilogue restores the same set in
// reverse order.
func Prologue(a domain.Assembler, traits abi.Traits) []domain.Reg {
	a.Push(domain.RegBP)
	a.MovRegReg(domain.RegBP, domain.RegSP)
	saved := calleeSavedScratch(traits)
	for _, r := range saved {
		a.Push(r)
	}
	return saved
}

// Epilogue undoes Prologue: pop the saved registers in reverse order, then
// `pop rbp; ret`.
func Epilogue(a domain.Assembler, saved []domain.Reg) {
	for i := len(saved) - 1; i >= 0; i-- {
		a.Pop(saved[i])
	}
	a.Pop(domain.RegBP)
	a.Ret()
}

// msx64IncomingRegs and sysvIncomingRegs mirror asm/encode.go's unexported
// argument-register tables; duplicated here (rather than exported from asm)
// since reading an incoming argument is a function-package concern, not a
// primitive the Assembler interface itself needs to expose.
var (
	msx64IncomingRegs = []domain.Reg{domain.RegC, domain.RegD, domain.RegR8, domain.RegR9}
	sysvIncomingRegs  = []domain.Reg{domain.RegDI, domain.RegSI, domain.RegD, domain.RegC, domain.RegR8, domain.RegR9}
)

// LoadIncomingArg copies the idx-th argument passed to a synthesized
// trampoline (addressed per the host's calling convention, relative to the
// standard push-rbp/mov-rbp,rsp prologue Prologue emits) into dst. This is
// the trampoline-side mirror of asm.GenCall's outgoing-argument placement:
// GenCall writes an argument list into a convention's registers/stack before
// a call, LoadIncomingArg reads a convention's registers/stack back out at
// the callee's own entry.
func LoadIncomingArg(a domain.Assembler, traits abi.Traits, conv domain.CallingConvention, idx int, dst domain.Reg) {
	switch traits.Kind() {
	case abi.KindLinuxAMD64:
		if idx < len(sysvIncomingRegs) {
			a.MovRegReg(dst, sysvIncomingRegs[idx])
			return
		}
		off := int32(16 + 8*(idx-len(sysvIncomingRegs)))
		a.MovRegMem(dst, domain.RegBP, off)
	case abi.KindWindowsAMD64:
		if idx < len(msx64IncomingRegs) {
			a.MovRegReg(dst, msx64IncomingRegs[idx])
			return
		}
		// Beyond the shadow space (32 bytes) that sits between the return
		// address and the first stack-passed argument.
		off := int32(48 + 8*(idx-len(msx64IncomingRegs)))
		a.MovRegMem(dst, domain.RegBP, off)
	default: // KindWindows386
		if conv == domain.CConvFastcall && idx < 2 {
			fast := []domain.Reg{domain.RegC, domain.RegD}
			a.MovRegReg(dst, fast[idx])
			return
		}
		shift := 0
		if conv == domain.CConvFastcall {
			shift = 2
		}
		off := int32(8 + 4*(idx-shift))
		a.MovRegMem(dst, domain.RegBP, off)
	}
}

func incomingRegsFor(traits abi.Traits) []domain.Reg {
	switch traits.Kind() {
	case abi.KindLinuxAMD64:
		return sysvIncomingRegs
	case abi.KindWindowsAMD64:
		return msx64IncomingRegs
	default:
		return nil
	}
}

func stackIncomingOffset(traits abi.Traits, conv domain.CallingConvention, numRegArgs, idx int) int32 {
	switch traits.Kind() {
	case abi.KindLinuxAMD64:
		return int32(16 + 8*(idx-numRegArgs))
	case abi.KindWindowsAMD64:
		return int32(48 + 8*(idx-numRegArgs))
	default:
		shift := 0
		if conv == domain.CConvFastcall {
			shift = 2
		}
		return int32(8 + 4*(idx-shift))
	}
}

// CaptureIncomingArgs copies every one of a trampoline's n incoming
// arguments into a local stack slot (destOffset(i) bytes relative to RegBP),
// so the rest of code generation can treat every argument uniformly as
// memory instead of juggling one live register per parameter — sidestepping
// both the register pressure of x86-32's eight-register file and any
// aliasing between one argument's original register and another argument's
// source location. Register-passed arguments are captured via the same
// push-all/pop-all-reverse technique GenCall uses internally (asm/encode.go)
// so that reusing an argument register as scratch for an earlier parameter
// can never clobber a later parameter's still-unread original value. Once
// captured, each slot also doubles as the parameter's GC-visibility pin: it
// sits inside the trampoline's own stack frame for the rest of the call, so
// a conservative collector scan covers it without any further bookkeeping.
func CaptureIncomingArgs(a domain.Assembler, traits abi.Traits, conv domain.CallingConvention, n int, destOffset func(i int) int32) {
	var regs []domain.Reg
	if traits.PtrWidth() == 8 {
		regs = incomingRegsFor(traits)
	} else if conv == domain.CConvFastcall {
		regs = []domain.Reg{domain.RegC, domain.RegD}
	}
	regN := n
	if regN > len(regs) {
		regN = len(regs)
	}
	for i := 0; i < regN; i++ {
		a.Push(regs[i])
	}
	for i := regN - 1; i >= 0; i-- {
		a.Pop(domain.RegA)
		a.MovMemReg(domain.RegBP, destOffset(i), domain.RegA)
	}
	for i := regN; i < n; i++ {
		off := stackIncomingOffset(traits, conv, len(regs), i)
		a.MovRegMem(domain.RegA, domain.RegBP, off)
		a.MovMemReg(domain.RegBP, destOffset(i), domain.RegA)
	}
}

// alignedCall brackets a GenCall with one 8-byte stack pad when depth (the
// number of qwords pushed since Prologue's mov rbp,rsp, statically tracked
// by the caller) is odd, so the 16-byte stack alignment the System V and
// Microsoft x64 ABIs require at a call instruction holds regardless of how
// many GC-visibility pushes (see pinForCall) came before it. x86 has no such
// requirement for the cdecl/stdcall/fastcall conventions this package
// targets, so depth is only ever consulted when traits.PtrWidth() == 8.
func alignedCall(a domain.Assembler, traits abi.Traits, depth int, addr domain.Rptr, args []domain.Reg, conv domain.CallingConvention) domain.Reg {
	pad := traits.PtrWidth() == 8 && depth%2 != 0
	if pad {
		a.SubRegImm(domain.RegSP, int32(traits.PtrWidth()))
	}
	result := a.GenCall(addr, args, conv)
	if pad {
		a.AddRegImm(domain.RegSP, int32(traits.PtrWidth()))
	}
	return result
}
