package asm

import "github.com/tutu-network/rmono/internal/domain"

// MovRegImm emits `mov reg, imm`, using a 64-bit immediate only in 64-bit
// mode when the value doesn't fit in 32 bits (the common case: most imm
// loads here are small constants or truncated pointers already narrowed by
// infra/abi, so B8+rd imm32 covers almost every call site).
func (a *Assembler) MovRegImm(reg domain.Reg, imm int64) {
	n, ext := regNum(reg)
	if a.Is64 && (imm > 0x7FFFFFFF || imm < -0x80000000) {
		a.emit(rex(true, false, false, ext), 0xB8+byte(n))
		a.emitImm64(imm)
		return
	}
	if ext {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xB8 + byte(n))
	a.emitImm32(int32(imm))
}

// MovRegReg emits `mov dst, src`.
func (a *Assembler) MovRegReg(dst, src domain.Reg) {
	dn, dext := regNum(dst)
	sn, sext := regNum(src)
	if a.Is64 {
		a.emit(rex(true, sext, false, dext))
	} else if dext || sext {
		a.emit(rex(false, sext, false, dext))
	}
	a.emit(0x89, modrm(3, sn, dn))
}

// MovRegMem emits `mov dst, [base+offset]`.
func (a *Assembler) MovRegMem(dst domain.Reg, base domain.Reg, offset int32) {
	dn, dext := regNum(dst)
	bn, bext := regNum(base)
	if a.Is64 {
		a.emit(rex(true, dext, false, bext))
	} else if dext || bext {
		a.emit(rex(false, dext, false, bext))
	}
	a.emit(0x8B, modrm(2, dn, bn))
	a.emitImm32(offset)
}

// MovMemReg emits `mov [base+offset], src`.
func (a *Assembler) MovMemReg(base domain.Reg, offset int32, src domain.Reg) {
	bn, bext := regNum(base)
	sn, sext := regNum(src)
	if a.Is64 {
		a.emit(rex(true, sext, false, bext))
	} else if bext || sext {
		a.emit(rex(false, sext, false, bext))
	}
	a.emit(0x89, modrm(2, sn, bn))
	a.emitImm32(offset)
}

func (a *Assembler) Push(reg domain.Reg) {
	n, ext := regNum(reg)
	if ext {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 + byte(n))
}

func (a *Assembler) Pop(reg domain.Reg) {
	n, ext := regNum(reg)
	if ext {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 + byte(n))
}

// AddRegImm emits `add reg, imm32` (opcode group 0x81 /0).
func (a *Assembler) AddRegImm(reg domain.Reg, imm int32) {
	n, ext := regNum(reg)
	if a.Is64 {
		a.emit(rex(true, false, false, ext))
	} else if ext {
		a.emit(rex(false, false, false, ext))
	}
	a.emit(0x81, modrm(3, 0, n))
	a.emitImm32(imm)
}

// SubRegImm emits `sub reg, imm32` (opcode group 0x81 /5).
func (a *Assembler) SubRegImm(reg domain.Reg, imm int32) {
	n, ext := regNum(reg)
	if a.Is64 {
		a.emit(rex(true, false, false, ext))
	} else if ext {
		a.emit(rex(false, false, false, ext))
	}
	a.emit(0x81, modrm(3, 5, n))
	a.emitImm32(imm)
}

// CmpRegImm emits `cmp reg, imm32` (opcode group 0x81 /7).
func (a *Assembler) CmpRegImm(reg domain.Reg, imm int32) {
	n, ext := regNum(reg)
	if a.Is64 {
		a.emit(rex(true, false, false, ext))
	} else if ext {
		a.emit(rex(false, false, false, ext))
	}
	a.emit(0x81, modrm(3, 7, n))
	a.emitImm32(imm)
}

// Test emits `test reg, reg`, the zero check the wrapper generator uses
// before dereferencing an optional out-pointer.
func (a *Assembler) Test(reg domain.Reg) {
	n, ext := regNum(reg)
	if a.Is64 {
		a.emit(rex(true, ext, false, ext))
	} else if ext {
		a.emit(rex(false, ext, false, ext))
	}
	a.emit(0x85, modrm(3, n, n))
}

func (a *Assembler) JmpLabel(lbl domain.Label) {
	a.emit(0xE9)
	a.addFixup(lbl)
}

func (a *Assembler) JzLabel(lbl domain.Label) {
	a.emit(0x0F, 0x84)
	a.addFixup(lbl)
}

func (a *Assembler) JnzLabel(lbl domain.Label) {
	a.emit(0x0F, 0x85)
	a.addFixup(lbl)
}

func (a *Assembler) CallReg(reg domain.Reg) {
	n, ext := regNum(reg)
	if ext {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF, modrm(3, 2, n))
}

func (a *Assembler) CallLabel(lbl domain.Label) {
	a.emit(0xE8)
	a.addFixup(lbl)
}

func (a *Assembler) Ret() { a.emit(0xC3) }

// msx64ArgRegs and sysvArgRegs are the integer-argument register orders for
// the two 64-bit calling conventions this package targets; cdecl/stdcall/
// fastcall only disambiguate 32-bit argument passing (spec.md §4.2: "on
// x86-64 every supported ABI uses a single unified convention regardless of
// the C-level tag").
var (
	msx64ArgRegs = []domain.Reg{domain.RegC, domain.RegD, domain.RegR8, domain.RegR9}
	sysvArgRegs  = []domain.Reg{domain.RegDI, domain.RegSI, domain.RegD, domain.RegC, domain.RegR8, domain.RegR9}
)

// GenCall emits the sequence that moves args (registers the caller has
// already loaded) into the calling convention's registers/stack and calls
// addr, returning
// the register holding the result (RegA on every convention this package
// emits). On x86, conv selects cdecl (caller cleans up), stdcall (callee
// cleans up) or fastcall (first two args in ECX/EDX); on x86-64 conv is
// ignored beyond selecting SysV vs Microsoft x64 register order via a.SysV.
func (a *Assembler) GenCall(addr domain.Rptr, args []domain.Reg, conv domain.CallingConvention) domain.Reg {
	if a.Is64 {
		regs := msx64ArgRegs
		if a.SysV {
			regs = sysvArgRegs
		}
		regArgs := args
		stackArgs := 0
		if len(args) > len(regs) {
			regArgs = args[:len(regs)]
			for i := len(regs); i < len(args); i++ {
				a.Push(args[i])
				stackArgs++
			}
		}
		// A caller's scratch-register pool and the convention's own argument
		// registers are not always disjoint (a wrapper with more live
		// arguments than free registers has to reuse one), so a direct
		// sequence of MovRegReg(regs[i], regArgs[i]) can read an already
		// clobbered source when regArgs[i] aliases some regs[j], j<i — the
		// classic parallel-move hazard. Routing every source through the
		// stack first captures all values before any destination register is
		// written, so aliasing can never lose one.
		for _, r := range regArgs {
			a.Push(r)
		}
		for i := len(regArgs) - 1; i >= 0; i-- {
			a.Pop(regs[i])
		}
		if !a.SysV {
			a.SubRegImm(domain.RegSP, 32) // Microsoft x64 shadow space
		}
		a.MovRegImm(domain.RegA, int64(addr))
		a.CallReg(domain.RegA)
		if !a.SysV {
			a.AddRegImm(domain.RegSP, 32)
		}
		if stackArgs > 0 {
			a.AddRegImm(domain.RegSP, int32(stackArgs*8))
		}
		return domain.RegA
	}

	// 32-bit: fastcall takes the first two args in ECX/EDX, everything else
	// (including all of cdecl/stdcall) goes on the stack, right to left.
	start := 0
	if conv == domain.CConvFastcall {
		fast := []domain.Reg{domain.RegC, domain.RegD}
		n := len(args)
		if n > 2 {
			n = 2
		}
		for i := 0; i < n; i++ {
			a.Push(args[i])
		}
		for i := n - 1; i >= 0; i-- {
			a.Pop(fast[i])
		}
		start = 2
		if start > len(args) {
			start = len(args)
		}
	}
	pushed := 0
	for i := len(args) - 1; i >= start; i-- {
		a.Push(args[i])
		pushed++
	}
	a.MovRegImm(domain.RegA, int64(addr))
	a.CallReg(domain.RegA)
	if conv == domain.CConvCdecl && pushed > 0 {
		a.AddRegImm(domain.RegSP, int32(pushed*4))
	}
	// stdcall and fastcall: callee already popped its own stack arguments.
	return domain.RegA
}
