package asm

import (
	"testing"

	"github.com/tutu-network/rmono/internal/domain"
)

func TestPushPop_RoundTripsOpcodeRange(t *testing.T) {
	a := New(true, true)
	a.Push(domain.RegA)
	a.Push(domain.RegR9)
	a.Pop(domain.RegA)

	code := a.Bytes()
	if code[0] != 0x50 {
		t.Fatalf("push rax = 0x%x, want 0x50", code[0])
	}
	if code[1] != 0x41 || code[2] != 0x51 {
		t.Fatalf("push r9 = % x, want 41 51", code[1:3])
	}
}

func TestMovRegImm_Uses32BitFormWhenItFits(t *testing.T) {
	a := New(true, false)
	a.MovRegImm(domain.RegA, 42)
	if len(a.Bytes()) != 5 {
		t.Fatalf("len = %d, want 5 (opcode + imm32)", len(a.Bytes()))
	}
}

func TestMovRegImm_Uses64BitFormWhenNeeded(t *testing.T) {
	a := New(true, false)
	a.MovRegImm(domain.RegA, 0x1_0000_0000)
	if len(a.Bytes()) != 10 {
		t.Fatalf("len = %d, want 10 (REX.W + opcode + imm64)", len(a.Bytes()))
	}
}

func TestJmpLabel_FixupResolvesForwardBranch(t *testing.T) {
	a := New(true, true)
	lbl := a.Label()
	a.JmpLabel(lbl)
	start := a.Pos()
	a.Ret()
	a.Bind(lbl)
	a.Ret()
	a.Link()

	code := a.Bytes()
	rel := int32(code[1]) | int32(code[2])<<8 | int32(code[3])<<16 | int32(code[4])<<24
	want := int32(a.labels[int(lbl)] - start)
	if rel != want {
		t.Fatalf("rel32 = %d, want %d", rel, want)
	}
}

func TestLink_PanicsOnUnboundLabel(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unbound label")
		}
	}()
	a := New(false, false)
	lbl := a.Label()
	a.JmpLabel(lbl)
	a.Link()
}

func TestGenCall_MicrosoftX64SpillsBeyondFourArgsToStack(t *testing.T) {
	a := New(true, false)
	args := []domain.Reg{domain.RegA, domain.RegB, domain.RegC, domain.RegD, domain.RegSI}
	a.GenCall(domain.Rptr(0x1000), args, domain.CConvCdecl)

	// One push for the fifth (stack) argument, a sub/add pair for shadow
	// space, and a final stack-cleanup add.
	code := a.Bytes()
	if len(code) == 0 {
		t.Fatal("expected emitted code")
	}
	if code[0] != 0x56 {
		t.Fatalf("first opcode = 0x%x, want 0x56 (push rsi for the fifth argument)", code[0])
	}
	tail := code[len(code)-7:]
	if tail[0] != 0x48 || tail[1] != 0x81 || tail[2] != 0xC4 || tail[3] != 8 {
		t.Fatalf("last instruction = % x, want 48 81 c4 08 00 00 00 (add rsp, 8)", tail)
	}
}

func TestGenCall_FastcallUsesECXEDXForFirstTwoArgs(t *testing.T) {
	a := New(false, false)
	args := []domain.Reg{domain.RegSI, domain.RegDI, domain.RegBP}
	a.GenCall(domain.Rptr(0x2000), args, domain.CConvFastcall)

	code := a.Bytes()
	// ECX/EDX are loaded through the stack (no REX in 32-bit):
	// push esi; push edi; pop edx; pop ecx.
	if code[0] != 0x56 || code[1] != 0x57 || code[2] != 0x5A || code[3] != 0x59 {
		t.Fatalf("first opcodes = % x, want 56 57 5a 59 (push esi; push edi; pop edx; pop ecx)", code[:4])
	}
}

func TestRegNum_PanicsOnUnknownRegister(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown register")
		}
	}()
	regNum(domain.Reg(999))
}
