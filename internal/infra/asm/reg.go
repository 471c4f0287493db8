package asm

import (
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
)

// regNum maps the ABI-neutral domain.Reg enum onto the native x86 3-bit
// register field (plus the REX.B/R/X extension bit for r8-r15). 32-bit mode
// only ever sees the first eight entries.
func regNum(r domain.Reg) (num int, ext bool) {
	switch r {
	case domain.RegA:
		return 0, false
	case domain.RegC:
		return 1, false
	case domain.RegD:
		return 2, false
	case domain.RegB:
		return 3, false
	case domain.RegSP:
		return 4, false
	case domain.RegBP:
		return 5, false
	case domain.RegSI:
		return 6, false
	case domain.RegDI:
		return 7, false
	case domain.RegR8:
		return 0, true
	case domain.RegR9:
		return 1, true
	case domain.RegR10:
		return 2, true
	case domain.RegR11:
		return 3, true
	default:
		panic(fmt.Sprintf("asm: unknown register %d", r))
	}
}

// modrm builds a ModRM byte for the common register-direct (mod=11) and
// [base+disp32] (mod=10) addressing forms this package needs; rip-relative
// and SIB addressing are never required by the wrapper generator's fixed
// stack-frame layout.
func modrm(mod, reg, rm int) byte {
	return byte(mod<<6 | (reg&7)<<3 | (rm & 7))
}

// rex builds a REX prefix: W selects 64-bit operand size, R/X/B extend the
// reg/index/rm fields into r8-r15.
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}
