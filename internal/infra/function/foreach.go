package function

import (
	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
)

// GenerateForeachCollector emits a trampoline matching Mono's GFunc callback
// signature — void (*)(gpointer data, gpointer user_data) — suitable as the
// callback argument to mono_assembly_foreach (or any other *_foreach taking
// a GFunc): it appends data to the ipcvector.Vector whose header address is
// passed as user_data, advancing the vector's absolute byte cursor by
// elemSize and its element count by one, until the element count reaches
// capacity, after which further calls are silently dropped rather than
// overrunning the allocation.
//
// capacity must already be known when this is called, which is why the
// collector is synthesized after ipcvector.New/Grow rather than once at
// attach time alongside the rest of the dispatch table: domain.Assembler's
// op set has no register-to-register add and no multiply (load/store/
// add-immediate/compare-immediate/branch only, plus GenCall), and
// CmpRegImm's immediate is only 32 bits wide, too narrow to hold a 64-bit
// target address. Comparing the vector's small element COUNT against the
// (also small) capacity sidesteps the width problem entirely, while
// advancing the cursor — itself a full-width value, but only ever read into
// and written back out of a register, never used as an immediate — by a
// compile-time-constant elemSize needs nothing wider than AddRegImm
// already supports. The same sentinel-comparison shape the wrap-view's
// variant-array loop uses for its stop condition (domain/variant.go's
// TagInvalid == 0), applied here to a capacity bound instead of a tag.
func GenerateForeachCollector(a domain.Assembler, traits abi.Traits, conv domain.CallingConvention, cursorFieldOffset int32, capacity, elemSize int) []byte {
	saved := Prologue(a, traits)

	dataReg := domain.RegB
	vecReg := domain.RegC
	LoadIncomingArg(a, traits, conv, 0, dataReg)
	LoadIncomingArg(a, traits, conv, 1, vecReg)

	full := a.Label()
	done := a.Label()

	a.MovRegMem(domain.RegA, vecReg, 0) // length field, offset 0
	a.CmpRegImm(domain.RegA, int32(capacity))
	a.JzLabel(full)

	a.MovRegMem(domain.RegA, vecReg, cursorFieldOffset)
	a.MovMemReg(domain.RegA, 0, dataReg)
	a.AddRegImm(domain.RegA, int32(elemSize))
	a.MovMemReg(vecReg, cursorFieldOffset, domain.RegA)

	a.MovRegMem(domain.RegA, vecReg, 0)
	a.AddRegImm(domain.RegA, 1)
	a.MovMemReg(vecReg, 0, domain.RegA)
	a.JmpLabel(done)

	a.Bind(full)
	a.Bind(done)

	Epilogue(a, saved)
	a.Link()
	return a.Bytes()
}
