package function

import (
	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
)

// GenerateFreeMulti emits a trampoline that batches the common detach-time
// and deferred-free workload of releasing many GC handles in one round trip
// instead of one RPC per handle: it walks a caller-supplied array of
// GCHandleWidth()-sized handle values and calls freeAddr (the target's
// mono_gchandle_free_v2) once per element, stopping after count iterations.
//
// Signature: void rmono_free_multi(void *handles, uint32_t count)
func GenerateFreeMulti(a domain.Assembler, traits abi.Traits, freeAddr domain.Rptr, conv domain.CallingConvention) []byte {
	saved := Prologue(a, traits)
	depth := len(saved)

	ptrReg := domain.RegB
	countReg := domain.RegC

	LoadIncomingArg(a, traits, conv, 0, ptrReg)
	LoadIncomingArg(a, traits, conv, 1, countReg)

	loopStart := a.Label()
	loopEnd := a.Label()

	a.Bind(loopStart)
	a.CmpRegImm(countReg, 0)
	a.JzLabel(loopEnd)
	a.MovRegMem(domain.RegA, ptrReg, 0)
	alignedCall(a, traits, depth, freeAddr, []domain.Reg{domain.RegA}, conv)
	a.AddRegImm(ptrReg, int32(traits.GCHandleWidth()))
	a.SubRegImm(countReg, 1)
	a.JmpLabel(loopStart)
	a.Bind(loopEnd)

	Epilogue(a, saved)
	a.Link()
	return a.Bytes()
}
