package function

import (
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
	"github.com/tutu-network/rmono/internal/infra/variant"
)

// generalScratchPool lists every register GenerateWrapper may hand out as a
// final raw-call argument slot, in preference order. It excludes RegA (the
// wrapper's universal work register and GenCall's result register), RegBP
// and RegSP (frame/stack pointers) and, on 32-bit, RegR8-RegR11 (asm/reg.go's
// REX-prefix encoding only applies in 64-bit mode).
func generalScratchPool(traits abi.Traits) []domain.Reg {
	base := []domain.Reg{domain.RegB, domain.RegC, domain.RegD, domain.RegSI, domain.RegDI}
	if traits.PtrWidth() == 8 {
		return append(base, domain.RegR8, domain.RegR9, domain.RegR10, domain.RegR11)
	}
	return base
}

// paramSlot records which local stack slot(s) (see GenerateWrapper) a
// parameter occupies: one for every ArgKind except KindVariantArray, which
// needs two (the serialized variant-record block, and the parallel packed
// raw-value buffer the element loop below fills in).
type paramSlot struct {
	start int
	count int
}

// GenerateWrapper emits the machine code for one FunctionDef's wrap view: a
// trampoline that, running on the target's attached worker thread, resolves
// every ManagedRef argument to a raw pointer via Boilerplate.GCHandleGetTarget
// (auto-unboxing boxed value types first when the parameter asks for it),
// walks any KindVariantArray argument's tagged records into a plain packed
// buffer the raw function can read as a native array, calls the raw export
// with the target's native calling convention, and — for ManagedRef, Variant
// and string returns — finishes the out-direction rewrap spec.md §4.4/§4.6
// describe.
//
// Every incoming argument is copied into its own slot in the trampoline's own
// stack frame before anything else runs (CaptureIncomingArgs in
// asmhelpers.go), and every
// resolved value is written back into that same slot rather than kept live in
// a register. This sidesteps x86-32's eight-register file entirely — no
// parameter ever needs a register to itself for longer than the few
// instructions touching it — and doubles as the GC-visibility requirement of
// spec.md §4.4: a value sitting in the trampoline's own stack frame is, for
// as long as the frame exists, memory a conservative collector scan covers,
// with no separate pin/unpin bookkeeping needed.
func GenerateWrapper(a domain.Assembler, traits abi.Traits, def domain.FunctionDef, rawAddr domain.Rptr, bp Boilerplate) ([]byte, error) {
	if !def.NeedsWrap() {
		return nil, fmt.Errorf("%w: %s does not need a wrap view", domain.ErrInvalidPrecondition, def.Name)
	}
	switch def.Return.Kind {
	case domain.KindU16StringReturn, domain.KindU32StringReturn:
		// The hidden-out-slot string path only ever calls
		// Boilerplate.StringToUTF8; a UTF-16/UTF-32 managed string is read
		// back through mono_string_chars+mono_string_length instead (see
		// rmono's StringToUTF16/StringToUTF32), which needs no wrap view at
		// all. A FunctionDef asking for one of these return kinds is a
		// catalog mistake, not something this generator can emit code for.
		return nil, fmt.Errorf("%w: %s: UTF-16/UTF-32 string returns are read directly from target memory, never wrapped", domain.ErrInvalidPrecondition, def.Name)
	}

	saved := Prologue(a, traits)
	depthBase := len(saved)

	slots := make([]paramSlot, len(def.Params))
	n := 0
	for i, p := range def.Params {
		count := 1
		if p.Kind == domain.KindVariantArray {
			count = 2
		}
		slots[i] = paramSlot{start: n, count: count}
		n += count
	}
	returnSlot := -1
	switch def.Return.Kind {
	case domain.KindVariant, domain.KindStringReturn:
		returnSlot = n
		n++
	}
	nSlots := n
	ptrWidth := int32(traits.PtrWidth())

	slotOffset := func(i int) int32 {
		return -int32(depthBase+1+i) * ptrWidth
	}

	if nSlots > 0 {
		a.SubRegImm(domain.RegSP, int32(nSlots)*ptrWidth)
	}
	depth := depthBase + nSlots

	if nSlots > 0 {
		CaptureIncomingArgs(a, traits, def.Convention, nSlots, slotOffset)
	}

	for i, p := range def.Params {
		s := slots[i]
		switch p.Kind {
		case domain.KindManagedRef:
			off := slotOffset(s.start)
			a.MovRegMem(domain.RegA, domain.RegBP, off)
			alignedCall(a, traits, depth, bp.GCHandleGetTarget, []domain.Reg{domain.RegA}, def.Convention)
			if p.AutoUnbox {
				alignedCall(a, traits, depth, bp.ObjectUnbox, []domain.Reg{domain.RegA}, def.Convention)
			}
			a.MovMemReg(domain.RegBP, off, domain.RegA)
		case domain.KindVariantArray:
			emitVariantArrayLoop(a, traits, bp, def.Convention, slotOffset(s.start), slotOffset(s.start+1), p, depth)
		}
	}

	pool := generalScratchPool(traits)
	if len(def.Params) > len(pool) {
		return nil, fmt.Errorf("wrappergen: %s: %d parameters exceed the %d-register scratch pool for this ABI", def.Name, len(def.Params), len(pool))
	}
	rawArgRegs := make([]domain.Reg, len(def.Params))
	for i, p := range def.Params {
		reg := pool[i]
		src := slots[i].start
		if p.Kind == domain.KindVariantArray {
			src = slots[i].start + 1 // the packed buffer, not the variant-record block
		}
		a.MovRegMem(reg, domain.RegBP, slotOffset(src))
		rawArgRegs[i] = reg
	}

	alignedCall(a, traits, depth, rawAddr, rawArgRegs, def.Convention)

	switch def.Return.Kind {
	case domain.KindManagedRef:
		if !def.Return.Owned {
			pinned := int64(0)
			if def.Return.Pinned {
				pinned = 1
			}
			a.MovRegImm(domain.RegD, pinned)
			alignedCall(a, traits, depth, bp.GCHandleNewV2, []domain.Reg{domain.RegA, domain.RegD}, def.Convention)
		}
	case domain.KindVariant:
		a.MovRegReg(domain.RegB, domain.RegA) // preserve the raw result across the reload below
		a.MovRegMem(domain.RegA, domain.RegBP, slotOffset(returnSlot))
		a.MovRegImm(domain.RegD, int64(domain.TagRawPointer))
		a.MovMemReg(domain.RegA, 0, domain.RegD)
		a.MovMemReg(domain.RegA, ptrWidth, domain.RegB)
	case domain.KindStringReturn:
		alignedCall(a, traits, depth, bp.StringToUTF8, []domain.Reg{domain.RegA}, def.Convention)
		a.MovRegReg(domain.RegB, domain.RegA)
		a.MovRegMem(domain.RegA, domain.RegBP, slotOffset(returnSlot))
		a.MovMemReg(domain.RegA, 4, domain.RegB)
	}

	if nSlots > 0 {
		a.AddRegImm(domain.RegSP, int32(nSlots)*ptrWidth)
	}
	Epilogue(a, saved)
	a.Link()
	return a.Bytes(), nil
}

// emitVariantArrayLoop walks a KindVariantArray parameter's serialized
// records from varOff (an offset, relative to RegBP, of a slot holding the
// block's current address) one tagged record at a time, advancing in lockstep
// a second cursor over the parallel packed buffer at packOff: for a
// TagManagedRef element it resolves the handle to a raw pointer (optionally
// unboxing), for anything else it copies the record's inline value slot
// verbatim, and either way writes one pointer-width word per element into the
// packed buffer — the flat native array mono_runtime_invoke's void** params
// argument actually points at (spec.md §4.6 step 2). The loop has no access
// to an element count: context.go's sizing pass reserves one extra,
// zero-filled trailing record (see sizeInvocation) whose tag reads as
// TagInvalid, which the loop treats as its sentinel.
//
// Every instruction here works through the two slots, RegA and RegB; no
// register needs to stay live across an iteration, so this never competes
// with the persistent per-parameter slots GenerateWrapper already reserved.
func emitVariantArrayLoop(a domain.Assembler, traits abi.Traits, bp Boilerplate, conv domain.CallingConvention, varOff, packOff int32, p domain.ParamDef, depth int) {
	stride := int32(variant.Sizeof(traits))
	ptrWidth := int32(traits.PtrWidth())

	loopStart := a.Label()
	loopEnd := a.Label()
	notManaged := a.Label()
	storeDone := a.Label()

	a.Bind(loopStart)
	a.MovRegMem(domain.RegA, domain.RegBP, varOff) // RegA = current variant-record address
	a.MovRegMem(domain.RegA, domain.RegA, 0)        // RegA = tag
	a.CmpRegImm(domain.RegA, int32(domain.TagInvalid))
	a.JzLabel(loopEnd)
	a.CmpRegImm(domain.RegA, int32(domain.TagManagedRef))
	a.JnzLabel(notManaged)

	// Managed element: resolve the handle to a raw pointer before it's ever
	// written to the packed buffer the raw call will read — the packed
	// buffer itself is ordinary heap scratch, not part of this trampoline's
	// scanned stack frame, so by the time the element lands there it must
	// already be the thing mono_runtime_invoke wants, not a bare handle.
	a.MovRegMem(domain.RegA, domain.RegBP, varOff)
	a.MovRegMem(domain.RegA, domain.RegA, ptrWidth) // RegA = handle value
	alignedCall(a, traits, depth, bp.GCHandleGetTarget, []domain.Reg{domain.RegA}, conv)
	if p.AutoUnbox {
		alignedCall(a, traits, depth, bp.ObjectUnbox, []domain.Reg{domain.RegA}, conv)
	}
	a.MovRegReg(domain.RegB, domain.RegA)
	a.MovRegMem(domain.RegA, domain.RegBP, packOff)
	a.MovMemReg(domain.RegA, 0, domain.RegB)
	a.JmpLabel(storeDone)

	a.Bind(notManaged)
	a.MovRegMem(domain.RegB, domain.RegBP, varOff)
	a.MovRegMem(domain.RegB, domain.RegB, ptrWidth) // RegB = inline value slot
	a.MovRegMem(domain.RegA, domain.RegBP, packOff)
	a.MovMemReg(domain.RegA, 0, domain.RegB)

	a.Bind(storeDone)
	a.MovRegMem(domain.RegA, domain.RegBP, varOff)
	a.AddRegImm(domain.RegA, stride)
	a.MovMemReg(domain.RegBP, varOff, domain.RegA)
	a.MovRegMem(domain.RegA, domain.RegBP, packOff)
	a.AddRegImm(domain.RegA, ptrWidth)
	a.MovMemReg(domain.RegBP, packOff, domain.RegA)
	a.JmpLabel(loopStart)
	a.Bind(loopEnd)
}
