// Package asm is a small x86/x86-64 machine-code emitter with label support,
// backing Component 1's assembler contract (spec.md §4.2) and the wrapper
// generator of Component 6 (spec.md §4.6). It is a hand-rolled encoder in
// the style of a small compiler backend — byte buffer plus fixup table —
// grounded on the register-file/fixup conventions of a compiler-backend
// code generator (see DESIGN.md: tinyrange/rtg's std/compiler/backend_*.go).
package asm

import (
	"encoding/binary"
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
)

// fixup records a not-yet-resolved branch/call target: codeOffset is where
// the rel32 operand bytes begin, label is the target.
type fixup struct {
	codeOffset int
	label      domain.Label
}

// Assembler is the concrete implementation of domain.Assembler shared by the
// x86 and x86-64 variants; Is64 selects the encoding used by the handful of
// methods that differ (REX prefixes, register count).
type Assembler struct {
	Is64 bool
	// SysV selects the System V x86-64 argument-register order
	// (RDI,RSI,RDX,RCX,R8,R9) used on Linux; when false, GenCall uses the
	// Microsoft x64 order (RCX,RDX,R8,R9) plus 32 bytes of shadow space.
	// Meaningless when Is64 is false.
	SysV bool

	code   []byte
	labels []int // label id -> offset, -1 until Bind
	fixups []fixup
}

func New(is64, sysV bool) *Assembler {
	return &Assembler{Is64: is64, SysV: sysV}
}

func (a *Assembler) Label() domain.Label {
	a.labels = append(a.labels, -1)
	return domain.Label(len(a.labels) - 1)
}

func (a *Assembler) Bind(lbl domain.Label) {
	a.labels[int(lbl)] = len(a.code)
}

func (a *Assembler) Bytes() []byte { return a.code }
func (a *Assembler) Pos() int      { return len(a.code) }

func (a *Assembler) emit(b ...byte) { a.code = append(a.code, b...) }

func (a *Assembler) emitImm32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	a.emit(buf[:]...)
}

func (a *Assembler) emitImm64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	a.emit(buf[:]...)
}

// Link resolves every recorded fixup into a rel32 displacement relative to
// the end of the 4-byte operand, panicking if a label was never bound — a
// code-emission bug, not a recoverable runtime condition.
func (a *Assembler) Link() {
	for _, f := range a.fixups {
		target := a.labels[int(f.label)]
		if target < 0 {
			panic(fmt.Sprintf("asm: label %d never bound", f.label))
		}
		rel := int32(target - (f.codeOffset + 4))
		binary.LittleEndian.PutUint32(a.code[f.codeOffset:f.codeOffset+4], uint32(rel))
	}
}

func (a *Assembler) addFixup(lbl domain.Label) {
	a.fixups = append(a.fixups, fixup{codeOffset: len(a.code), label: lbl})
	a.emitImm32(0) // placeholder, patched by Link
}
