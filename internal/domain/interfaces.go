package domain

import "context"

// ─── Backend Port ───────────────────────────────────────────────────────────
// Backend abstracts everything the core needs from a target process: memory
// I/O, module/export lookup, remote allocation, code assembly emission, and
// worker-thread RPC with an explicit calling convention (spec.md §4.2). This
// is the system's one injected dependency — infra/backend provides concrete
// implementations, the core only ever depends on this interface.

// ModuleInfo describes one module (shared library/DLL) loaded in the target.
type ModuleInfo struct {
	Name string
	Base Rptr
	Size uint64
}

// MemoryProtection is a backend-neutral memory protection flag set, mapped
// onto PAGE_EXECUTE_READWRITE / PROT_EXEC|PROT_READ|PROT_WRITE etc. by each
// concrete backend.
type MemoryProtection int

const (
	ProtReadWrite MemoryProtection = iota
	ProtExecuteReadWrite
	ProtExecuteRead
)

// Assembler emits x86 or x86-64 machine code with label support, and knows
// how to emit a call using a given calling convention (spec.md §4.2).
type Assembler interface {
	// Label allocates a new, as-yet-unbound label.
	Label() Label
	// Bind fixes lbl to the assembler's current write position.
	Bind(lbl Label)
	// Bytes returns the bytes emitted so far.
	Bytes() []byte
	// Pos returns the current write offset.
	Pos() int

	// Integer/pointer moves, arithmetic, stack and control flow primitives.
	// Each concrete assembler (x86, x86-64) implements the full op set; the
	// core only uses this narrow interface plus GenCall.
	MovRegImm(reg Reg, imm int64)
	MovRegReg(dst, src Reg)
	MovRegMem(dst Reg, base Reg, offset int32)
	MovMemReg(base Reg, offset int32, src Reg)
	Push(reg Reg)
	Pop(reg Reg)
	AddRegImm(reg Reg, imm int32)
	SubRegImm(reg Reg, imm int32)
	CmpRegImm(reg Reg, imm int32)
	Test(reg Reg)
	JmpLabel(lbl Label)
	JzLabel(lbl Label)
	JnzLabel(lbl Label)
	CallReg(reg Reg)
	CallLabel(lbl Label)
	Ret()

	// Link resolves every branch/call target recorded so far against its
	// bound label; call it once, after the last instruction is emitted.
	Link()

	// GenCall emits a full call sequence to addr using the given calling
	// convention with args already loaded into registers, returning the
	// register the result ends up in.
	GenCall(addr Rptr, args []Reg, conv CallingConvention) Reg
}

// Label is an opaque, assembler-owned forward/backward branch target.
type Label int

// Reg is a backend/ABI-neutral register name; each Assembler implementation
// maps it onto its own physical register file.
type Reg int

const (
	RegA Reg = iota
	RegB
	RegC
	RegD
	RegSI
	RegDI
	RegBP
	RegSP
	RegR8
	RegR9
	RegR10
	RegR11
)

// Backend is the contract the core consumes from the process-access layer.
type Backend interface {
	Attach(ctx context.Context, target any) error
	Detach() error

	GetModule(name string) (ModuleInfo, bool, error)
	EnumerateModules() ([]ModuleInfo, error)
	ExportAddress(module ModuleInfo, symbol string) (Rptr, bool, error)
	HasExport(module ModuleInfo, symbol string) bool

	Alloc(size uint64, prot MemoryProtection) (Rptr, error)
	Free(addr Rptr) error

	Read(addr Rptr, size uint64) ([]byte, error)
	Write(addr Rptr, data []byte) error

	PageSize() uint64
	RegionSize(addr Rptr) (uint64, error)
	ProcessorArch() ProcessorArch
	TargetOS() TargetOS

	Assembler() Assembler

	// RPCCall synchronously runs code at addr on the worker thread using
	// conv, passing args (already-narrowed, ABI-width words) and returning
	// the raw result word.
	RPCCall(ctx context.Context, addr Rptr, conv CallingConvention, args []uint64) (uint64, error)
}
