//go:build linux

// Package ptracebackend is the Linux domain.Backend: it attaches via
// PTRACE_ATTACH, reads/writes target memory through /proc/<pid>/mem, and
// executes both remote allocation and every RPCCall by writing a short
// shellcode stub into an already-mapped executable page, trapping on a
// planted INT3, and restoring the page and registers afterward — the same
// "borrow an executable page, run, restore" technique real ptrace-based
// injectors use, avoiding a dependency on the target having a callable
// mmap trampoline of its own (spec.md §4.9's backend abstraction; build-tag
// split follows the teacher's process_unix.go/process_windows.go pattern).
package ptracebackend

import (
	"context"
	"debug/elf"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/asm"
)

// Backend attaches to one Linux process via ptrace. It is not safe for
// concurrent use from multiple goroutines directly — infra/lifecycle's
// single-worker-thread model (spec.md §4.10) is what serializes access.
type Backend struct {
	mu         sync.Mutex
	pid        int
	mem        *os.File
	elfs       map[string]*elf.File     // module path -> parsed export table, cached
	allocSizes map[domain.Rptr]uint64   // tracks mmap sizes so Free can munmap exactly
}

func New() *Backend { return &Backend{elfs: map[string]*elf.File{}, allocSizes: map[domain.Rptr]uint64{}} }

// Attach expects target to be an int or string PID, matching the loose
// "any" contract domain.Backend.Attach uses so mockbackend and the real
// backends don't need a shared concrete target type.
func (b *Backend) Attach(ctx context.Context, target any) error {
	pid, err := toPID(target)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pid != 0 {
		return domain.ErrAlreadyAttached
	}
	if err := unix.PtraceAttach(pid); err != nil {
		return fmt.Errorf("%w: PTRACE_ATTACH pid %d: %v", domain.ErrBackendFailure, pid, err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		unix.PtraceDetach(pid)
		return fmt.Errorf("%w: wait4 after attach: %v", domain.ErrBackendFailure, err)
	}
	f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDWR, 0)
	if err != nil {
		unix.PtraceDetach(pid)
		return fmt.Errorf("%w: open /proc/%d/mem: %v", domain.ErrBackendFailure, pid, err)
	}
	b.pid = pid
	b.mem = f
	return nil
}

func toPID(target any) (int, error) {
	switch v := target.(type) {
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: target %q is not a PID", domain.ErrInvalidPrecondition, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: ptracebackend target must be a PID (int or string), got %T", domain.ErrInvalidPrecondition, target)
	}
}

func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pid == 0 {
		return domain.ErrNotAttached
	}
	b.mem.Close()
	err := unix.PtraceDetach(b.pid)
	b.pid = 0
	b.mem = nil
	if err != nil {
		return fmt.Errorf("%w: PTRACE_DETACH: %v", domain.ErrBackendFailure, err)
	}
	return nil
}

func (b *Backend) Read(addr domain.Rptr, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := b.mem.ReadAt(buf, int64(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: read 0x%x: %v", domain.ErrBackendFailure, addr, err)
	}
	return buf[:n], nil
}

func (b *Backend) Write(addr domain.Rptr, data []byte) error {
	if _, err := b.mem.WriteAt(data, int64(addr)); err != nil {
		return fmt.Errorf("%w: write 0x%x: %v", domain.ErrBackendFailure, addr, err)
	}
	return nil
}

func (b *Backend) PageSize() uint64 { return uint64(os.Getpagesize()) }

// RegionSize walks /proc/<pid>/maps to find the mapping containing addr.
func (b *Backend) RegionSize(addr domain.Rptr) (uint64, error) {
	maps, err := b.readMaps()
	if err != nil {
		return 0, err
	}
	for _, m := range maps {
		if uint64(addr) >= m.start && uint64(addr) < m.end {
			return m.end - m.start, nil
		}
	}
	return 0, fmt.Errorf("%w: no mapping contains 0x%x", domain.ErrInvalidPrecondition, addr)
}

func (b *Backend) ProcessorArch() domain.ProcessorArch { return domain.ArchX86_64 }
func (b *Backend) TargetOS() domain.TargetOS           { return domain.OSLinux }
func (b *Backend) Assembler() domain.Assembler         { return asm.New(true, true) }

type mapping struct {
	start, end uint64
	perms      string
	path       string
}

func (b *Backend) readMaps() ([]mapping, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", b.pid))
	if err != nil {
		return nil, fmt.Errorf("%w: read maps: %v", domain.ErrBackendFailure, err)
	}
	var out []mapping
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(bounds[0], 16, 64)
		end, err2 := strconv.ParseUint(bounds[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		path := ""
		if len(fields) >= 6 {
			path = fields[5]
		}
		out = append(out, mapping{start: start, end: end, perms: fields[1], path: path})
	}
	return out, nil
}

// EnumerateModules collapses /proc/<pid>/maps into one entry per distinct
// backing file, using the lowest mapped address as Base and the total
// mapped span as Size — enough to drive module-relative export lookups, not
// a faithful reproduction of the dynamic linker's segment layout.
func (b *Backend) EnumerateModules() ([]domain.ModuleInfo, error) {
	maps, err := b.readMaps()
	if err != nil {
		return nil, err
	}
	byPath := map[string]*domain.ModuleInfo{}
	var order []string
	for _, m := range maps {
		if m.path == "" || strings.HasPrefix(m.path, "[") {
			continue
		}
		mi, ok := byPath[m.path]
		if !ok {
			mi = &domain.ModuleInfo{Name: m.path, Base: domain.Rptr(m.start)}
			byPath[m.path] = mi
			order = append(order, m.path)
		}
		if m.start < uint64(mi.Base) {
			mi.Base = domain.Rptr(m.start)
		}
		if m.end-m.start+uint64(mi.Base) > mi.Size {
			mi.Size = m.end - uint64(mi.Base)
		}
	}
	out := make([]domain.ModuleInfo, 0, len(order))
	for _, p := range order {
		out = append(out, *byPath[p])
	}
	return out, nil
}

func (b *Backend) GetModule(name string) (domain.ModuleInfo, bool, error) {
	mods, err := b.EnumerateModules()
	if err != nil {
		return domain.ModuleInfo{}, false, err
	}
	for _, m := range mods {
		if strings.HasSuffix(m.Name, name) {
			return m, true, nil
		}
	}
	return domain.ModuleInfo{}, false, nil
}

func (b *Backend) openELF(path string) (*elf.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.elfs[path]; ok {
		return f, nil
	}
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing ELF %s: %v", domain.ErrBackendFailure, path, err)
	}
	b.elfs[path] = f
	return f, nil
}

// ExportAddress resolves symbol against module's on-disk ELF dynamic symbol
// table (debug/elf — no third-party ELF-parsing library appears anywhere in
// the reference corpus; saferwall/pe covers the Windows side instead, see
// DESIGN.md) and rebases it onto the module's live mapped address, assuming
// a non-PIE-relative base the same way mono_module's load address already
// does for Windows.
func (b *Backend) ExportAddress(module domain.ModuleInfo, symbol string) (domain.Rptr, bool, error) {
	f, err := b.openELF(module.Name)
	if err != nil {
		return domain.Null, false, err
	}
	syms, err := f.DynamicSymbols()
	if err != nil {
		return domain.Null, false, fmt.Errorf("%w: reading dynsym: %v", domain.ErrBackendFailure, err)
	}
	for _, s := range syms {
		if s.Name == symbol && s.Value != 0 {
			return module.Base + domain.Rptr(s.Value), true, nil
		}
	}
	return domain.Null, false, nil
}

func (b *Backend) HasExport(module domain.ModuleInfo, symbol string) bool {
	_, ok, _ := b.ExportAddress(module, symbol)
	return ok
}

func (b *Backend) Free(addr domain.Rptr) error {
	b.mu.Lock()
	size := b.allocSizes[addr]
	delete(b.allocSizes, addr)
	b.mu.Unlock()
	_, err := b.runSyscall(unix.SYS_MUNMAP, uint64(addr), size, 0, 0, 0, 0)
	return err
}

// Alloc issues a remote mmap(MAP_PRIVATE|MAP_ANONYMOUS) via runSyscall.
func (b *Backend) Alloc(size uint64, prot domain.MemoryProtection) (domain.Rptr, error) {
	pageSize := b.PageSize()
	size = (size + pageSize - 1) / pageSize * pageSize

	var protFlag uint64 = unix.PROT_READ | unix.PROT_WRITE
	if prot == domain.ProtExecuteReadWrite {
		protFlag = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	} else if prot == domain.ProtExecuteRead {
		protFlag = unix.PROT_READ | unix.PROT_EXEC
	}

	ret, err := b.runSyscall(unix.SYS_MMAP, 0, size, protFlag, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS, ^uint64(0), 0)
	if err != nil {
		return domain.Null, err
	}
	addr := domain.Rptr(ret)
	b.mu.Lock()
	b.allocSizes[addr] = size
	b.mu.Unlock()
	return addr, nil
}

// RPCCall builds a short stub with infra/asm's GenCall for the requested
// calling convention, plants it over a borrowed executable page, and single
// shots it via runShellcode, returning the raw RAX result.
func (b *Backend) RPCCall(ctx context.Context, addr domain.Rptr, conv domain.CallingConvention, args []uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a := asm.New(true, true)
	argRegs := make([]domain.Reg, len(args))
	generalRegs := []domain.Reg{domain.RegDI, domain.RegSI, domain.RegD, domain.RegC, domain.RegR8, domain.RegR9}
	for i, v := range args {
		if i >= len(generalRegs) {
			return 0, fmt.Errorf("%w: too many RPCCall arguments (%d) for the stub's scratch registers", domain.ErrInvalidPrecondition, len(args))
		}
		a.MovRegImm(generalRegs[i], int64(v))
		argRegs[i] = generalRegs[i]
	}
	a.GenCall(addr, argRegs, conv)
	a.Link()
	return b.runShellcode(a.Bytes())
}

func (b *Backend) runSyscall(nr int, a1, a2, a3, a4, a5, a6 uint64) (uint64, error) {
	code := []byte{
		0x48, 0xB8, 0, 0, 0, 0, 0, 0, 0, 0, // movabs rax, imm64 (syscall nr)
		0x48, 0xBF, 0, 0, 0, 0, 0, 0, 0, 0, // movabs rdi, imm64
		0x48, 0xBE, 0, 0, 0, 0, 0, 0, 0, 0, // movabs rsi, imm64
		0x48, 0xBA, 0, 0, 0, 0, 0, 0, 0, 0, // movabs rdx, imm64
		0x49, 0xBA, 0, 0, 0, 0, 0, 0, 0, 0, // movabs r10, imm64
		0x49, 0xB8, 0, 0, 0, 0, 0, 0, 0, 0, // movabs r8, imm64
		0x49, 0xB9, 0, 0, 0, 0, 0, 0, 0, 0, // movabs r9, imm64
		0x0F, 0x05, // syscall
	}
	putImm := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			code[off+i] = byte(v >> (8 * i))
		}
	}
	putImm(2, uint64(nr))
	putImm(12, a1)
	putImm(22, a2)
	putImm(32, a3)
	putImm(42, a4)
	putImm(52, a5)
	putImm(62, a6)
	return b.runShellcode(code)
}

// runShellcode borrows len(code)+1 bytes at the start of an already-mapped
// executable region (the first one findExecutablePage finds), overwrites
// them with code followed by an INT3, runs the target until that trap
// fires, captures RAX, then
// restores the original bytes and register state.
func (b *Backend) runShellcode(code []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	execAddr, err := b.findExecutablePage()
	if err != nil {
		return 0, err
	}

	var savedRegs unix.PtraceRegs
	if err := unix.PtraceGetRegs(b.pid, &savedRegs); err != nil {
		return 0, fmt.Errorf("%w: PTRACE_GETREGS: %v", domain.ErrBackendFailure, err)
	}

	stub := append(append([]byte{}, code...), 0xCC)
	original := make([]byte, len(stub))
	if _, err := b.mem.ReadAt(original, int64(execAddr)); err != nil {
		return 0, fmt.Errorf("%w: backing up executable page: %v", domain.ErrBackendFailure, err)
	}
	if _, err := b.mem.WriteAt(stub, int64(execAddr)); err != nil {
		return 0, fmt.Errorf("%w: writing stub: %v", domain.ErrBackendFailure, err)
	}
	defer b.mem.WriteAt(original, int64(execAddr))

	regs := savedRegs
	regs.Rip = uint64(execAddr)
	if err := unix.PtraceSetRegs(b.pid, &regs); err != nil {
		return 0, fmt.Errorf("%w: PTRACE_SETREGS: %v", domain.ErrBackendFailure, err)
	}
	defer unix.PtraceSetRegs(b.pid, &savedRegs)

	if err := unix.PtraceCont(b.pid, 0); err != nil {
		return 0, fmt.Errorf("%w: PTRACE_CONT: %v", domain.ErrBackendFailure, err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(b.pid, &ws, 0, nil); err != nil {
		return 0, fmt.Errorf("%w: wait4 after stub: %v", domain.ErrBackendFailure, err)
	}
	if ws.StopSignal() != syscall.SIGTRAP {
		return 0, fmt.Errorf("%w: stub stopped on unexpected signal %v", domain.ErrBackendFailure, ws.StopSignal())
	}

	var resultRegs unix.PtraceRegs
	if err := unix.PtraceGetRegs(b.pid, &resultRegs); err != nil {
		return 0, fmt.Errorf("%w: PTRACE_GETREGS (result): %v", domain.ErrBackendFailure, err)
	}
	return resultRegs.Rax, nil
}

// findExecutablePage returns the base of the first executable mapping in
// the target, used as scratch space for runShellcode's borrow-and-restore
// technique.
func (b *Backend) findExecutablePage() (domain.Rptr, error) {
	maps, err := b.readMaps()
	if err != nil {
		return domain.Null, err
	}
	for _, m := range maps {
		if strings.Contains(m.perms, "x") {
			return domain.Rptr(m.start), nil
		}
	}
	return domain.Null, fmt.Errorf("%w: no executable mapping found in target", domain.ErrBackendFailure)
}
