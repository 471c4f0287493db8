// Package mockbackend is an in-process fake implementing domain.Backend
// without a real target process, for unit and end-to-end tests of the
// layers above it (dispatcher, function, rmono). It models target memory as
// a Go byte slice and "executes" RPCCall by dispatching to a registered Go
// function keyed by address, since this package never runs real machine
// code — grounded on the teacher's pattern of a scripted fake standing in
// for a remote dependency (internal/infra/engine's subprocess tests use the
// same shape: a fake that answers scripted responses instead of spawning a
// real process).
package mockbackend

import (
	"context"
	"fmt"
	"sync"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/asm"
)

// Handler is a scripted stand-in for a Mono API export: it receives the
// call's integer arguments (already narrowed to the backend's ABI width by
// the caller) and returns the function's integer/pointer result.
type Handler func(args []uint64) (uint64, error)

// Backend is the mock implementation of domain.Backend.
type Backend struct {
	mu sync.Mutex

	arch domain.ProcessorArch
	os   domain.TargetOS
	is64 bool
	sysV bool

	attached bool
	mem      map[domain.Rptr][]byte
	nextAddr domain.Rptr
	pageSz   uint64

	modules   []domain.ModuleInfo
	exports   map[string]map[string]domain.Rptr // module name -> symbol -> addr
	handlers  map[domain.Rptr]Handler
}

// New constructs a mock backend for the given architecture/OS pairing, with
// one pre-registered module ("libmonosgen-2.0.so" or "mono.dll" depending on os) whose
// exports are populated via RegisterExport.
func New(arch domain.ProcessorArch, os domain.TargetOS) *Backend {
	is64 := arch == domain.ArchX86_64
	b := &Backend{
		arch:     arch,
		os:       os,
		is64:     is64,
		sysV:     os == domain.OSLinux,
		mem:      map[domain.Rptr][]byte{},
		nextAddr: domain.Rptr(0x10000),
		pageSz:   4096,
		exports:  map[string]map[string]domain.Rptr{},
		handlers: map[domain.Rptr]Handler{},
	}
	monoName := "mono.dll"
	if os == domain.OSLinux {
		monoName = "libmonosgen-2.0.so"
	}
	b.modules = append(b.modules, domain.ModuleInfo{Name: monoName, Base: domain.Rptr(0x400000), Size: 0x200000})
	return b
}

// MonoModuleName returns the name New registered for the simulated Mono
// module, so tests don't have to special-case OS.
func (b *Backend) MonoModuleName() string { return b.modules[0].Name }

// Handle wires fn to run when addr is RPCCall'd, without going through
// export resolution. Tests use this to script the behavior of a
// dispatcher-synthesized wrapper trampoline (whose address isn't known
// until after dispatcher.Build runs), since this backend never executes
// real machine code to derive that behavior itself.
func (b *Backend) Handle(addr domain.Rptr, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[addr] = fn
}

// RegisterExport makes symbol resolvable in module via ExportAddress/
// HasExport, and wires fn to run when that address is RPCCall'd.
func (b *Backend) RegisterExport(module, symbol string, fn Handler) domain.Rptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr := b.nextAddr
	b.nextAddr += 16
	if b.exports[module] == nil {
		b.exports[module] = map[string]domain.Rptr{}
	}
	b.exports[module][symbol] = addr
	b.handlers[addr] = fn
	return addr
}

func (b *Backend) Attach(ctx context.Context, target any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached {
		return domain.ErrAlreadyAttached
	}
	b.attached = true
	return nil
}

func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return domain.ErrNotAttached
	}
	b.attached = false
	return nil
}

func (b *Backend) GetModule(name string) (domain.ModuleInfo, bool, error) {
	for _, m := range b.modules {
		if m.Name == name {
			return m, true, nil
		}
	}
	return domain.ModuleInfo{}, false, nil
}

func (b *Backend) EnumerateModules() ([]domain.ModuleInfo, error) {
	out := make([]domain.ModuleInfo, len(b.modules))
	copy(out, b.modules)
	return out, nil
}

func (b *Backend) ExportAddress(module domain.ModuleInfo, symbol string) (domain.Rptr, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr, ok := b.exports[module.Name][symbol]
	return addr, ok, nil
}

func (b *Backend) HasExport(module domain.ModuleInfo, symbol string) bool {
	_, ok, _ := b.ExportAddress(module, symbol)
	return ok
}

func (b *Backend) Alloc(size uint64, prot domain.MemoryProtection) (domain.Rptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr := b.nextAddr
	b.nextAddr += domain.Rptr(size) + 16
	b.mem[addr] = make([]byte, size)
	return addr, nil
}

func (b *Backend) Free(addr domain.Rptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mem[addr]; !ok {
		return fmt.Errorf("mockbackend: free of unknown address 0x%x", addr)
	}
	delete(b.mem, addr)
	return nil
}

// region returns the bytes from addr to the end of the allocation containing
// it, so reads and writes may start anywhere inside an allocation.
func (b *Backend) region(addr domain.Rptr) ([]byte, bool) {
	if buf, ok := b.mem[addr]; ok {
		return buf, true
	}
	for base, buf := range b.mem {
		if addr > base && uint64(addr-base) < uint64(len(buf)) {
			return buf[addr-base:], true
		}
	}
	return nil, false
}

func (b *Backend) Read(addr domain.Rptr, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.region(addr)
	if !ok {
		return nil, fmt.Errorf("mockbackend: read from unmapped address 0x%x", addr)
	}
	if uint64(len(buf)) < size {
		return nil, fmt.Errorf("mockbackend: short read at 0x%x: have %d, want %d", addr, len(buf), size)
	}
	out := make([]byte, size)
	copy(out, buf[:size])
	return out, nil
}

func (b *Backend) Write(addr domain.Rptr, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.region(addr)
	if !ok {
		return fmt.Errorf("mockbackend: write to unmapped address 0x%x", addr)
	}
	if len(buf) < len(data) {
		return fmt.Errorf("mockbackend: write overflows allocation at 0x%x: have %d, want %d", addr, len(buf), len(data))
	}
	copy(buf, data)
	return nil
}

func (b *Backend) PageSize() uint64 { return b.pageSz }

func (b *Backend) RegionSize(addr domain.Rptr) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.mem[addr]
	if !ok {
		return 0, fmt.Errorf("mockbackend: unknown region 0x%x", addr)
	}
	return uint64(len(buf)), nil
}

func (b *Backend) ProcessorArch() domain.ProcessorArch { return b.arch }
func (b *Backend) TargetOS() domain.TargetOS           { return b.os }

func (b *Backend) Assembler() domain.Assembler { return asm.New(b.is64, b.sysV) }

// RPCCall looks up the handler registered for addr and invokes it directly,
// standing in for actually executing injected machine code on a worker
// thread inside the target. The handler runs synchronously on the calling
// goroutine; this backend does no serialization of its own beyond the lock
// held while looking the handler up.
func (b *Backend) RPCCall(ctx context.Context, addr domain.Rptr, conv domain.CallingConvention, args []uint64) (uint64, error) {
	b.mu.Lock()
	h, ok := b.handlers[addr]
	b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("mockbackend: call to unregistered address 0x%x", addr)
	}
	return h(args)
}
