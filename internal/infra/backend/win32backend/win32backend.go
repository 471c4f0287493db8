//go:build windows

// Package win32backend is the Windows domain.Backend: OpenProcess +
// ReadProcessMemory/WriteProcessMemory for memory access, VirtualAllocEx/
// VirtualFreeEx for remote allocation, and CreateRemoteThread pointed at a
// small infra/asm-generated stub for RPCCall — the standard Win32
// code-injection primitives, in place of ptracebackend's borrow-an-
// executable-page technique (spec.md §4.9; build-tag split mirrors the
// teacher's process_unix.go/process_windows.go pattern).
package win32backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/saferwall/pe"
	"golang.org/x/sys/windows"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/asm"
)

type Backend struct {
	mu      sync.Mutex
	pid     uint32
	handle  windows.Handle
	is64    bool
	peCache map[string]*pe.File
}

func New() *Backend { return &Backend{peCache: map[string]*pe.File{}} }

func (b *Backend) Attach(ctx context.Context, target any) error {
	pid, ok := target.(uint32)
	if !ok {
		if i, ok2 := target.(int); ok2 {
			pid = uint32(i)
		} else {
			return fmt.Errorf("%w: win32backend target must be a PID", domain.ErrInvalidPrecondition)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle != 0 {
		return domain.ErrAlreadyAttached
	}
	access := uint32(windows.PROCESS_VM_READ | windows.PROCESS_VM_WRITE | windows.PROCESS_VM_OPERATION |
		windows.PROCESS_CREATE_THREAD | windows.PROCESS_QUERY_INFORMATION)
	h, err := windows.OpenProcess(access, false, pid)
	if err != nil {
		return fmt.Errorf("%w: OpenProcess %d: %v", domain.ErrBackendFailure, pid, err)
	}
	var isWow64 bool
	windows.IsWow64Process(h, &isWow64)
	b.pid = pid
	b.handle = h
	b.is64 = !isWow64
	return nil
}

func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle == 0 {
		return domain.ErrNotAttached
	}
	err := windows.CloseHandle(b.handle)
	b.handle = 0
	if err != nil {
		return fmt.Errorf("%w: CloseHandle: %v", domain.ErrBackendFailure, err)
	}
	return nil
}

func (b *Backend) Read(addr domain.Rptr, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	var n uintptr
	if err := windows.ReadProcessMemory(b.handle, uintptr(addr), &buf[0], uintptr(size), &n); err != nil {
		return nil, fmt.Errorf("%w: ReadProcessMemory 0x%x: %v", domain.ErrBackendFailure, addr, err)
	}
	return buf[:n], nil
}

func (b *Backend) Write(addr domain.Rptr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var n uintptr
	if err := windows.WriteProcessMemory(b.handle, uintptr(addr), &data[0], uintptr(len(data)), &n); err != nil {
		return fmt.Errorf("%w: WriteProcessMemory 0x%x: %v", domain.ErrBackendFailure, addr, err)
	}
	return nil
}

func (b *Backend) PageSize() uint64 {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)
	return uint64(info.PageSize)
}

func (b *Backend) RegionSize(addr domain.Rptr) (uint64, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQueryEx(b.handle, uintptr(addr), &mbi, unsafe.Sizeof(mbi)); err != nil {
		return 0, fmt.Errorf("%w: VirtualQueryEx 0x%x: %v", domain.ErrBackendFailure, addr, err)
	}
	return uint64(mbi.RegionSize), nil
}

func (b *Backend) ProcessorArch() domain.ProcessorArch {
	if b.is64 {
		return domain.ArchX86_64
	}
	return domain.ArchX86
}
func (b *Backend) TargetOS() domain.TargetOS { return domain.OSWindows }
func (b *Backend) Assembler() domain.Assembler { return asm.New(b.is64, false) }

func (b *Backend) Alloc(size uint64, prot domain.MemoryProtection) (domain.Rptr, error) {
	protFlag := uint32(windows.PAGE_READWRITE)
	if prot == domain.ProtExecuteReadWrite {
		protFlag = windows.PAGE_EXECUTE_READWRITE
	} else if prot == domain.ProtExecuteRead {
		protFlag = windows.PAGE_EXECUTE_READ
	}
	addr, err := windows.VirtualAllocEx(b.handle, 0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, protFlag)
	if err != nil {
		return domain.Null, fmt.Errorf("%w: VirtualAllocEx: %v", domain.ErrAllocationFailed, err)
	}
	return domain.Rptr(addr), nil
}

func (b *Backend) Free(addr domain.Rptr) error {
	if err := windows.VirtualFreeEx(b.handle, uintptr(addr), 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("%w: VirtualFreeEx 0x%x: %v", domain.ErrBackendFailure, addr, err)
	}
	return nil
}

func (b *Backend) EnumerateModules() ([]domain.ModuleInfo, error) {
	var handles [1024]windows.Handle
	var needed uint32
	if err := windows.EnumProcessModulesEx(b.handle, &handles[0], uint32(len(handles))*uint32(unsafe.Sizeof(handles[0])), &needed, windows.LIST_MODULES_ALL); err != nil {
		return nil, fmt.Errorf("%w: EnumProcessModulesEx: %v", domain.ErrBackendFailure, err)
	}
	count := int(needed) / int(unsafe.Sizeof(handles[0]))
	out := make([]domain.ModuleInfo, 0, count)
	for i := 0; i < count; i++ {
		var mi windows.ModuleInfo
		if err := windows.GetModuleInformation(b.handle, handles[i], &mi, uint32(unsafe.Sizeof(mi))); err != nil {
			continue
		}
		var nameBuf [windows.MAX_PATH]uint16
		n, err := windows.GetModuleFileNameEx(b.handle, handles[i], &nameBuf[0], uint32(len(nameBuf)))
		name := ""
		if err == nil {
			name = windows.UTF16ToString(nameBuf[:n])
		}
		out = append(out, domain.ModuleInfo{Name: name, Base: domain.Rptr(mi.BaseOfDll), Size: uint64(mi.SizeOfImage)})
	}
	return out, nil
}

func (b *Backend) GetModule(name string) (domain.ModuleInfo, bool, error) {
	mods, err := b.EnumerateModules()
	if err != nil {
		return domain.ModuleInfo{}, false, err
	}
	for _, m := range mods {
		if strings.EqualFold(m.Name, name) || strings.HasSuffix(strings.ToLower(m.Name), strings.ToLower(name)) {
			return m, true, nil
		}
	}
	return domain.ModuleInfo{}, false, nil
}

func (b *Backend) openPE(path string) (*pe.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.peCache[path]; ok {
		return f, nil
	}
	f, err := pe.New(path, &pe.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: opening PE %s: %v", domain.ErrBackendFailure, path, err)
	}
	if err := f.Parse(); err != nil {
		return nil, fmt.Errorf("%w: parsing PE %s: %v", domain.ErrBackendFailure, path, err)
	}
	b.peCache[path] = f
	return f, nil
}

// ExportAddress resolves symbol via the on-disk PE's export directory
// (github.com/saferwall/pe, the same library infra/metadata uses for the
// .NET metadata tables) and rebases the resulting RVA onto the module's
// live mapped base.
func (b *Backend) ExportAddress(module domain.ModuleInfo, symbol string) (domain.Rptr, bool, error) {
	f, err := b.openPE(module.Name)
	if err != nil {
		return domain.Null, false, err
	}
	for _, fn := range f.Export.Functions {
		if fn.Name == symbol {
			return module.Base + domain.Rptr(fn.FunctionRVA), true, nil
		}
	}
	return domain.Null, false, nil
}

func (b *Backend) HasExport(module domain.ModuleInfo, symbol string) bool {
	_, ok, _ := b.ExportAddress(module, symbol)
	return ok
}

// RPCCall writes a short infra/asm-generated stub into scratch memory
// allocated with Alloc, runs it on a fresh thread via CreateRemoteThread,
// waits for completion, and reads the thread's exit code as the low 32
// bits of the call's result — Windows' equivalent of ptracebackend's
// borrow-an-executable-page technique, using the OS's own remote-thread
// primitive instead of planting a breakpoint.
func (b *Backend) RPCCall(ctx context.Context, addr domain.Rptr, conv domain.CallingConvention, args []uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a := asm.New(b.is64, false)
	argRegs := make([]domain.Reg, len(args))
	generalRegs := []domain.Reg{domain.RegC, domain.RegD, domain.RegR8, domain.RegR9}
	if !b.is64 {
		generalRegs = []domain.Reg{domain.RegSI, domain.RegDI, domain.RegBP}
	}
	for i, v := range args {
		if i >= len(generalRegs) {
			return 0, fmt.Errorf("%w: too many RPCCall arguments (%d) for the stub's scratch registers", domain.ErrInvalidPrecondition, len(args))
		}
		a.MovRegImm(generalRegs[i], int64(v))
		argRegs[i] = generalRegs[i]
	}
	a.GenCall(addr, argRegs, conv)
	a.Ret()
	a.Link()
	code := a.Bytes()

	stubAddr, err := b.Alloc(uint64(len(code)), domain.ProtExecuteReadWrite)
	if err != nil {
		return 0, err
	}
	defer b.Free(stubAddr)
	if err := b.Write(stubAddr, code); err != nil {
		return 0, err
	}

	thread, _, err := windows.CreateRemoteThread(b.handle, nil, 0, uintptr(stubAddr), 0, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: CreateRemoteThread: %v", domain.ErrBackendFailure, err)
	}
	defer windows.CloseHandle(thread)

	if _, err := windows.WaitForSingleObject(thread, uint32(30*time.Second/time.Millisecond)); err != nil {
		return 0, fmt.Errorf("%w: WaitForSingleObject on remote thread: %v", domain.ErrBackendFailure, err)
	}
	var exitCode uint32
	if err := windows.GetExitCodeThread(thread, &exitCode); err != nil {
		return 0, fmt.Errorf("%w: GetExitCodeThread: %v", domain.ErrBackendFailure, err)
	}
	return uint64(exitCode), nil
}
