package ipcvector

import (
	"encoding/binary"
	"testing"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
	"github.com/tutu-network/rmono/internal/infra/backend/mockbackend"
)

func setup(t *testing.T) (*mockbackend.Backend, abi.Traits) {
	b := mockbackend.New(domain.ArchX86_64, domain.OSLinux)
	tr, err := abi.Select(domain.ArchX86_64, domain.OSLinux)
	if err != nil {
		t.Fatalf("abi.Select: %v", err)
	}
	return b, tr
}

func TestNew_InitializesEmptyWithRequestedCapacity(t *testing.T) {
	b, tr := setup(t)
	v, err := New(b, tr, 8, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, err := v.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Fatalf("Len = %d, want 0", n)
	}
	if v.Cap() != 4 {
		t.Fatalf("Cap = %d, want 4", v.Cap())
	}
}

func TestGrow_PreservesExistingDataAndLength(t *testing.T) {
	b, tr := setup(t)
	v, err := New(b, tr, 8, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Simulate the target writing 2 elements and updating length, as an
	// enumeration wrapper would.
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:8], 0xAAAA)
	binary.LittleEndian.PutUint64(data[8:16], 0xBBBB)
	if err := b.Write(v.Addr()+domain.Rptr(v.headerSize()), data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lenBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenBuf, 2)
	if err := b.Write(v.Addr(), lenBuf); err != nil {
		t.Fatalf("Write length: %v", err)
	}

	if err := v.Grow(16); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if v.Cap() != 16 {
		t.Fatalf("Cap after grow = %d, want 16", v.Cap())
	}
	n, err := v.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 2 {
		t.Fatalf("Len after grow = %d, want 2", n)
	}
	out, err := v.Data(2)
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if binary.LittleEndian.Uint64(out[0:8]) != 0xAAAA || binary.LittleEndian.Uint64(out[8:16]) != 0xBBBB {
		t.Fatalf("data not preserved across grow: %x", out)
	}
}

func TestClear_ResetsLengthWithoutReallocating(t *testing.T) {
	b, tr := setup(t)
	v, err := New(b, tr, 8, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lenBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenBuf, 3)
	b.Write(v.Addr(), lenBuf)

	if err := v.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	n, err := v.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Fatalf("Len after clear = %d, want 0", n)
	}
	if v.Cap() != 4 {
		t.Fatalf("Cap changed by Clear: %d, want 4", v.Cap())
	}
}

func TestFree_SecondCallReportsInvalidHandle(t *testing.T) {
	b, tr := setup(t)
	v, err := New(b, tr, 8, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Free(); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := v.Free(); err != domain.ErrInvalidHandle {
		t.Fatalf("second Free err = %v, want ErrInvalidHandle", err)
	}
}

func TestData_RejectsRequestBeyondCapacity(t *testing.T) {
	b, tr := setup(t)
	v, err := New(b, tr, 8, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := v.Data(10); err == nil {
		t.Fatal("expected error requesting more elements than capacity")
	}
}

func TestNew_CursorStartsAtFirstElementSlot(t *testing.T) {
	b, tr := setup(t)
	v, err := New(b, tr, 8, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := b.Read(v.Addr()+domain.Rptr(v.CursorFieldOffset()), 8)
	if err != nil {
		t.Fatalf("Read cursor: %v", err)
	}
	if got := binary.LittleEndian.Uint64(raw); got != uint64(v.Addr())+uint64(v.headerSize()) {
		t.Fatalf("cursor = %#x, want %#x (first element slot)", got, uint64(v.Addr())+uint64(v.headerSize()))
	}
}

func TestClear_RewindsCursorToFirstElementSlot(t *testing.T) {
	b, tr := setup(t)
	v, err := New(b, tr, 8, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Simulate a collector trampoline having advanced the cursor.
	advanced := make([]byte, 8)
	binary.LittleEndian.PutUint64(advanced, uint64(v.Addr())+uint64(v.headerSize())+16)
	if err := b.Write(v.Addr()+domain.Rptr(v.CursorFieldOffset()), advanced); err != nil {
		t.Fatalf("Write cursor: %v", err)
	}

	if err := v.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	raw, err := b.Read(v.Addr()+domain.Rptr(v.CursorFieldOffset()), 8)
	if err != nil {
		t.Fatalf("Read cursor: %v", err)
	}
	if got := binary.LittleEndian.Uint64(raw); got != uint64(v.Addr())+uint64(v.headerSize()) {
		t.Fatalf("cursor after Clear = %#x, want %#x", got, uint64(v.Addr())+uint64(v.headerSize()))
	}
}

func TestGrow_AdvancesCursorPastPreservedElements(t *testing.T) {
	b, tr := setup(t)
	v, err := New(b, tr, 8, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:8], 0xAAAA)
	binary.LittleEndian.PutUint64(data[8:16], 0xBBBB)
	if err := b.Write(v.Addr()+domain.Rptr(v.headerSize()), data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lenBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenBuf, 2)
	if err := b.Write(v.Addr(), lenBuf); err != nil {
		t.Fatalf("Write length: %v", err)
	}

	if err := v.Grow(16); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	raw, err := b.Read(v.Addr()+domain.Rptr(v.CursorFieldOffset()), 8)
	if err != nil {
		t.Fatalf("Read cursor: %v", err)
	}
	want := uint64(v.Addr()) + uint64(v.headerSize()) + 16
	if got := binary.LittleEndian.Uint64(raw); got != want {
		t.Fatalf("cursor after Grow = %#x, want %#x (past the two preserved elements)", got, want)
	}
}
