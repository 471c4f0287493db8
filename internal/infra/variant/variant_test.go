package variant

import (
	"testing"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
)

func traits64(t *testing.T) abi.Traits {
	tr, err := abi.Select(domain.ArchX86_64, domain.OSLinux)
	if err != nil {
		t.Fatalf("abi.Select: %v", err)
	}
	return tr
}

func TestSerialize_RawPointerRoundTrips(t *testing.T) {
	tr := traits64(t)
	v := domain.Variant{Tag: domain.TagRawPointer, RawValue: domain.Rptr(0xDEADBEEF)}
	buf := make([]byte, Sizeof(tr))
	if err := Serialize(tr, v, buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	var out domain.Rptr
	upd := domain.Variant{RawSlot: &out}
	if err := Update(tr, buf, &upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out != domain.Rptr(0xDEADBEEF) {
		t.Fatalf("round trip = 0x%x, want 0xDEADBEEF", out)
	}
}

func TestSerialize_NullVariantSetsRawPointerTag(t *testing.T) {
	tr := traits64(t)
	v := domain.Variant{Null: true}
	buf := make([]byte, Sizeof(tr))
	if err := Serialize(tr, v, buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if domain.VariantTag(buf[0]) != domain.TagRawPointer {
		t.Fatalf("tag byte = %d, want TagRawPointer", buf[0])
	}
	allZero := true
	for _, b := range buf[1:] {
		if b != 0 {
			allZero = false
		}
	}
	if !allZero {
		t.Fatal("null variant should zero its payload")
	}
}

func TestSerialize_BufferTooSmallErrors(t *testing.T) {
	tr := traits64(t)
	v := domain.Variant{Tag: domain.TagValue}
	buf := make([]byte, 1)
	if err := Serialize(tr, v, buf); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

type fakeManagedHandle domain.GCHandle

func (f fakeManagedHandle) GCHandle() domain.GCHandle { return domain.GCHandle(f) }

func TestSerialize_ManagedRefNarrowsGCHandle(t *testing.T) {
	tr := traits64(t)
	v := domain.Variant{Tag: domain.TagManagedRef, Managed: fakeManagedHandle(7)}
	buf := make([]byte, Sizeof(tr))
	if err := Serialize(tr, v, buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	var out domain.ManagedHandle
	upd := domain.Variant{OutSlot: &out}
	if err := Update(tr, buf, &upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.GCHandle() != domain.GCHandle(7) {
		t.Fatalf("round trip GCHandle = %d, want 7", out.GCHandle())
	}
}

func TestSerializeArray_NullArraySkipsWrite(t *testing.T) {
	tr := traits64(t)
	arr := domain.VariantArray{Null: true}
	if err := SerializeArray(tr, arr, nil); err != nil {
		t.Fatalf("SerializeArray on null array should no-op: %v", err)
	}
}

func TestSerializeArray_RoundTripsMultipleItems(t *testing.T) {
	tr := traits64(t)
	arr := domain.VariantArray{Items: []domain.Variant{
		{Tag: domain.TagRawPointer, RawValue: domain.Rptr(1)},
		{Tag: domain.TagRawPointer, RawValue: domain.Rptr(2)},
	}}
	buf := make([]byte, Sizeof(tr)*len(arr.Items))
	if err := SerializeArray(tr, arr, buf); err != nil {
		t.Fatalf("SerializeArray: %v", err)
	}

	var outs [2]domain.Rptr
	readBack := domain.VariantArray{Items: []domain.Variant{
		{RawSlot: &outs[0]},
		{RawSlot: &outs[1]},
	}}
	if err := UpdateArray(tr, buf, &readBack); err != nil {
		t.Fatalf("UpdateArray: %v", err)
	}
	if outs[0] != 1 || outs[1] != 2 {
		t.Fatalf("round trip = %v, want [1 2]", outs)
	}
}
