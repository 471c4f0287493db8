package deferredfree

import (
	"context"
	"testing"

	"github.com/tutu-network/rmono/internal/domain"
)

type fakeFlusher struct {
	gcFlushes  [][]domain.GCHandle
	ptrFlushes [][]domain.Rptr
}

func (f *fakeFlusher) FlushGCHandles(ctx context.Context, handles []domain.GCHandle) error {
	f.gcFlushes = append(f.gcFlushes, append([]domain.GCHandle{}, handles...))
	return nil
}

func (f *fakeFlusher) FlushRawPointers(ctx context.Context, ptrs []domain.Rptr) error {
	f.ptrFlushes = append(f.ptrFlushes, append([]domain.Rptr{}, ptrs...))
	return nil
}

func TestNew_RejectsOutOfRangeMax(t *testing.T) {
	if _, err := New(&fakeFlusher{}, 0); err == nil {
		t.Fatal("expected error for max=0")
	}
	if _, err := New(&fakeFlusher{}, AbsoluteMax+1); err == nil {
		t.Fatal("expected error for max beyond AbsoluteMax")
	}
}

func TestQueueGCHandle_AutoFlushesAtCapacity(t *testing.T) {
	f := &fakeFlusher{}
	buf, err := New(f, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	buf.QueueGCHandle(ctx, 1)
	if len(f.gcFlushes) != 0 {
		t.Fatal("flushed before reaching capacity")
	}
	buf.QueueGCHandle(ctx, 2)
	if len(f.gcFlushes) != 1 || len(f.gcFlushes[0]) != 2 {
		t.Fatalf("expected one flush of 2 handles, got %v", f.gcFlushes)
	}
}

func TestFlush_DrainsBothKindsEvenWhenPartial(t *testing.T) {
	f := &fakeFlusher{}
	buf, err := New(f, 256)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	buf.QueueGCHandle(ctx, 1)
	buf.QueueRawPointer(ctx, domain.Rptr(0x100))

	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(f.gcFlushes) != 1 || len(f.ptrFlushes) != 1 {
		t.Fatalf("expected both kinds flushed, got gc=%v ptr=%v", f.gcFlushes, f.ptrFlushes)
	}
	gc, ptr := buf.Pending()
	if gc != 0 || ptr != 0 {
		t.Fatalf("Pending after Flush = (%d, %d), want (0, 0)", gc, ptr)
	}
}

func TestFlush_NoOpWhenEmpty(t *testing.T) {
	f := &fakeFlusher{}
	buf, _ := New(f, 16)
	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("Flush on empty buffer: %v", err)
	}
	if len(f.gcFlushes) != 0 || len(f.ptrFlushes) != 0 {
		t.Fatal("Flush on empty buffer should not call the flusher")
	}
}
