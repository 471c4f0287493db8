package lifecycle

import (
	"context"
	"testing"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/backend/mockbackend"
	"github.com/tutu-network/rmono/internal/infra/handle"
)

func newReadyMock() *mockbackend.Backend {
	b := mockbackend.New(domain.ArchX86_64, domain.OSLinux)
	mono := b.MonoModuleName()

	b.RegisterExport(mono, "mono_gchandle_get_target_v2", func(args []uint64) (uint64, error) { return args[0], nil })
	b.RegisterExport(mono, "mono_gchandle_new_v2", func(args []uint64) (uint64, error) { return 0xA5, nil })
	b.RegisterExport(mono, "mono_gchandle_free_v2", func(args []uint64) (uint64, error) { return 0, nil })
	b.RegisterExport(mono, "mono_string_to_utf8", func(args []uint64) (uint64, error) { return 0, nil })
	b.RegisterExport(mono, "mono_free", func(args []uint64) (uint64, error) { return 0, nil })
	b.RegisterExport(mono, "mono_object_unbox", func(args []uint64) (uint64, error) { return 0, nil })

	b.RegisterExport(mono, "mono_jit_init", func(args []uint64) (uint64, error) { return 0x7000, nil })
	b.RegisterExport(mono, "mono_get_root_domain", func(args []uint64) (uint64, error) { return 0x8000, nil })
	b.RegisterExport(mono, "mono_thread_attach", func(args []uint64) (uint64, error) { return 0x9000, nil })
	b.RegisterExport(mono, "mono_domain_assembly_open", func(args []uint64) (uint64, error) { return 0xB000, nil })
	b.RegisterExport(mono, "mono_assembly_get_image", func(args []uint64) (uint64, error) { return 0xC000, nil })
	b.RegisterExport(mono, "mono_class_from_name", func(args []uint64) (uint64, error) { return 0xD000, nil })

	return b
}

func TestAttach_ResolvesGeneration2AndRootDomain(t *testing.T) {
	b := newReadyMock()
	sess, err := Attach(context.Background(), b, "target", Options{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if sess.Generation != 2 {
		t.Fatalf("Generation = %d, want 2 (mono_free is registered)", sess.Generation)
	}
	if sess.RootDomain != 0x8000 {
		t.Fatalf("RootDomain = 0x%x, want 0x8000", sess.RootDomain)
	}
}

func TestAttach_FallsBackToCommonNamesWhenHintMisses(t *testing.T) {
	b := newReadyMock()
	// mockbackend always seeds libmonosgen-2.0.so on Linux; an unmatched
	// hint should not prevent the common-names fallback from finding it.
	sess, err := Attach(context.Background(), b, "target", Options{MonoModuleHint: "nope.so"})
	if err != nil {
		t.Fatalf("Attach with a missed hint still falling back: %v", err)
	}
	if sess.MonoModule.Name != b.MonoModuleName() {
		t.Fatalf("MonoModule = %s, want %s", sess.MonoModule.Name, b.MonoModuleName())
	}
}

func TestAttach_RejectsBelowRequiredGeneration(t *testing.T) {
	b := mockbackend.New(domain.ArchX86_64, domain.OSLinux)
	mono := b.MonoModuleName()
	// No mono_free registered => generation 1.
	b.RegisterExport(mono, "mono_gchandle_get_target_v2", func(args []uint64) (uint64, error) { return args[0], nil })
	b.RegisterExport(mono, "mono_gchandle_new_v2", func(args []uint64) (uint64, error) { return 0xA5, nil })
	b.RegisterExport(mono, "mono_gchandle_free_v2", func(args []uint64) (uint64, error) { return 0, nil })
	b.RegisterExport(mono, "mono_string_to_utf8", func(args []uint64) (uint64, error) { return 0, nil })

	_, err := Attach(context.Background(), b, "target", Options{RequireGeneration: 2})
	if err == nil {
		t.Fatal("expected an error for a generation-1 target when generation 2 is required")
	}
}

func TestDetach_FlushesAndSucceedsWithNoLiveHandles(t *testing.T) {
	b := newReadyMock()
	sess, err := Attach(context.Background(), b, "target", Options{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := sess.Detach(context.Background()); err != nil {
		t.Fatalf("Detach: %v", err)
	}
}

func TestDetach_FailsOnSecondCall(t *testing.T) {
	b := newReadyMock()
	sess, err := Attach(context.Background(), b, "target", Options{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := sess.Detach(context.Background()); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := sess.Detach(context.Background()); err == nil {
		t.Fatal("expected an error detaching an already-detached session")
	}
}

func TestDetach_ReportsLeakedHandles(t *testing.T) {
	b := newReadyMock()
	sess, err := Attach(context.Background(), b, "target", Options{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	h := handle.NewRaw[struct{}](sess.Handles, "test", domain.Rptr(0x1234))
	if !h.Valid() {
		t.Fatal("expected freshly allocated handle to be valid")
	}

	if err := sess.Detach(context.Background()); err == nil {
		t.Fatal("expected Detach to report the still-live handle")
	}
}
