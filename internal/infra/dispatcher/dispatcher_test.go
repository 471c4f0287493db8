package dispatcher

import (
	"testing"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/backend/mockbackend"
)

func newReadyMock() *mockbackend.Backend {
	b := mockbackend.New(domain.ArchX86_64, domain.OSLinux)
	mod := b.MonoModuleName()
	noop := func(args []uint64) (uint64, error) { return 0, nil }
	for _, sym := range []string{
		"mono_gchandle_get_target_v2",
		"mono_gchandle_new_v2",
		"mono_gchandle_free_v2",
		"mono_string_to_utf8",
		"mono_free",
		"mono_object_unbox",
		"mono_jit_init",
		"mono_get_root_domain",
		"mono_thread_attach",
		"mono_domain_assembly_open",
		"mono_assembly_get_image",
		"mono_class_from_name",
	} {
		b.RegisterExport(mod, sym, noop)
	}
	return b
}

func TestBuild_ResolvesRequiredEntries(t *testing.T) {
	b := newReadyMock()
	mod, _, _ := b.GetModule(b.MonoModuleName())

	table, err := Build(b, mod, 2, Catalog)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := table.Lookup("mono_jit_init"); err != nil {
		t.Fatalf("Lookup(mono_jit_init): %v", err)
	}
}

func TestBuild_SkipsOptionalMissingExports(t *testing.T) {
	b := newReadyMock()
	mod, _, _ := b.GetModule(b.MonoModuleName())

	table, err := Build(b, mod, 2, Catalog)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// mono_runtime_invoke was never registered and is not Required.
	if _, err := table.Lookup("mono_runtime_invoke"); err == nil {
		t.Fatal("expected ErrUnsupportedAPI for unresolved optional export")
	}
}

func TestBuild_FailsWhenRequiredExportMissing(t *testing.T) {
	b := mockbackend.New(domain.ArchX86_64, domain.OSLinux)
	mod, _, _ := b.GetModule(b.MonoModuleName())

	if _, err := Build(b, mod, 2, Catalog); err == nil {
		t.Fatal("expected error when boilerplate exports are entirely missing")
	}
}

func TestBuild_HonorsMinGeneration(t *testing.T) {
	b := newReadyMock()
	mod, _, _ := b.GetModule(b.MonoModuleName())

	table, err := Build(b, mod, 1, Catalog)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := table.Lookup("mono_gchandle_free_v2"); err == nil {
		t.Fatal("expected mono_gchandle_free_v2 (MinGeneration 2) to be absent at generation 1")
	}
}

func TestBuild_SynthesizesWrapperForManagedRefEntries(t *testing.T) {
	b := newReadyMock()
	mod, _, _ := b.GetModule(b.MonoModuleName())
	b.RegisterExport(mod.Name, "mono_object_new", func(args []uint64) (uint64, error) { return 0x5000, nil })

	table, err := Build(b, mod, 2, Catalog)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	e, err := table.Lookup("mono_object_new")
	if err != nil {
		t.Fatalf("Lookup(mono_object_new): %v", err)
	}
	if len(e.WrapCode) == 0 {
		t.Fatal("expected synthesized wrapper code for mono_object_new")
	}
	if e.WrapAddr == domain.Null {
		t.Fatal("expected wrapper to be injected at a non-null address")
	}
}
