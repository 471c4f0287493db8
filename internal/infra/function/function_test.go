package function

import (
	"context"
	"testing"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
	"github.com/tutu-network/rmono/internal/infra/asm"
	"github.com/tutu-network/rmono/internal/infra/backend/mockbackend"
)

func traits64(t *testing.T) abi.Traits {
	tr, err := abi.Select(domain.ArchX86_64, domain.OSLinux)
	if err != nil {
		t.Fatalf("abi.Select: %v", err)
	}
	return tr
}

func TestInvoke_RawPathAddsTwoPrimitives(t *testing.T) {
	b := mockbackend.New(domain.ArchX86_64, domain.OSLinux)
	mod, _, _ := b.GetModule(b.MonoModuleName())
	addr := b.RegisterExport(mod.Name, "mono_test_add", func(args []uint64) (uint64, error) {
		return args[0] + args[1], nil
	})

	def := domain.FunctionDef{
		Name: "mono_test_add",
		Params: []domain.ParamDef{
			{Name: "a", Kind: domain.KindPrimitive},
			{Name: "b", Kind: domain.KindPrimitive},
		},
		Return:     domain.ReturnDef{Kind: domain.KindPrimitive},
		Convention: domain.CConvCdecl,
	}
	e := &Entry{Def: def, RawAddr: addr}

	result, err := e.Invoke(context.Background(), b, traits64(t), nil, []any{uint64(2), uint64(3)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.(uint64) != 5 {
		t.Fatalf("result = %v, want 5", result)
	}
}

func TestInvoke_ArityMismatchIsRejected(t *testing.T) {
	def := domain.FunctionDef{
		Name:   "mono_test_add",
		Params: []domain.ParamDef{{Name: "a", Kind: domain.KindPrimitive}},
		Return: domain.ReturnDef{Kind: domain.KindPrimitive},
	}
	e := &Entry{Def: def}
	b := mockbackend.New(domain.ArchX86_64, domain.OSLinux)

	_, err := e.Invoke(context.Background(), b, traits64(t), nil, []any{uint64(1), uint64(2)})
	if err == nil {
		t.Fatal("expected arity mismatch error")
	}
}

func TestSizeInvocation_AllocatesOneSlotPerVariantParam(t *testing.T) {
	tr := traits64(t)
	def := domain.FunctionDef{
		Name: "mono_test_variant",
		Params: []domain.ParamDef{
			{Name: "v", Kind: domain.KindVariant},
			{Name: "n", Kind: domain.KindPrimitive},
		},
		Return: domain.ReturnDef{Kind: domain.KindVariant},
	}
	args := []any{domain.Variant{Tag: domain.TagRawPointer}, uint64(1)}

	ic, err := sizeInvocation(tr, def, args)
	if err != nil {
		t.Fatalf("sizeInvocation: %v", err)
	}
	if ic.paramOffset[0] != 0 {
		t.Fatalf("variant param offset = %d, want 0", ic.paramOffset[0])
	}
	if ic.paramOffset[1] != -1 {
		t.Fatalf("primitive param offset = %d, want -1", ic.paramOffset[1])
	}
	wantReturnOffset := variantSize(tr)
	if ic.returnOffset != wantReturnOffset {
		t.Fatalf("return offset = %d, want %d", ic.returnOffset, wantReturnOffset)
	}
}

func variantSize(tr abi.Traits) int { return tr.PtrWidth() * 2 }

func TestGenerateWrapper_ProducesNonEmptyCodeForManagedRefParam(t *testing.T) {
	tr := traits64(t)
	a := asm.New(true, true)
	def := domain.FunctionDef{
		Name:       "mono_test_invoke",
		Params:     []domain.ParamDef{{Name: "obj", Kind: domain.KindManagedRef}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	}
	bp := Boilerplate{GCHandleGetTarget: domain.Rptr(0x1000)}

	code, err := GenerateWrapper(a, tr, def, domain.Rptr(0x2000), bp)
	if err != nil {
		t.Fatalf("GenerateWrapper: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected non-empty generated code")
	}
}

func TestGenerateWrapper_RejectsDefinitionsThatDontNeedWrapping(t *testing.T) {
	tr := traits64(t)
	a := asm.New(true, true)
	def := domain.FunctionDef{
		Name:   "mono_test_plain",
		Params: []domain.ParamDef{{Name: "a", Kind: domain.KindPrimitive}},
		Return: domain.ReturnDef{Kind: domain.KindPrimitive},
	}
	if _, err := GenerateWrapper(a, tr, def, domain.Rptr(1), Boilerplate{}); err == nil {
		t.Fatal("expected error generating a wrapper for an unwrapped definition")
	}
}
