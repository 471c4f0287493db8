package function

import (
	"testing"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/asm"
)

func TestGenerateForeachCollector_ProducesNonEmptyCode(t *testing.T) {
	tr := traits64(t)
	a := asm.New(true, true)

	code := GenerateForeachCollector(a, tr, domain.CConvCdecl, 16, 256, 8)
	if len(code) == 0 {
		t.Fatal("expected non-empty generated code")
	}
}

func TestGenerateForeachCollector_DeterministicForSameInputs(t *testing.T) {
	tr := traits64(t)

	a1 := asm.New(true, true)
	code1 := GenerateForeachCollector(a1, tr, domain.CConvCdecl, 16, 256, 8)

	a2 := asm.New(true, true)
	code2 := GenerateForeachCollector(a2, tr, domain.CConvCdecl, 16, 256, 8)

	if len(code1) != len(code2) {
		t.Fatalf("generated code length not deterministic: %d vs %d", len(code1), len(code2))
	}
	for i := range code1 {
		if code1[i] != code2[i] {
			t.Fatalf("generated code diverged at byte %d", i)
		}
	}
}
