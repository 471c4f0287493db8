package dispatcher

import (
	"fmt"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/abi"
	"github.com/tutu-network/rmono/internal/infra/function"
)

// Table is the resolved, attach-time set of callable function entries for
// one attached target: one *function.Entry per domain.FunctionDef the
// target's Mono generation supports, keyed by name.
type Table struct {
	ABI         abi.Traits
	Boilerplate function.Boilerplate
	// FreeMultiAddr is the injected batched-GC-handle-free trampoline
	// (function.GenerateFreeMulti), null when mono_gchandle_free_v2 never
	// resolved (e.g. a pre-generation-2 target).
	FreeMultiAddr domain.Rptr
	entries       map[string]*function.Entry
}

// Lookup returns the resolved entry for name, or domain.ErrUnsupportedAPI if
// the target's Mono build never exported it (an optional function the
// catalog lists but the attach pass could not resolve).
func (t *Table) Lookup(name string) (*function.Entry, error) {
	e, ok := t.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedAPI, name)
	}
	return e, nil
}

// WrapAddresses returns the target-process addresses of every synthesized
// wrapper trampoline this table injected, so lifecycle.Detach can free them.
func (t *Table) WrapAddresses() []domain.Rptr {
	var out []domain.Rptr
	for _, e := range t.entries {
		if e.WrapAddr != domain.Null {
			out = append(out, e.WrapAddr)
		}
	}
	if t.FreeMultiAddr != domain.Null {
		out = append(out, t.FreeMultiAddr)
	}
	return out
}

// Build resolves traits for the target's processor architecture/OS,
// locates every catalog entry's raw export in monoModule, synthesizes and
// injects wrap trampolines for definitions that need one, and returns the
// assembled dispatch table (spec.md §4.1 ABI selection feeding §4.6/§4.9
// function resolution, in that order).
func Build(backend domain.Backend, monoModule domain.ModuleInfo, generation int, defs []domain.FunctionDef) (*Table, error) {
	traits, err := abi.Select(backend.ProcessorArch(), backend.TargetOS())
	if err != nil {
		return nil, err
	}

	bp, err := function.ResolveBoilerplate(backend, monoModule)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: resolving boilerplate: %w", err)
	}

	table := &Table{ABI: traits, Boilerplate: bp, entries: map[string]*function.Entry{}}
	for _, def := range defs {
		if def.MinGeneration > generation {
			continue
		}
		rawAddr, ok, err := backend.ExportAddress(monoModule, def.Name)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: resolving %s: %w", def.Name, err)
		}
		if !ok {
			if def.Required {
				return nil, fmt.Errorf("%w: %s", domain.ErrRequiredAPI, def.Name)
			}
			continue
		}

		entry := &function.Entry{Def: def, RawAddr: rawAddr}
		if def.NeedsWrap() {
			asmr := backend.Assembler()
			code, err := function.GenerateWrapper(asmr, traits, def, rawAddr, bp)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrCodeEmissionFailed, def.Name, err)
			}
			wrapAddr, err := backend.Alloc(uint64(len(code)), domain.ProtExecuteReadWrite)
			if err != nil {
				return nil, fmt.Errorf("%w: wrapper for %s: %v", domain.ErrAllocationFailed, def.Name, err)
			}
			if err := backend.Write(wrapAddr, code); err != nil {
				return nil, fmt.Errorf("dispatcher: writing wrapper for %s: %w", def.Name, err)
			}
			entry.WrapCode = code
			entry.WrapAddr = wrapAddr
		}
		table.entries[def.Name] = entry
	}

	if freeEntry, ok := table.entries["mono_gchandle_free_v2"]; ok {
		asmr := backend.Assembler()
		code := function.GenerateFreeMulti(asmr, traits, freeEntry.RawAddr, freeEntry.Def.Convention)
		addr, err := backend.Alloc(uint64(len(code)), domain.ProtExecuteReadWrite)
		if err != nil {
			return nil, fmt.Errorf("%w: free-multi trampoline: %v", domain.ErrAllocationFailed, err)
		}
		if err := backend.Write(addr, code); err != nil {
			return nil, fmt.Errorf("dispatcher: writing free-multi trampoline: %w", err)
		}
		table.FreeMultiAddr = addr
	}

	return table, nil
}
