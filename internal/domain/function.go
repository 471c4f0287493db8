package domain

// ParamDef describes one parameter of a Mono API function at the
// definition level: its ArgKind (what marshalling it needs) and its
// ParamTag (in/out/inout, matching remotemono's tags::ParamOut<> etc).
type ParamDef struct {
	Name string
	Kind ArgKind
	Tag  ParamTag
	// AutoUnbox marks a ManagedRef parameter whose target, if it is a boxed
	// value type, should be unboxed (mono_object_unbox) before the raw
	// function sees it rather than passed as the boxed MonoObject* itself.
	// Applies uniformly to every ManagedRef-tagged element when Kind is
	// KindVariantArray, since the wrapper has no per-element static type
	// information to decide otherwise (spec.md §4.6 step 2).
	AutoUnbox bool
}

// ReturnDef describes a function's return value the same way.
type ReturnDef struct {
	Kind ArgKind
	// Owned marks a ManagedRef return as already GC-handled by the raw
	// function (remotemono's tags::ReturnOwn<>), vs. one that needs a fresh
	// handle created by the wrapper.
	Owned bool
	// Pinned, when the wrapper must create a fresh handle (Owned == false),
	// selects a pinned GC handle (mono_gchandle_new_v2's pinned argument)
	// instead of a movable one. Used by the gchandle-pin helper: wrapping
	// mono_gchandle_get_target_v2 with Owned: false, Pinned: true turns a
	// plain get-target call into "get-target, then pin" in one round trip.
	Pinned bool
}

// FunctionDef is the static, ABI-independent description of one Mono
// embedding API function — the "definition types" of spec.md §3's Function
// entry. It is the single source of truth that infra/function derives the
// raw, wrap and API views from.
type FunctionDef struct {
	// Name is the exported C symbol, e.g. "mono_string_new".
	Name string
	// Params in order.
	Params []ParamDef
	// Return describes the function's return value.
	Return ReturnDef
	// Required, if true, aborts attach when the target doesn't export Name.
	Required bool
	// Convention is the raw function's native calling convention (spec.md
	// §4.2: Mono's embedding API is cdecl on every supported ABI, but the
	// field exists so boilerplate helpers can use fastcall, §4.3).
	Convention CallingConvention
	// MinGeneration, when > 0, requires a Mono "generation" (detected via
	// the mono_free heuristic, spec.md §6/§9) of at least this value before
	// the definition applies; used for functions whose signature drifted
	// across Mono releases (mono_array_new_full, assembly_name_new/parse).
	MinGeneration int
}

// NeedsWrap reports whether any parameter or the return value requires one
// of the transformations spec.md §4.6 lists (managed-ref→GC-handle,
// variant/variant-array→data-block pointer, variant/string return→hidden
// out-parameter). If none do, the raw view is called directly.
func (f FunctionDef) NeedsWrap() bool {
	switch f.Return.Kind {
	case KindVariant, KindManagedRef, KindStringReturn, KindU16StringReturn, KindU32StringReturn:
		return true
	}
	for _, p := range f.Params {
		switch p.Kind {
		case KindManagedRef, KindVariant, KindVariantArray:
			return true
		}
	}
	return false
}
