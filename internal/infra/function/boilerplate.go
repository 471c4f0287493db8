package function

import "github.com/tutu-network/rmono/internal/domain"

// Boilerplate holds the addresses of small, frequently-reused Mono API
// functions the wrapper generator calls from inside synthesized trampolines
// — unboxing a GC handle to a raw pointer, allocating a fresh handle for an
// owned return, and converting a MonoString* to bytes the controller can
// read back (spec.md §4.6: "every wrapper that touches a managed reference
// needs mono_gchandle_get_target; generating that call inline at every site
// instead of sharing one resolved address would just waste a RawAddr
// lookup, not machine code, so this is bookkeeping rather than a folded
// subroutine").
type Boilerplate struct {
	GCHandleGetTarget domain.Rptr // MonoObject* mono_gchandle_get_target_v2(guint32)
	GCHandleNewV2     domain.Rptr // guint32 mono_gchandle_new_v2(MonoObject*, mono_bool pinned)
	GCHandleFree      domain.Rptr // void mono_gchandle_free_v2(guint32)
	StringToUTF8      domain.Rptr // char* mono_string_to_utf8(MonoString*)
	FreeFunc          domain.Rptr // void mono_free(void*)
	ObjectUnbox       domain.Rptr // void* mono_object_unbox(MonoObject*) — boxed value type -> its payload
}

// ResolveBoilerplate looks up every boilerplate symbol in the attached Mono
// module, returning domain.ErrRequiredAPI if any is missing. dispatcher.Build
// calls it before anything else, so a target lacking any of them cannot be
// attached, whether or not any function in the catalog needs a wrap.
func ResolveBoilerplate(backend domain.Backend, monoModule domain.ModuleInfo) (Boilerplate, error) {
	names := map[string]*domain.Rptr{}
	var bp Boilerplate
	names["mono_gchandle_get_target_v2"] = &bp.GCHandleGetTarget
	names["mono_gchandle_new_v2"] = &bp.GCHandleNewV2
	names["mono_gchandle_free_v2"] = &bp.GCHandleFree
	names["mono_string_to_utf8"] = &bp.StringToUTF8
	names["mono_free"] = &bp.FreeFunc
	names["mono_object_unbox"] = &bp.ObjectUnbox

	for name, slot := range names {
		addr, ok, err := backend.ExportAddress(monoModule, name)
		if err != nil {
			return bp, err
		}
		if !ok {
			// Only the names above are looked up; the v1 (non-_v2) names
			// older Mono generations export are not tried, so such a target
			// fails here.
			return bp, domain.ErrRequiredAPI
		}
		*slot = addr
	}
	return bp, nil
}
