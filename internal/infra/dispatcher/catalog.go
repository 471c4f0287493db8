// Package dispatcher implements Component 7: resolving a target's attached
// ABI, locating every catalog function's raw export, and synthesizing wrap
// trampolines for the ones that need marshalling — the table infra/rmono's
// facade calls into (spec.md §4.6, §4.9).
package dispatcher

import "github.com/tutu-network/rmono/internal/domain"

// Catalog is the static set of Mono embedding API functions this engine
// knows how to drive. It is deliberately representative rather than a
// byte-for-byte reproduction of every function remotemono's original
// RMonoAPIDef.h lists: spec.md §6 scopes the rewrite to "domains,
// assemblies, images, classes, methods, fields, properties, strings,
// arrays, objects and GC handles, plus the JIT entry points" — the families
// below, not an exhaustive symbol-for-symbol port (SPEC_FULL.md §4.6 notes
// additional families can be appended to this slice without touching the
// dispatcher itself, which is why it's data rather than code).
var Catalog = []domain.FunctionDef{
	// --- Runtime / JIT -----------------------------------------------
	{
		Name:       "mono_jit_init",
		Params:     []domain.ParamDef{{Name: "file", Kind: domain.KindRawPointer}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Required:   true,
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_get_root_domain",
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Required:   true,
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_thread_attach",
		Params:     []domain.ParamDef{{Name: "domain", Kind: domain.KindRawPointer}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Required:   true,
		Convention: domain.CConvCdecl,
	},

	// --- Domain / assembly / image ------------------------------------
	{
		Name:       "mono_domain_assembly_open",
		Params:     []domain.ParamDef{{Name: "domain", Kind: domain.KindRawPointer}, {Name: "path", Kind: domain.KindRawPointer}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Required:   true,
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_assembly_get_image",
		Params:     []domain.ParamDef{{Name: "assembly", Kind: domain.KindRawPointer}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Required:   true,
		Convention: domain.CConvCdecl,
	},

	// --- Class / method / field / property -----------------------------
	{
		Name: "mono_class_from_name",
		Params: []domain.ParamDef{
			{Name: "image", Kind: domain.KindRawPointer},
			{Name: "namespace", Kind: domain.KindRawPointer},
			{Name: "name", Kind: domain.KindRawPointer},
		},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Required:   true,
		Convention: domain.CConvCdecl,
	},
	{
		Name: "mono_class_get_method_from_name",
		Params: []domain.ParamDef{
			{Name: "klass", Kind: domain.KindRawPointer},
			{Name: "name", Kind: domain.KindRawPointer},
			{Name: "paramCount", Kind: domain.KindPrimitive},
		},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	},
	{
		Name: "mono_runtime_invoke",
		Params: []domain.ParamDef{
			{Name: "method", Kind: domain.KindRawPointer},
			{Name: "obj", Kind: domain.KindManagedRef, Tag: domain.ParamIn},
			{Name: "params", Kind: domain.KindVariantArray, Tag: domain.ParamInOut},
			{Name: "exc", Kind: domain.KindVariant, Tag: domain.ParamOut},
		},
		Return:     domain.ReturnDef{Kind: domain.KindVariant},
		Convention: domain.CConvCdecl,
	},
	{
		// mono_object_get_class never needs the invoked method's static return
		// type to know what came back — callers that asked for the dynamic
		// type (RuntimeInvokeWithRetClass) call this on the resolved object
		// once mono_runtime_invoke has already returned it.
		Name:       "mono_object_get_class",
		Params:     []domain.ParamDef{{Name: "obj", Kind: domain.KindManagedRef}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	},
	{
		// Wraps the same raw export Boilerplate.GCHandleGetTarget resolves,
		// but through the ordinary wrap machinery: a plain (non-ManagedRef,
		// non-wrap) guint32 parameter and a KindManagedRef/Owned:false/
		// Pinned:true return turns "resolve the handle's target" into
		// "resolve, then register a fresh pinned handle for it" in one round
		// trip — which is exactly what pinning an already-registered handle
		// needs (handle.Managed[D].Pin).
		Name:       "mono_gchandle_get_target_v2",
		Params:     []domain.ParamDef{{Name: "handle", Kind: domain.KindPrimitive}},
		Return:     domain.ReturnDef{Kind: domain.KindManagedRef, Owned: false, Pinned: true},
		Convention: domain.CConvCdecl,
	},

	// --- Object / string / array / GC handle ----------------------------
	{
		Name:       "mono_object_new",
		Params:     []domain.ParamDef{{Name: "domain", Kind: domain.KindRawPointer}, {Name: "klass", Kind: domain.KindRawPointer}},
		Return:     domain.ReturnDef{Kind: domain.KindManagedRef, Owned: false},
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_string_new",
		Params:     []domain.ParamDef{{Name: "domain", Kind: domain.KindRawPointer}, {Name: "text", Kind: domain.KindRawPointer}},
		Return:     domain.ReturnDef{Kind: domain.KindManagedRef},
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_object_to_string",
		Params:     []domain.ParamDef{{Name: "obj", Kind: domain.KindManagedRef}, {Name: "exc", Kind: domain.KindVariant, Tag: domain.ParamOut}},
		Return:     domain.ReturnDef{Kind: domain.KindStringReturn},
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_gchandle_new_v2",
		Params:     []domain.ParamDef{{Name: "obj", Kind: domain.KindManagedRef}, {Name: "pinned", Kind: domain.KindPrimitive}},
		Return:     domain.ReturnDef{Kind: domain.KindPrimitive},
		Required:   true,
		Convention: domain.CConvCdecl,
	},
	{
		Name:          "mono_gchandle_free_v2",
		Params:        []domain.ParamDef{{Name: "handle", Kind: domain.KindPrimitive}},
		Return:        domain.ReturnDef{},
		Required:      true,
		Convention:    domain.CConvCdecl,
		MinGeneration: 2,
	},

	// --- Field / property --------------------------------------------------
	{
		Name: "mono_class_get_field_from_name",
		Params: []domain.ParamDef{
			{Name: "klass", Kind: domain.KindRawPointer},
			{Name: "name", Kind: domain.KindRawPointer},
		},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	},
	{
		Name: "mono_field_get_value",
		Params: []domain.ParamDef{
			{Name: "obj", Kind: domain.KindManagedRef},
			{Name: "field", Kind: domain.KindRawPointer},
			{Name: "value", Kind: domain.KindRawPointer},
		},
		Return:     domain.ReturnDef{},
		Convention: domain.CConvCdecl,
	},
	{
		Name: "mono_field_set_value",
		Params: []domain.ParamDef{
			{Name: "obj", Kind: domain.KindManagedRef},
			{Name: "field", Kind: domain.KindRawPointer},
			{Name: "value", Kind: domain.KindRawPointer},
		},
		Return:     domain.ReturnDef{},
		Convention: domain.CConvCdecl,
	},
	{
		Name: "mono_class_get_property_from_name",
		Params: []domain.ParamDef{
			{Name: "klass", Kind: domain.KindRawPointer},
			{Name: "name", Kind: domain.KindRawPointer},
		},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_property_get_get_method",
		Params:     []domain.ParamDef{{Name: "prop", Kind: domain.KindRawPointer}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_property_get_set_method",
		Params:     []domain.ParamDef{{Name: "prop", Kind: domain.KindRawPointer}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	},

	// --- Array -----------------------------------------------------------
	{
		Name: "mono_array_new",
		Params: []domain.ParamDef{
			{Name: "domain", Kind: domain.KindRawPointer},
			{Name: "eclass", Kind: domain.KindRawPointer},
			{Name: "n", Kind: domain.KindPrimitive},
		},
		Return:     domain.ReturnDef{Kind: domain.KindManagedRef},
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_array_length",
		Params:     []domain.ParamDef{{Name: "array", Kind: domain.KindManagedRef}},
		Return:     domain.ReturnDef{Kind: domain.KindPrimitive},
		Convention: domain.CConvCdecl,
	},
	{
		Name: "mono_array_addr_with_size",
		Params: []domain.ParamDef{
			{Name: "array", Kind: domain.KindManagedRef},
			{Name: "elemSize", Kind: domain.KindPrimitive},
			{Name: "index", Kind: domain.KindPrimitive},
		},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	},
	{
		// mono_gc_wbarrier_set_arrayref is how a reference-type element must
		// be written into a managed array: the GC's card table needs to learn
		// about the new inter-object pointer the same instant it's written,
		// which a plain memory store through mono_array_addr_with_size's
		// returned address would never tell it about (spec.md §4.7 array
		// element write for reference element types).
		Name: "mono_gc_wbarrier_set_arrayref",
		Params: []domain.ParamDef{
			{Name: "array", Kind: domain.KindManagedRef},
			{Name: "elemAddr", Kind: domain.KindRawPointer},
			{Name: "value", Kind: domain.KindManagedRef},
		},
		Return:     domain.ReturnDef{},
		Convention: domain.CConvCdecl,
	},

	// --- Strings (UTF-16/UTF-32) -----------------------------------------
	{
		Name:       "mono_string_length",
		Params:     []domain.ParamDef{{Name: "str", Kind: domain.KindManagedRef}},
		Return:     domain.ReturnDef{Kind: domain.KindPrimitive},
		Convention: domain.CConvCdecl,
	},
	{
		// mono_string_chars returns a pointer straight into the managed
		// string's own UTF-16LE buffer; rmono reads it back directly with
		// backend.Read rather than routing it through the wrap view's
		// hidden-out-slot mechanism (StringToUTF16/StringToUTF32), since the
		// byte count is already known from mono_string_length and no
		// encoding conversion happens on the target side.
		Name:       "mono_string_chars",
		Params:     []domain.ParamDef{{Name: "str", Kind: domain.KindManagedRef}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	},
	{
		Name: "mono_string_new_utf16",
		Params: []domain.ParamDef{
			{Name: "domain", Kind: domain.KindRawPointer},
			{Name: "text", Kind: domain.KindRawPointer},
			{Name: "len", Kind: domain.KindPrimitive},
		},
		Return:     domain.ReturnDef{Kind: domain.KindManagedRef},
		Convention: domain.CConvCdecl,
	},
	{
		// Older Mono generations never exported a dedicated UTF-32
		// constructor; mono_string_new_utf32 is generation-2-only, matching
		// mono_gchandle_free_v2's MinGeneration gate.
		Name: "mono_string_new_utf32",
		Params: []domain.ParamDef{
			{Name: "domain", Kind: domain.KindRawPointer},
			{Name: "text", Kind: domain.KindRawPointer},
			{Name: "len", Kind: domain.KindPrimitive},
		},
		Return:        domain.ReturnDef{Kind: domain.KindManagedRef},
		Convention:    domain.CConvCdecl,
		MinGeneration: 2,
	},

	// --- Second appdomain creation ----------------------------------------
	{
		Name:       "mono_domain_create_appdomain",
		Params:     []domain.ParamDef{{Name: "friendlyName", Kind: domain.KindRawPointer}, {Name: "configFile", Kind: domain.KindRawPointer}},
		Return:     domain.ReturnDef{Kind: domain.KindRawPointer},
		Convention: domain.CConvCdecl,
	},
	{
		Name:       "mono_domain_set",
		Params:     []domain.ParamDef{{Name: "domain", Kind: domain.KindRawPointer}, {Name: "force", Kind: domain.KindPrimitive}},
		Return:     domain.ReturnDef{Kind: domain.KindPrimitive},
		Convention: domain.CConvCdecl,
	},

	// --- Assembly enumeration (ipcvector) ----------------------------------
	{
		// mono_assembly_foreach's GFunc callback signature is
		// void (*)(gpointer data, gpointer user_data) — exactly the shape
		// infra/ipcvector's injected collector trampoline exposes, so the
		// two wire together with no further marshalling: user_data is the
		// address of the target-side IPCVector the collector appends each
		// assembly pointer into.
		Name: "mono_assembly_foreach",
		Params: []domain.ParamDef{
			{Name: "callback", Kind: domain.KindRawPointer},
			{Name: "userData", Kind: domain.KindRawPointer},
		},
		Return:     domain.ReturnDef{},
		Convention: domain.CConvCdecl,
	},
}
