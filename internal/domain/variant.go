package domain

// VariantTag discriminates the kind of value a Variant carries (spec.md §3).
type VariantTag int

const (
	// TagInvalid marks a zero-value Variant; never passed to a call.
	TagInvalid VariantTag = iota
	// TagValue carries a primitive or custom value-type blob, inline or
	// pointer+size.
	TagValue
	// TagManagedRef carries a managed object reference, stored only ever as
	// a GC handle — never a raw target pointer.
	TagManagedRef
	// TagRawPointer carries a raw, non-managed target address.
	TagRawPointer
)

func (t VariantTag) String() string {
	switch t {
	case TagValue:
		return "Value"
	case TagManagedRef:
		return "ManagedRef"
	case TagRawPointer:
		return "RawPointer"
	default:
		return "Invalid"
	}
}

// Direction says which way data flows across a call for a given argument.
type Direction int

const (
	// DirDefault defers to the parameter's definition-level tag.
	DirDefault Direction = iota
	DirIn
	DirOut
	DirInOut
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "In"
	case DirOut:
		return "Out"
	case DirInOut:
		return "InOut"
	default:
		return "Default"
	}
}

// ManagedHandle is the minimal view of a managed-object handle that the
// domain and variant-marshalling layers need, without importing the handle
// package (which would create an import cycle — handle imports domain for
// Backend/RuntimeOps).
type ManagedHandle interface {
	// GCHandle returns the underlying GC handle integer, or InvalidGCHandle
	// if the handle is null.
	GCHandle() GCHandle
}

// Variant is this system's tagged value container describing any Mono-typed
// argument or return: a primitive value, a custom value-type blob, a managed
// reference, or a raw remote pointer; it carries a Direction and an
// auto-unboxing flag (spec.md §3).
//
// Invariants (enforced by the infra/variant package, not by this struct
// alone): a Variant of Tag ManagedRef never stores the raw target pointer of
// a managed object, only a GC handle; the buffer of a Value Variant is valid
// only for the duration of the call it is passed to.
type Variant struct {
	Tag       VariantTag
	Direction Direction
	AutoUnbox bool // auto-unbox boxed value types when materialised in the target

	// Value payload: exactly one of ValueBuf (owned inline bytes) or
	// (ValuePtr, ValueLen) (borrowed blob already living somewhere, e.g. a
	// struct field) is set when Tag == TagValue.
	ValueBuf []byte
	ValuePtr Rptr
	ValueLen int

	// ManagedRef payload: Managed holds an owned handle; OutSlot, when
	// non-nil, is a borrowed location the call will store an updated handle
	// into (used for Out/InOut managed-reference parameters).
	Managed ManagedHandle
	OutSlot *ManagedHandle

	// RawPointer payload: either a value or, for Out/InOut, a location to
	// write the updated address into.
	RawValue Rptr
	RawSlot  *Rptr

	// Null marks a variant that serializes as a literal null pointer: the
	// wrapper is called with zero for this argument's slot.
	Null bool
}

// EffectiveDirection resolves the variant's stored direction, falling back
// to the parameter's definition-level default (spec.md §4.5).
func (v Variant) EffectiveDirection(paramDefault Direction) Direction {
	if v.Direction != DirDefault {
		return v.Direction
	}
	return paramDefault
}

// VariantArray is either null (a raw null-pointer argument) or a list of
// Variants (spec.md §3).
type VariantArray struct {
	Null  bool
	Items []Variant
}

// ArgKind describes, independent of any specific Mono function, which
// marshalling transformation an argument or return value needs. This is the
// data-driven replacement for the C++ template metaprogramming of
// RMonoAPIFunctionWrap_Def.h (see SPEC_FULL.md §4.6 / §9 and DESIGN.md).
type ArgKind int

const (
	KindPrimitive ArgKind = iota
	KindManagedRef
	KindRawPointer
	KindVariant
	KindVariantArray
	KindStringReturn
	KindU16StringReturn
	KindU32StringReturn
)

func (k ArgKind) String() string {
	switch k {
	case KindManagedRef:
		return "ManagedRef"
	case KindRawPointer:
		return "RawPointer"
	case KindVariant:
		return "Variant"
	case KindVariantArray:
		return "VariantArray"
	case KindStringReturn:
		return "StringReturn"
	case KindU16StringReturn:
		return "U16StringReturn"
	case KindU32StringReturn:
		return "U32StringReturn"
	default:
		return "Primitive"
	}
}

// ParamTag is the definition-level direction/ownership tag attached to a
// parameter in a FunctionDef (mirrors remotemono's tags::ParamOut<>,
// tags::ParamInOut<>, tags::ReturnOwn<>).
type ParamTag int

const (
	ParamIn ParamTag = iota
	ParamOut
	ParamInOut
)

func (t ParamTag) Direction() Direction {
	switch t {
	case ParamOut:
		return DirOut
	case ParamInOut:
		return DirInOut
	default:
		return DirIn
	}
}
