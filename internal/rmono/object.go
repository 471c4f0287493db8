package rmono

import (
	"context"
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/handle"
)

// RemoteException wraps a managed exception thrown during InvokeMethod. The
// message is read via mono_object_to_string against the exception object
// itself, matching how the original project surfaces target-side faults
// rather than translating them into Go error values that lose the managed
// stack trace.
type RemoteException struct {
	Message string
	Object  handle.Managed[Object]
}

func (e *RemoteException) Error() string {
	return fmt.Sprintf("rmono: managed exception: %s", e.Message)
}

// NewObject allocates a new, uninitialized instance of klass in dom.
// Mirrors mono_object_new; the caller typically follows up with
// InvokeMethod against a constructor.
func (c *Context) NewObject(ctx context.Context, dom handle.Raw[Domain], klass handle.Raw[Class]) (handle.Managed[Object], error) {
	domPtr, err := dom.Pointer()
	if err != nil {
		return handle.Managed[Object]{}, err
	}
	klassPtr, err := klass.Pointer()
	if err != nil {
		return handle.Managed[Object]{}, err
	}
	result, err := c.call(ctx, "mono_object_new", domPtr, klassPtr)
	if err != nil {
		return handle.Managed[Object]{}, fmt.Errorf("rmono: mono_object_new: %w", err)
	}
	gc := domain.GCHandle(result.(uint64))
	if !gc.IsValid() {
		return handle.Managed[Object]{}, fmt.Errorf("%w: mono_object_new returned an invalid handle", domain.ErrBackendFailure)
	}
	return handle.NewManaged[Object](c.sess.Handles, "Object", gc), nil
}

// NewString allocates a managed System.String in dom containing text.
// Mirrors mono_string_new.
func (c *Context) NewString(ctx context.Context, dom handle.Raw[Domain], text string) (handle.Managed[String], error) {
	domPtr, err := dom.Pointer()
	if err != nil {
		return handle.Managed[String]{}, err
	}
	addr, release, err := c.writeCString(text)
	if err != nil {
		return handle.Managed[String]{}, err
	}
	defer release()

	result, err := c.call(ctx, "mono_string_new", domPtr, addr)
	if err != nil {
		return handle.Managed[String]{}, fmt.Errorf("rmono: mono_string_new: %w", err)
	}
	gc := domain.GCHandle(result.(uint64))
	if !gc.IsValid() {
		return handle.Managed[String]{}, fmt.Errorf("%w: mono_string_new returned an invalid handle", domain.ErrBackendFailure)
	}
	return handle.NewManaged[String](c.sess.Handles, "String", gc), nil
}

// ObjectToString calls System.Object.ToString() on obj via
// mono_object_to_string, returning the Go string it produced. obj accepts
// any managed handle — String, Array, or a custom Object — since ToString
// is defined on every managed reference type, not just Object.
func (c *Context) ObjectToString(ctx context.Context, obj domain.ManagedHandle) (string, error) {
	exc := outExceptionVariant()
	result, err := c.call(ctx, "mono_object_to_string", obj, exc.variant)
	if err != nil {
		return "", fmt.Errorf("rmono: mono_object_to_string: %w", err)
	}
	if remoteExc, err := c.checkException(ctx, exc); err != nil {
		return "", err
	} else if remoteExc != nil {
		return "", remoteExc
	}
	return result.(string), nil
}

// InvokeMethod calls method against obj (pass handle.Managed[Object]{}, its
// zero value, for a static method) with params, returning the call's
// Variant result. Mirrors mono_runtime_invoke, including its
// exception-out-parameter convention: a thrown managed exception surfaces
// as a *RemoteException, never a panic.
func (c *Context) InvokeMethod(ctx context.Context, method handle.Raw[Method], obj domain.ManagedHandle, params []domain.Variant) (domain.Variant, error) {
	methodPtr, err := method.Pointer()
	if err != nil {
		return domain.Variant{}, err
	}
	exc := outExceptionVariant()

	result, err := c.call(ctx, "mono_runtime_invoke", methodPtr, obj, domain.VariantArray{Items: params}, exc.variant)
	if err != nil {
		return domain.Variant{}, fmt.Errorf("rmono: mono_runtime_invoke: %w", err)
	}
	if remoteExc, err := c.checkException(ctx, exc); err != nil {
		return domain.Variant{}, err
	} else if remoteExc != nil {
		return domain.Variant{}, remoteExc
	}
	return result.(domain.Variant), nil
}

// NewStringUTF16 allocates a managed System.String from already-UTF-16LE
// text, via mono_string_new_utf16. Useful when the caller already has
// UTF-16 bytes (e.g. read from another managed string) and wants to avoid
// the UTF-8 round trip NewString takes through mono_string_new.
func (c *Context) NewStringUTF16(ctx context.Context, dom handle.Raw[Domain], text string) (handle.Managed[String], error) {
	domPtr, err := dom.Pointer()
	if err != nil {
		return handle.Managed[String]{}, err
	}
	units := utf16.Encode([]rune(text))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	addr, release, err := c.writeBytes(buf)
	if err != nil {
		return handle.Managed[String]{}, err
	}
	defer release()

	result, err := c.call(ctx, "mono_string_new_utf16", domPtr, addr, uint64(len(units)))
	if err != nil {
		return handle.Managed[String]{}, fmt.Errorf("rmono: mono_string_new_utf16: %w", err)
	}
	gc := domain.GCHandle(result.(uint64))
	if !gc.IsValid() {
		return handle.Managed[String]{}, fmt.Errorf("%w: mono_string_new_utf16 returned an invalid handle", domain.ErrBackendFailure)
	}
	return handle.NewManaged[String](c.sess.Handles, "String", gc), nil
}

// NewStringUTF32 allocates a managed System.String from a UTF-32 code-point
// sequence via mono_string_new_utf32 (generation-2 only — MinGeneration 2 on
// the catalog entry gates it the same way mono_gchandle_free_v2 is gated).
// The resulting MonoString still stores its contents as UTF-16 internally,
// same as any other managed string; only the constructor's input encoding
// differs.
func (c *Context) NewStringUTF32(ctx context.Context, dom handle.Raw[Domain], text string) (handle.Managed[String], error) {
	domPtr, err := dom.Pointer()
	if err != nil {
		return handle.Managed[String]{}, err
	}
	runes := []rune(text)
	buf := make([]byte, len(runes)*4)
	for i, r := range runes {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(r))
	}
	addr, release, err := c.writeBytes(buf)
	if err != nil {
		return handle.Managed[String]{}, err
	}
	defer release()

	result, err := c.call(ctx, "mono_string_new_utf32", domPtr, addr, uint64(len(runes)))
	if err != nil {
		return handle.Managed[String]{}, fmt.Errorf("rmono: mono_string_new_utf32: %w", err)
	}
	gc := domain.GCHandle(result.(uint64))
	if !gc.IsValid() {
		return handle.Managed[String]{}, fmt.Errorf("%w: mono_string_new_utf32 returned an invalid handle", domain.ErrBackendFailure)
	}
	return handle.NewManaged[String](c.sess.Handles, "String", gc), nil
}

// stringUTF16Units reads a managed string's contents straight out of target
// memory: mono_string_length gives the UTF-16 code-unit count,
// mono_string_chars gives a pointer directly into the MonoString's own
// buffer (spec.md §4.7 "string reads may bypass the hidden-out-slot wrap
// mechanism when the target's native representation is already known").
func (c *Context) stringUTF16Units(ctx context.Context, str domain.ManagedHandle) ([]uint16, error) {
	lenResult, err := c.call(ctx, "mono_string_length", str)
	if err != nil {
		return nil, fmt.Errorf("rmono: mono_string_length: %w", err)
	}
	n := lenResult.(uint64)

	ptrResult, err := c.call(ctx, "mono_string_chars", str)
	if err != nil {
		return nil, fmt.Errorf("rmono: mono_string_chars: %w", err)
	}
	addr := ptrResult.(domain.Rptr)
	if n == 0 {
		return nil, nil
	}
	raw, err := c.sess.Backend.Read(addr, n*2)
	if err != nil {
		return nil, fmt.Errorf("rmono: reading string chars: %w", err)
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return units, nil
}

// StringToUTF16 reads str's contents directly from the target's own UTF-16LE
// buffer and decodes it into a Go string.
func (c *Context) StringToUTF16(ctx context.Context, str domain.ManagedHandle) (string, error) {
	units, err := c.stringUTF16Units(ctx, str)
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// StringToUTF32 reads str's contents the same way StringToUTF16 does —
// MonoString has no separate UTF-32 storage form to read from, so this
// decodes the same UTF-16 buffer, resolving surrogate pairs into full code
// points the way a genuine UTF-32 read would. It exists as a distinct
// method because callers reasoning in UTF-32 code points (rather than
// UTF-16 code units) shouldn't have to know that distinction doesn't exist
// on the wire.
func (c *Context) StringToUTF32(ctx context.Context, str domain.ManagedHandle) (string, error) {
	units, err := c.stringUTF16Units(ctx, str)
	if err != nil {
		return "", err
	}
	return string(utf16.Decode(units)), nil
}

// InvokeMethodWithRetClass behaves exactly like InvokeMethod, additionally
// resolving the dynamic class of a managed-reference result via
// mono_object_get_class. Needed whenever the caller invoked a method whose
// static return type (object, an interface, a base class) doesn't tell them
// what concrete type actually came back — mono_runtime_invoke alone has no
// way to surface that. A zero-value Raw[Class] comes back when the call
// returned anything other than a managed reference (a primitive, a raw
// pointer, or a null reference).
func (c *Context) InvokeMethodWithRetClass(ctx context.Context, method handle.Raw[Method], obj domain.ManagedHandle, params []domain.Variant) (domain.Variant, handle.Raw[Class], error) {
	result, err := c.InvokeMethod(ctx, method, obj, params)
	if err != nil {
		return domain.Variant{}, handle.Raw[Class]{}, err
	}
	if result.Tag != domain.TagManagedRef || result.Managed == nil {
		return result, handle.Raw[Class]{}, nil
	}
	classPtr, err := c.call(ctx, "mono_object_get_class", result.Managed)
	if err != nil {
		return result, handle.Raw[Class]{}, fmt.Errorf("rmono: mono_object_get_class: %w", err)
	}
	return result, handle.NewRaw[Class](c.sess.Handles, "Class", classPtr.(domain.Rptr)), nil
}

// excOutSlot bundles a Variant ready for mono_runtime_invoke's exc
// out-parameter with the ManagedHandle pointer it captures its result into.
type excOutSlot struct {
	variant domain.Variant
	slot    *domain.ManagedHandle
}

func outExceptionVariant() excOutSlot {
	slot := new(domain.ManagedHandle)
	return excOutSlot{
		variant: domain.Variant{Tag: domain.TagManagedRef, Direction: domain.DirOut, OutSlot: slot},
		slot:    slot,
	}
}

// checkException inspects an exc out-slot populated by a call and, if the
// target set a non-null exception object, wraps it into a *RemoteException
// (reading its message via ObjectToString).
func (c *Context) checkException(ctx context.Context, exc excOutSlot) (*RemoteException, error) {
	if *exc.slot == nil {
		return nil, nil
	}
	gc := (*exc.slot).GCHandle()
	if !gc.IsValid() {
		return nil, nil
	}
	excObj := handle.NewManaged[Object](c.sess.Handles, "Object", gc)
	msg, err := c.ObjectToString(ctx, excObj)
	if err != nil {
		return nil, fmt.Errorf("rmono: reading exception message: %w", err)
	}
	return &RemoteException{Message: msg, Object: excObj}, nil
}
