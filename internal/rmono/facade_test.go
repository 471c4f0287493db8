package rmono

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/tutu-network/rmono/internal/domain"
	"github.com/tutu-network/rmono/internal/infra/backend/mockbackend"
	"github.com/tutu-network/rmono/internal/infra/handle"
	"github.com/tutu-network/rmono/internal/infra/lifecycle"
)

// scriptedMono bundles a mockbackend.Backend together with the simple
// server-side state (next GC handle, array backing stores, object string
// values) a real Mono runtime would hold, so facade tests can exercise
// whole call round trips without executing real machine code.
type scriptedMono struct {
	b                *mockbackend.Backend
	nextHandle       uint64
	strings          map[uint64]string // gchandle -> its ToString() value
	arrays           map[uint64]domain.Rptr
	fields           map[uint64][]byte // field addr -> its current raw bytes
	loadedAssemblies []domain.Rptr
}

func newScriptedMono(t *testing.T) *scriptedMono {
	t.Helper()
	s := &scriptedMono{
		b:          mockbackend.New(domain.ArchX86_64, domain.OSLinux),
		nextHandle: 100,
		strings:    map[uint64]string{},
		arrays:     map[uint64]domain.Rptr{},
		fields:     map[uint64][]byte{},
	}
	mono := s.b.MonoModuleName()

	s.b.RegisterExport(mono, "mono_gchandle_get_target_v2", func(args []uint64) (uint64, error) { return args[0], nil })
	s.b.RegisterExport(mono, "mono_gchandle_new_v2", func(args []uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_gchandle_free_v2", func(args []uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_string_to_utf8", func(args []uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_free", func(args []uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_object_unbox", func(args []uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_jit_init", func(args []uint64) (uint64, error) { return 0x7000, nil })
	s.b.RegisterExport(mono, "mono_get_root_domain", func(args []uint64) (uint64, error) { return 0x8000, nil })
	s.b.RegisterExport(mono, "mono_thread_attach", func(args []uint64) (uint64, error) { return 0x9000, nil })
	s.b.RegisterExport(mono, "mono_domain_assembly_open", func(args []uint64) (uint64, error) { return 0xB000, nil })
	s.b.RegisterExport(mono, "mono_assembly_get_image", func(args []uint64) (uint64, error) { return 0xC000, nil })
	s.b.RegisterExport(mono, "mono_class_from_name", func(args []uint64) (uint64, error) { return 0xD000, nil })
	// Raw addresses for the functions the test's wrap handlers stand in
	// for; never called directly since each has a ManagedRef param or
	// return and so goes through its wrap view.
	s.b.RegisterExport(mono, "mono_object_new", func([]uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_string_new", func([]uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_object_to_string", func([]uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_runtime_invoke", func([]uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_array_new", func([]uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_array_length", func([]uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_array_addr_with_size", func([]uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_class_get_method_from_name", func([]uint64) (uint64, error) { return 0xE000, nil })
	s.b.RegisterExport(mono, "mono_class_get_field_from_name", func([]uint64) (uint64, error) { return 0xF000, nil })
	s.b.RegisterExport(mono, "mono_class_get_property_from_name", func([]uint64) (uint64, error) { return 0xF100, nil })
	s.b.RegisterExport(mono, "mono_property_get_get_method", func([]uint64) (uint64, error) { return 0xF200, nil })
	s.b.RegisterExport(mono, "mono_property_get_set_method", func([]uint64) (uint64, error) { return 0xF300, nil })
	s.b.RegisterExport(mono, "mono_field_get_value", func([]uint64) (uint64, error) { return 0, nil })
	s.b.RegisterExport(mono, "mono_field_set_value", func([]uint64) (uint64, error) { return 0, nil })
	// mono_assembly_foreach drives the caller-supplied collector trampoline
	// once per loaded assembly; this mock never executes real machine code
	// (see mockbackend.RPCCall's doc comment), so it simulates a target
	// with loadedAssemblies pre-set by invoking the collector's registered
	// handler directly instead of letting real codegen run.
	s.b.RegisterExport(mono, "mono_assembly_foreach", func(args []uint64) (uint64, error) {
		vecAddr := domain.Rptr(args[1])
		for _, a := range s.loadedAssemblies {
			if err := simulateForeachCollector(s.b, vecAddr, 8, uint64(a)); err != nil {
				return 0, err
			}
		}
		return 0, nil
	})
	return s
}

// simulateForeachCollector stands in for the machine code
// function.GenerateForeachCollector emits (this mock never executes real
// machine code, see mockbackend.RPCCall's doc comment): it replicates the
// exact count-vs-capacity check and cursor-advance-by-elemSize sequence the
// real trampoline performs against an ipcvector.Vector's 3-field header, so
// this test exercises the Go-side wiring (catalog entry, vector lifecycle,
// result decoding) against the same on-wire contract the real trampoline
// honors, independent of function.TestGenerateForeachCollector's codegen
// coverage.
func simulateForeachCollector(b *mockbackend.Backend, vecAddr domain.Rptr, width int, value uint64) error {
	lenBuf, err := b.Read(vecAddr, uint64(width))
	if err != nil {
		return err
	}
	length := binary.LittleEndian.Uint64(lenBuf)
	capBuf, err := b.Read(vecAddr+domain.Rptr(width), uint64(width))
	if err != nil {
		return err
	}
	capacity := binary.LittleEndian.Uint64(capBuf)
	if length >= capacity {
		return nil
	}
	cursorBuf, err := b.Read(vecAddr+domain.Rptr(2*width), uint64(width))
	if err != nil {
		return err
	}
	cursor := domain.Rptr(binary.LittleEndian.Uint64(cursorBuf))

	elemBuf := make([]byte, width)
	binary.LittleEndian.PutUint64(elemBuf, value)
	if err := b.Write(cursor, elemBuf); err != nil {
		return err
	}

	newCursor := make([]byte, width)
	binary.LittleEndian.PutUint64(newCursor, uint64(cursor)+uint64(width))
	if err := b.Write(vecAddr+domain.Rptr(2*width), newCursor); err != nil {
		return err
	}

	newLen := make([]byte, width)
	binary.LittleEndian.PutUint64(newLen, length+1)
	return b.Write(vecAddr, newLen)
}

// writeNullExcVariant writes a Variant wire record encoding "no exception"
// (TagManagedRef, handle 0) at addr.
func (s *scriptedMono) writeNullExcVariant(addr domain.Rptr) {
	buf := make([]byte, 16) // Sizeof(Traits) for x86-64: 8-byte tag slot + 8-byte value slot
	buf[0] = byte(domain.TagManagedRef)
	s.b.Write(addr, buf)
}

func (s *scriptedMono) writeStringReturn(addr domain.Rptr, text string) {
	buf := make([]byte, 4+len(text))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(text)))
	copy(buf[4:], text)
	s.b.Write(addr, buf)
}

func (s *scriptedMono) attachWrapHandlers(ctx context.Context, c *Context) {
	lookup := func(name string) domain.Rptr {
		e, err := c.sess.Table.Lookup(name)
		if err != nil {
			panic(err)
		}
		return e.WrapAddr
	}

	s.b.Handle(lookup("mono_object_new"), func(args []uint64) (uint64, error) {
		s.nextHandle++
		s.strings[s.nextHandle] = "a new object"
		return s.nextHandle, nil
	})
	s.b.Handle(lookup("mono_string_new"), func(args []uint64) (uint64, error) {
		s.nextHandle++
		// args[1] is the address of the NUL-terminated string written by
		// Context.writeCString; read it back to mirror it into ToString().
		size, _ := s.b.RegionSize(domain.Rptr(args[1]))
		data, _ := s.b.Read(domain.Rptr(args[1]), size)
		n := 0
		for n < len(data) && data[n] != 0 {
			n++
		}
		s.strings[s.nextHandle] = string(data[:n])
		return s.nextHandle, nil
	})
	s.b.Handle(lookup("mono_object_to_string"), func(args []uint64) (uint64, error) {
		// args: [objHandle, excAddr, returnAddr]
		s.writeNullExcVariant(domain.Rptr(args[1]))
		s.writeStringReturn(domain.Rptr(args[2]), s.strings[args[0]])
		return 0, nil
	})
	s.b.Handle(lookup("mono_runtime_invoke"), func(args []uint64) (uint64, error) {
		// args: [methodAddr, objHandle, paramsAddr, packedParamsAddr, excAddr, returnAddr]
		excAddr := domain.Rptr(args[4])
		retAddr := domain.Rptr(args[5])
		s.writeNullExcVariant(excAddr)
		buf := make([]byte, 16)
		buf[0] = byte(domain.TagValue)
		binary.LittleEndian.PutUint64(buf[8:], 42)
		s.b.Write(retAddr, buf)
		return 0, nil
	})
	s.b.Handle(lookup("mono_array_new"), func(args []uint64) (uint64, error) {
		n := args[2]
		base, _ := s.b.Alloc(n*4, domain.ProtReadWrite)
		s.nextHandle++
		s.arrays[s.nextHandle] = base
		return s.nextHandle, nil
	})
	s.b.Handle(lookup("mono_array_length"), func(args []uint64) (uint64, error) {
		if _, ok := s.arrays[args[0]]; !ok {
			return 0, nil
		}
		return 3, nil
	})
	s.b.Handle(lookup("mono_array_addr_with_size"), func(args []uint64) (uint64, error) {
		base := s.arrays[args[0]]
		elemSize := args[1]
		index := args[2]
		return uint64(base) + elemSize*index, nil
	})
	s.b.Handle(lookup("mono_field_get_value"), func(args []uint64) (uint64, error) {
		// args: [objHandle, fieldPtr, valueAddr]
		fieldPtr, valueAddr := args[1], domain.Rptr(args[2])
		size, _ := s.b.RegionSize(valueAddr)
		data, ok := s.fields[fieldPtr]
		if !ok {
			data = make([]byte, size)
		}
		s.b.Write(valueAddr, data)
		return 0, nil
	})
	s.b.Handle(lookup("mono_field_set_value"), func(args []uint64) (uint64, error) {
		// args: [objHandle, fieldPtr, valueAddr]
		fieldPtr, valueAddr := args[1], domain.Rptr(args[2])
		size, _ := s.b.RegionSize(valueAddr)
		data, _ := s.b.Read(valueAddr, size)
		s.fields[fieldPtr] = append([]byte(nil), data...)
		return 0, nil
	})
}

func attachScripted(t *testing.T) (*scriptedMono, *Context) {
	t.Helper()
	s := newScriptedMono(t)
	c, err := Attach(context.Background(), s.b, "target", lifecycle.Options{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	s.attachWrapHandlers(context.Background(), c)
	return s, c
}

func TestFacade_NewStringRoundTripsThroughObjectToString(t *testing.T) {
	_, c := attachScripted(t)
	ctx := context.Background()

	str, err := c.NewString(ctx, c.RootDomain(), "hello rmono")
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	got, err := c.ObjectToString(ctx, str)
	if err != nil {
		t.Fatalf("ObjectToString: %v", err)
	}
	if got != "hello rmono" {
		t.Fatalf("ObjectToString = %q, want %q", got, "hello rmono")
	}
}

func TestFacade_InvokeMethodReturnsValueVariant(t *testing.T) {
	_, c := attachScripted(t)
	ctx := context.Background()

	img, _ := c.Image(ctx, mustOpenAssembly(t, c))
	klass, err := c.ClassFromName(ctx, img, "System", "Math")
	if err != nil {
		t.Fatalf("ClassFromName: %v", err)
	}
	method, err := c.MethodFromName(ctx, klass, "Abs", 1)
	if err != nil {
		t.Fatalf("MethodFromName: %v", err)
	}
	result, err := c.InvokeMethod(ctx, method, handle.Managed[Object]{}, nil)
	if err != nil {
		t.Fatalf("InvokeMethod: %v", err)
	}
	if result.Tag != domain.TagValue || result.ValuePtr != 42 {
		t.Fatalf("InvokeMethod result = %+v, want Tag=Value ValuePtr=42", result)
	}
}

func TestFacade_ArrayNewLengthAndElementRoundTrip(t *testing.T) {
	_, c := attachScripted(t)
	ctx := context.Background()

	img, _ := c.Image(ctx, mustOpenAssembly(t, c))
	eclass, err := c.ClassFromName(ctx, img, "System", "Int32")
	if err != nil {
		t.Fatalf("ClassFromName: %v", err)
	}
	arr, err := c.NewArray(ctx, c.RootDomain(), eclass, 3)
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}
	n, err := c.ArrayLength(ctx, arr)
	if err != nil {
		t.Fatalf("ArrayLength: %v", err)
	}
	if n != 3 {
		t.Fatalf("ArrayLength = %d, want 3", n)
	}

	want := []byte{7, 0, 0, 0}
	if err := c.WriteArrayElement(ctx, arr, 1, 4, want); err != nil {
		t.Fatalf("WriteArrayElement: %v", err)
	}
	got, err := c.ReadArrayElement(ctx, arr, 1, 4)
	if err != nil {
		t.Fatalf("ReadArrayElement: %v", err)
	}
	if binary.LittleEndian.Uint32(got) != 7 {
		t.Fatalf("ReadArrayElement = %v, want value 7", got)
	}
}

func TestFacade_FieldValueRoundTrip(t *testing.T) {
	_, c := attachScripted(t)
	ctx := context.Background()

	img, _ := c.Image(ctx, mustOpenAssembly(t, c))
	klass, err := c.ClassFromName(ctx, img, "MyGame", "Player")
	if err != nil {
		t.Fatalf("ClassFromName: %v", err)
	}
	field, err := c.FieldFromName(ctx, klass, "health")
	if err != nil {
		t.Fatalf("FieldFromName: %v", err)
	}

	want := []byte{100, 0, 0, 0}
	if err := c.SetFieldValue(ctx, handle.Managed[Object]{}, field, want); err != nil {
		t.Fatalf("SetFieldValue: %v", err)
	}
	got, err := c.GetFieldValue(ctx, handle.Managed[Object]{}, field, 4)
	if err != nil {
		t.Fatalf("GetFieldValue: %v", err)
	}
	if binary.LittleEndian.Uint32(got) != 100 {
		t.Fatalf("GetFieldValue = %v, want value 100", got)
	}
}

func TestFacade_PropertyAccessorsResolve(t *testing.T) {
	_, c := attachScripted(t)
	ctx := context.Background()

	img, _ := c.Image(ctx, mustOpenAssembly(t, c))
	klass, err := c.ClassFromName(ctx, img, "MyGame", "Player")
	if err != nil {
		t.Fatalf("ClassFromName: %v", err)
	}
	prop, err := c.PropertyFromName(ctx, klass, "Health")
	if err != nil {
		t.Fatalf("PropertyFromName: %v", err)
	}
	if _, err := c.PropertyGetter(ctx, prop); err != nil {
		t.Fatalf("PropertyGetter: %v", err)
	}
	if _, err := c.PropertySetter(ctx, prop); err != nil {
		t.Fatalf("PropertySetter: %v", err)
	}
}

func TestFacade_EnumerateAssembliesCollectsLoadedAssemblies(t *testing.T) {
	s, c := attachScripted(t)
	ctx := context.Background()
	s.loadedAssemblies = []domain.Rptr{0x1111, 0x2222, 0x3333}

	got, err := c.EnumerateAssemblies(ctx)
	if err != nil {
		t.Fatalf("EnumerateAssemblies: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	for i, want := range s.loadedAssemblies {
		ptr, err := got[i].Pointer()
		if err != nil {
			t.Fatalf("Pointer(%d): %v", i, err)
		}
		if ptr != want {
			t.Fatalf("got[%d] = %#x, want %#x", i, ptr, want)
		}
	}
}

func TestFacade_EnumerateAssembliesReportsTruncation(t *testing.T) {
	s, c := attachScripted(t)
	ctx := context.Background()
	for i := 0; i < defaultAssemblyEnumCap+5; i++ {
		s.loadedAssemblies = append(s.loadedAssemblies, domain.Rptr(0x10000+i*16))
	}

	got, err := c.EnumerateAssemblies(ctx)
	if err != domain.ErrTruncated {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if len(got) != defaultAssemblyEnumCap {
		t.Fatalf("len(got) = %d, want %d (capacity ceiling, not silently dropped)", len(got), defaultAssemblyEnumCap)
	}
}

func mustOpenAssembly(t *testing.T, c *Context) handle.Raw[Assembly] {
	t.Helper()
	asm, err := c.OpenAssembly(context.Background(), c.RootDomain(), "/fake/Assembly.dll")
	if err != nil {
		t.Fatalf("OpenAssembly: %v", err)
	}
	return asm
}
