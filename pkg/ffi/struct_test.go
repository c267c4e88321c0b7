package ffi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smogvm/core/pkg/value"
)

// Register's offset computation follows standard C struct layout: each
// field aligns to its own natural alignment, and a stride-creating gap
// (padding) appears wherever the next field's alignment demands it.
func TestStructRegistryRegisterOffsetsAndPadding(t *testing.T) {
	r := newStructRegistry()

	// struct { u8 a; i32 b; u8 c; i64 d; } on a standard C ABI:
	//   a @0 (size 1), 3 bytes padding, b @4 (size 4), c @8 (size 1),
	//   7 bytes padding, d @16 (size 8); total size 24, align 8.
	def, err := r.Register("Point", []FieldSpec{
		{Name: "a", Type: TypeU8},
		{Name: "b", Type: TypeI32},
		{Name: "c", Type: TypeU8},
		{Name: "d", Type: TypeI64},
	})
	require.NoError(t, err)

	a, ok := def.FieldByName("a")
	require.True(t, ok)
	require.Equal(t, 0, a.Offset)

	b, ok := def.FieldByName("b")
	require.True(t, ok)
	require.Equal(t, 4, b.Offset)

	c, ok := def.FieldByName("c")
	require.True(t, ok)
	require.Equal(t, 8, c.Offset)

	d, ok := def.FieldByName("d")
	require.True(t, ok)
	require.Equal(t, 16, d.Offset)

	require.Equal(t, 24, def.Size)
	require.Equal(t, 8, def.Align)
}

// A struct whose widest field is narrower than 8 bytes still rounds its
// total size up to that field's own alignment, not to 8.
func TestStructRegistryRegisterNarrowAlignment(t *testing.T) {
	r := newStructRegistry()

	// struct { u8 a; u16 b; } -> a@0, 1 byte pad, b@2; size rounds to 4.
	def, err := r.Register("Pair", []FieldSpec{
		{Name: "a", Type: TypeU8},
		{Name: "b", Type: TypeU16},
	})
	require.NoError(t, err)

	a, _ := def.FieldByName("a")
	b, _ := def.FieldByName("b")
	require.Equal(t, 0, a.Offset)
	require.Equal(t, 2, b.Offset)
	require.Equal(t, 4, def.Size)
	require.Equal(t, 2, def.Align)
}

func TestStructRegistryRegisterRejectsNestedStruct(t *testing.T) {
	r := newStructRegistry()
	_, err := r.Register("Outer", []FieldSpec{{Name: "inner", Type: TypeStruct}})
	require.Error(t, err)
}

func TestStructRegistryRegisterRejectsEmptyFields(t *testing.T) {
	r := newStructRegistry()
	_, err := r.Register("Empty", nil)
	require.Error(t, err)
}

func TestStructRegistryLookupMissing(t *testing.T) {
	r := newStructRegistry()
	_, ok := r.Lookup("DoesNotExist")
	require.False(t, ok)
}

// Re-registering an existing name overwrites the previous definition.
func TestStructRegistryRegisterOverwrites(t *testing.T) {
	r := newStructRegistry()
	_, err := r.Register("Shape", []FieldSpec{{Name: "x", Type: TypeI32}})
	require.NoError(t, err)

	def2, err := r.Register("Shape", []FieldSpec{{Name: "x", Type: TypeI64}, {Name: "y", Type: TypeI64}})
	require.NoError(t, err)
	require.Equal(t, 16, def2.Size)

	got, ok := r.Lookup("Shape")
	require.True(t, ok)
	require.Same(t, def2, got)
}

// MarshalStruct followed by UnmarshalStruct round-trips every field back
// to its original value, and leaves object fields absent from the source
// object zeroed in the marshaled buffer.
func TestMarshalUnmarshalStructRoundTrip(t *testing.T) {
	e := NewEngine()
	_, err := e.RegisterStruct("Vec3", []FieldSpec{
		{Name: "x", Type: TypeF64},
		{Name: "y", Type: TypeF64},
		{Name: "z", Type: TypeF64},
	})
	require.NoError(t, err)

	obj := value.NewObject("Vec3",
		[]string{"x", "y", "z"},
		[]value.Value{value.F64(1.5), value.F64(-2.25), value.F64(0)},
	)

	buf, err := e.MarshalStruct("Vec3", obj)
	require.NoError(t, err)
	require.Equal(t, value.KindBuffer, buf.Kind())
	require.Equal(t, 24, buf.AsBuffer().Len())

	back, err := e.UnmarshalStruct("Vec3", buf)
	require.NoError(t, err)
	require.Equal(t, value.KindObject, back.Kind())

	xv, ok := back.AsObject().Field("x")
	require.True(t, ok)
	require.Equal(t, 1.5, xv.AsFloat64())

	yv, ok := back.AsObject().Field("y")
	require.True(t, ok)
	require.Equal(t, -2.25, yv.AsFloat64())
}

// A field present in the registry but absent from the source object is
// left zeroed in the marshaled buffer rather than rejected.
func TestMarshalStructLeavesMissingFieldsZeroed(t *testing.T) {
	e := NewEngine()
	_, err := e.RegisterStruct("Partial", []FieldSpec{
		{Name: "a", Type: TypeI32},
		{Name: "b", Type: TypeI32},
	})
	require.NoError(t, err)

	obj := value.NewObject("Partial", []string{"a"}, []value.Value{value.I32(7)})
	buf, err := e.MarshalStruct("Partial", obj)
	require.NoError(t, err)

	back, err := e.UnmarshalStruct("Partial", buf)
	require.NoError(t, err)
	bv, ok := back.AsObject().Field("b")
	require.True(t, ok)
	require.Equal(t, int64(0), bv.AsInt64())
}

func TestMarshalStructUnregisteredName(t *testing.T) {
	e := NewEngine()
	_, err := e.MarshalStruct("Nope", value.NewObject("", nil, nil))
	require.Error(t, err)
}

func TestUnmarshalStructBufferTooSmall(t *testing.T) {
	e := NewEngine()
	_, err := e.RegisterStruct("Big", []FieldSpec{{Name: "x", Type: TypeI64}, {Name: "y", Type: TypeI64}})
	require.NoError(t, err)

	_, err = e.UnmarshalStruct("Big", value.NewBuffer(make([]byte, 4)))
	require.Error(t, err)
}
