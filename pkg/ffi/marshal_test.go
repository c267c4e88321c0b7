package ffi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smogvm/core/pkg/value"
)

func TestMarshalScalarNumericWidening(t *testing.T) {
	storage := make([]byte, 8)

	require.NoError(t, marshalScalar(storage[:4], TypeI32, value.I8(-5)))
	v, err := unmarshalScalar(storage[:4], TypeI32)
	require.NoError(t, err)
	require.Equal(t, int64(-5), v.AsInt64())

	require.NoError(t, marshalScalar(storage[:8], TypeF64, value.I32(3)))
	f, err := unmarshalScalar(storage[:8], TypeF64)
	require.NoError(t, err)
	require.Equal(t, 3.0, f.AsFloat64())
}

func TestMarshalScalarNullIsZeroForAnyType(t *testing.T) {
	storage := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, marshalScalar(storage, TypePointer, value.Null))
	for _, b := range storage {
		require.Equal(t, byte(0), b)
	}
}

func TestMarshalUnmarshalScalarRoundTripIntegers(t *testing.T) {
	cases := []struct {
		t TypeCode
		v value.Value
	}{
		{TypeI8, value.I8(-128)},
		{TypeU8, value.U8(255)},
		{TypeI16, value.I16(-30000)},
		{TypeU16, value.U16(60000)},
		{TypeI32, value.I32(-2000000000)},
		{TypeU32, value.U32(4000000000)},
		{TypeI64, value.I64(-9000000000000000000)},
		{TypeU64, value.U64(18000000000000000000)},
	}
	for _, c := range cases {
		storage := make([]byte, c.t.size())
		require.NoError(t, marshalScalar(storage, c.t, c.v))
		got, err := unmarshalScalar(storage, c.t)
		require.NoError(t, err)
		require.Equal(t, c.v.AsInt64(), got.AsInt64(), "type %s", c.t)
	}
}

func TestUnmarshalScalarNullPointerIsNull(t *testing.T) {
	storage := make([]byte, 8)
	v, err := unmarshalScalar(storage, TypePointer)
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestUnmarshalScalarVoidIsNull(t *testing.T) {
	v, err := unmarshalScalar(nil, TypeVoid)
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestPointerOfBufferAndString(t *testing.T) {
	buf := value.NewBuffer([]byte{1, 2, 3})
	require.NotZero(t, pointerOf(buf))

	empty := value.NewBuffer(nil)
	require.Zero(t, pointerOf(empty))

	s := value.NewString("hi")
	require.NotZero(t, pointerOf(s))
}
