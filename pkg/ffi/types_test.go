package ffi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeCodeSizeAndAlign(t *testing.T) {
	cases := []struct {
		t     TypeCode
		size  int
		align int
	}{
		{TypeVoid, 0, 1},
		{TypeI8, 1, 1},
		{TypeU8, 1, 1},
		{TypeI16, 2, 2},
		{TypeU16, 2, 2},
		{TypeI32, 4, 4},
		{TypeU32, 4, 4},
		{TypeF32, 4, 4},
		{TypeI64, 8, 8},
		{TypeU64, 8, 8},
		{TypeF64, 8, 8},
		{TypePointer, 8, 8},
		{TypeString, 8, 8},
	}
	for _, c := range cases {
		require.Equal(t, c.size, c.t.size(), "size of %s", c.t)
		require.Equal(t, c.align, c.t.align(), "align of %s", c.t)
	}
}

func TestTypeCodeString(t *testing.T) {
	require.Equal(t, "i32", TypeI32.String())
	require.Equal(t, "struct", TypeStruct.String())
	require.Equal(t, "unknown", TypeCode(200).String())
}

func TestParseTypeCodeValidAndInvalid(t *testing.T) {
	tc, err := parseTypeCode(int(TypeF64))
	require.NoError(t, err)
	require.Equal(t, TypeF64, tc)

	_, err = parseTypeCode(999)
	require.Error(t, err)
}

func TestResolveTypeCodes(t *testing.T) {
	codes, err := ResolveTypeCodes([]int{int(TypeI32), int(TypePointer)})
	require.NoError(t, err)
	require.Equal(t, []TypeCode{TypeI32, TypePointer}, codes)

	_, err = ResolveTypeCodes([]int{-1})
	require.Error(t, err)
}
