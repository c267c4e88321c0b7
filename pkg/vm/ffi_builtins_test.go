package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smogvm/core/pkg/value"
)

// doCall's KindNativeFn branch must fail deterministically on a native
// function that resolved to a null symbol, the one native-call error path
// that needs no real shared library to exercise.
func TestDoCallNativeFnNullSymbol(t *testing.T) {
	v := newTestVM(t)

	fn := value.NewNativeFn("missing_symbol", 0, uint8(0), nil)
	v.push(fn)

	err := v.doCall(0, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "null symbol")
}

// A KindNativeFn callee with a resolved (non-zero) symbol but a mismatched
// argument count must fail before ever reaching libffi.
func TestDoCallNativeFnArgMismatch(t *testing.T) {
	v := newTestVM(t)

	// Symbol 1 is not a real function; CallNativeFn validates argument
	// count against the bound signature before it would ever invoke it.
	fn := value.NewNativeFn("two_args", 1, uint8(0), []uint8{0, 0})
	v.push(fn)
	v.push(value.I32(1))

	err := v.doCall(1, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected 2 arguments, got 1")
}

// A native-fn call that fails must not leave its already-pushed arguments
// stuck on the stack (they are released by doCall's KindNativeFn branch
// before the error is returned).
func TestDoCallNativeFnReleasesArgsOnError(t *testing.T) {
	v := newTestVM(t)

	fn := value.NewNativeFn("missing_symbol", 0, uint8(0), nil)
	spBefore := v.sp
	v.push(fn)

	err := v.doCall(0, false)
	require.Error(t, err)
	require.Equal(t, spBefore, v.sp, "doCall must leave the stack pointer where it found it on a native-call error")
}
