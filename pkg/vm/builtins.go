package vm

import (
	"fmt"

	"github.com/smogvm/core/pkg/value"
)

// BuiltinFn is one entry in the CALL_BUILTIN dispatch table: it receives
// already-unboxed arguments, takes ownership of them (releasing each one,
// or transferring it into its result), and returns a fresh, owned result.
type BuiltinFn func(args []value.Value) (value.Value, error)

// BuiltinTable dispatches CALL_BUILTIN by numeric ID rather than name, so
// the compiler can emit a flat id16 with zero constant-pool indirection.
// Only the handful of builtins the core itself needs to stay self-hosted
// (length, string conversion, array/object introspection) are registered
// here; everything whose body is pure standard-library code (math, regex,
// filesystem, OS, crypto, compression, networking) is the hosting driver's
// concern and is wired in by RegisterFn at embed time, not by this package.
type BuiltinTable struct {
	fns   []BuiltinFn
	names []string
}

// Builtin IDs the core's own opcodes/compiler may assume are stable.
const (
	BuiltinLen = iota
	BuiltinStr
	BuiltinPush
	BuiltinTypeName
	builtinCoreCount
)

// NewBuiltinTable constructs a table with the core builtins pre-registered
// at their fixed IDs above.
func NewBuiltinTable() *BuiltinTable {
	t := &BuiltinTable{
		fns:   make([]BuiltinFn, builtinCoreCount),
		names: make([]string, builtinCoreCount),
	}
	t.fns[BuiltinLen] = builtinLen
	t.names[BuiltinLen] = "len"
	t.fns[BuiltinStr] = builtinStr
	t.names[BuiltinStr] = "str"
	t.fns[BuiltinPush] = builtinPush
	t.names[BuiltinPush] = "push"
	t.fns[BuiltinTypeName] = builtinTypeName
	t.names[BuiltinTypeName] = "type_name"
	return t
}

// RegisterFn appends a host-supplied builtin and returns its ID, for the
// driver embedding this VM to wire in stdlib functionality (HTTP, crypto,
// file IO, and so on) without this package needing to depend on any of it.
func (t *BuiltinTable) RegisterFn(name string, fn BuiltinFn) int {
	t.fns = append(t.fns, fn)
	t.names = append(t.names, name)
	return len(t.fns) - 1
}

// Call dispatches to the builtin at id, taking ownership of args (the
// caller does not release them; the builtin, or Call itself on error, does).
func (t *BuiltinTable) Call(id int, args []value.Value) (value.Value, error) {
	if id < 0 || id >= len(t.fns) || t.fns[id] == nil {
		for _, a := range args {
			a.Release()
		}
		return value.Null, fmt.Errorf("undefined builtin id %d", id)
	}
	return t.fns[id](args)
}

// Name returns the registered name for a builtin ID, for disassembly.
func (t *BuiltinTable) Name(id int) string {
	if id < 0 || id >= len(t.names) {
		return "?"
	}
	return t.names[id]
}

func builtinLen(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		releaseAll(args)
		return value.Null, fmt.Errorf("len expects 1 argument, got %d", len(args))
	}
	defer releaseAll(args)
	switch args[0].Kind() {
	case value.KindArray:
		return value.I64(int64(args[0].AsArray().Len())), nil
	case value.KindString:
		return value.I64(int64(args[0].AsString().RuneCount())), nil
	default:
		return value.Null, fmt.Errorf("len: unsupported operand %s", args[0].Kind())
	}
}

func builtinStr(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		releaseAll(args)
		return value.Null, fmt.Errorf("str expects 1 argument, got %d", len(args))
	}
	defer releaseAll(args)
	return value.NewString(value.Display(args[0])), nil
}

func builtinPush(args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		releaseAll(args)
		return value.Null, fmt.Errorf("push expects 2 arguments, got %d", len(args))
	}
	if args[0].Kind() != value.KindArray {
		releaseAll(args)
		return value.Null, fmt.Errorf("push: first argument must be an array, got %s", args[0].Kind())
	}
	args[0].AsArray().Push(args[1])
	args[1].Release()
	return args[0], nil
}

func builtinTypeName(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		releaseAll(args)
		return value.Null, fmt.Errorf("type_name expects 1 argument, got %d", len(args))
	}
	defer releaseAll(args)
	if args[0].Kind() == value.KindObject && args[0].AsObject().TypeName != "" {
		return value.NewString(args[0].AsObject().TypeName), nil
	}
	return value.NewString(args[0].Kind().String()), nil
}

func releaseAll(args []value.Value) {
	for _, a := range args {
		a.Release()
	}
}
