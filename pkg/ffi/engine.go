package ffi

import (
	"fmt"
	"sync"

	"github.com/smogvm/core/pkg/value"
)

// Engine is the process-wide FFI state: open libraries, the struct
// registry, and the callback registry. spec.md §5 describes the type/enum
// registries as append-only and process-wide; this engine's struct
// registry and callback registry follow the same discipline, and the
// engine itself is created once per process and freed at shutdown.
type Engine struct {
	mu        sync.Mutex
	libraries []*Library

	Structs   *StructRegistry
	callbacks *CallbackRegistry
}

// activeEngine is the single Engine instance a native callback trampoline
// dispatches through. libffi invokes goFFITrampoline with only the
// user-data pointer it was configured with (a callback ID), not a Go
// closure, so the trampoline needs a process-wide handle to look the
// callback up by ID; one Engine per process (spec.md's registries are
// themselves process-wide) makes that handle unambiguous.
var activeEngine *Engine

// NewEngine constructs the FFI engine. Only one should exist per process;
// vm.New calls this once and shares the result with every spawned VM.
func NewEngine() *Engine {
	e := &Engine{
		Structs:   newStructRegistry(),
		callbacks: newCallbackRegistry(),
	}
	activeEngine = e
	return e
}

// RegisterStruct computes field offsets for fields and stores them under
// name in the struct registry (see StructRegistry.Register).
func (e *Engine) RegisterStruct(name string, fields []FieldSpec) (*StructDef, error) {
	return e.Structs.Register(name, fields)
}

// ResolveTypeCodes converts a slice of raw type-code integers (as seen on
// the language side, e.g. from an array of small integers) into TypeCodes,
// validating each one.
func ResolveTypeCodes(raw []int) ([]TypeCode, error) {
	out := make([]TypeCode, len(raw))
	for i, r := range raw {
		t, err := parseTypeCode(r)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// NativeFn wraps a resolved symbol with its calling signature as a
// language Value, for ffi_bind's result.
func NativeFn(name string, symbol uintptr, retType TypeCode, argTypes []TypeCode) value.Value {
	rawArgs := make([]uint8, len(argTypes))
	for i, t := range argTypes {
		rawArgs[i] = uint8(t)
	}
	return value.NewNativeFn(name, symbol, uint8(retType), rawArgs)
}

// CallNativeFn invokes the native function described by fn (as produced by
// NativeFn / stored in a value.NativeFnObj) with already-unboxed args —
// the entry point the VM's CALL dispatch uses for a KindNativeFn callee.
func (e *Engine) CallNativeFn(fn *value.NativeFnObj, args []value.Value) (value.Value, error) {
	if fn.Symbol == 0 {
		return value.Null, fmt.Errorf("ffi: %q resolved to a null symbol", fn.Name)
	}
	types := make([]TypeCode, 1+len(fn.ArgTypes))
	types[0] = TypeCode(fn.RetType)
	for i, t := range fn.ArgTypes {
		types[i+1] = TypeCode(t)
	}
	return e.Call(fn.Symbol, types, args)
}

// Shutdown frees every live callback and closes every open library, part
// of process-wide teardown (spec.md §4.6: struct/callback registries are
// "freed at shutdown").
func (e *Engine) Shutdown() {
	e.shutdownCallbacks()
	e.closeAll()
}
