// Package ffi implements the foreign-function interface engine: loading
// native libraries, resolving symbols, marshaling language values across
// the C ABI boundary, a process-wide struct layout registry, and callback
// trampolines that let native code call back into the language.
//
// The engine is built as a thin cgo shim over libdl/libffi (the standard
// mechanism real dynamic-FFI engines use), mirroring the cgo call-path
// conventions the runtime's own toolchain uses internally rather than
// reimplementing calling-convention logic in Go.
package ffi

import "fmt"

// TypeCode enumerates the marshalable C types a native call signature can
// use for its return type and each argument.
type TypeCode uint8

const (
	TypeVoid TypeCode = iota
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeF32
	TypeF64
	TypePointer
	TypeString
	TypeStruct
)

var typeNames = [...]string{
	TypeVoid:    "void",
	TypeI8:      "i8",
	TypeI16:     "i16",
	TypeI32:     "i32",
	TypeI64:     "i64",
	TypeU8:      "u8",
	TypeU16:     "u16",
	TypeU32:     "u32",
	TypeU64:     "u64",
	TypeF32:     "f32",
	TypeF64:     "f64",
	TypePointer: "pointer",
	TypeString:  "string",
	TypeStruct:  "struct",
}

func (t TypeCode) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "unknown"
}

// size returns the in-memory size, in bytes, of a scalar type code on this
// host. TypeStruct has no fixed size of its own — callers resolve it via
// the struct registry by name instead.
func (t TypeCode) size() int {
	switch t {
	case TypeVoid:
		return 0
	case TypeI8, TypeU8:
		return 1
	case TypeI16, TypeU16:
		return 2
	case TypeI32, TypeU32, TypeF32:
		return 4
	case TypeI64, TypeU64, TypeF64, TypePointer, TypeString:
		return 8
	}
	return 0
}

// align returns the natural alignment of t, which on every ABI this engine
// targets equals its size (no type here needs stricter alignment than its
// own width).
func (t TypeCode) align() int {
	a := t.size()
	if a == 0 {
		return 1
	}
	return a
}

func parseTypeCode(v int) (TypeCode, error) {
	t := TypeCode(v)
	if int(t) >= len(typeNames) {
		return 0, fmt.Errorf("ffi: unknown type code %d", v)
	}
	return t, nil
}
