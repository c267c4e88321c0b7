package ffi

/*
#cgo LDFLAGS: -lffi
#include <ffi.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/smogvm/core/pkg/value"
)

// ffiType maps a scalar TypeCode to libffi's type descriptor. TypeStruct
// has no entry here — struct arguments/returns cross the call interface
// as an opaque pointer (see resolveFFIType); their field layout only
// matters to MarshalStruct/UnmarshalStruct (struct.go).
func ffiType(t TypeCode) (*C.ffi_type, error) {
	switch t {
	case TypeVoid:
		return &C.ffi_type_void, nil
	case TypeI8:
		return &C.ffi_type_sint8, nil
	case TypeU8:
		return &C.ffi_type_uint8, nil
	case TypeI16:
		return &C.ffi_type_sint16, nil
	case TypeU16:
		return &C.ffi_type_uint16, nil
	case TypeI32:
		return &C.ffi_type_sint32, nil
	case TypeU32:
		return &C.ffi_type_uint32, nil
	case TypeI64:
		return &C.ffi_type_sint64, nil
	case TypeU64:
		return &C.ffi_type_uint64, nil
	case TypeF32:
		return &C.ffi_type_float, nil
	case TypeF64:
		return &C.ffi_type_double, nil
	case TypePointer, TypeString:
		return &C.ffi_type_pointer, nil
	}
	return nil, fmt.Errorf("ffi: type %s has no scalar libffi descriptor", t)
}

// addrOfBytes returns the address of data's first byte without a cgo call,
// for marshaling a buffer/string's raw bytes as a pointer argument.
func addrOfBytes(data []byte) uintptr {
	return uintptr(unsafe.Pointer(&data[0]))
}

// goStringFromAddr copies a NUL-terminated C string at addr into a Go
// string. addr 0 is handled by callers before reaching here.
func goStringFromAddr(addr uintptr) string {
	return C.GoString((*C.char)(unsafe.Pointer(addr)))
}

// Call marshals args per types (types[0] is the return type, types[1:]
// the argument types), prepares a libffi call interface, invokes fnPtr,
// and marshals the return value back. Fails with a runtime error on a
// null fnPtr or failed call-interface preparation.
func (e *Engine) Call(fnPtr uintptr, types []TypeCode, args []value.Value) (value.Value, error) {
	if fnPtr == 0 {
		return value.Null, fmt.Errorf("ffi: call through a null function pointer")
	}
	if len(types) == 0 {
		return value.Null, fmt.Errorf("ffi: call with no return type")
	}
	retType := types[0]
	argTypes := types[1:]
	if len(argTypes) != len(args) {
		return value.Null, fmt.Errorf("ffi: expected %d arguments, got %d", len(argTypes), len(args))
	}

	retFFI, err := resolveFFIType(retType)
	if err != nil {
		return value.Null, err
	}
	argFFIs := make([]*C.ffi_type, len(argTypes))
	for i, t := range argTypes {
		ft, err := resolveFFIType(t)
		if err != nil {
			return value.Null, err
		}
		argFFIs[i] = ft
	}

	var cif C.ffi_cif
	var argTypesPtr **C.ffi_type
	if len(argFFIs) > 0 {
		argTypesPtr = (**C.ffi_type)(unsafe.Pointer(&argFFIs[0]))
	}
	status := C.ffi_prep_cif(&cif, C.FFI_DEFAULT_ABI, C.uint(len(argFFIs)), retFFI, argTypesPtr)
	if status != C.FFI_OK {
		return value.Null, fmt.Errorf("ffi: ffi_prep_cif failed: status %d", int(status))
	}

	argStorage := make([][]byte, len(argTypes))
	argPtrs := make([]unsafe.Pointer, len(argTypes))
	for i, t := range argTypes {
		size := argSize(t)
		argStorage[i] = make([]byte, size)
		if err := marshalScalar(argStorage[i], t, args[i]); err != nil {
			return value.Null, err
		}
		argPtrs[i] = unsafe.Pointer(&argStorage[i][0])
	}
	var argValuesPtr *unsafe.Pointer
	if len(argPtrs) > 0 {
		argValuesPtr = &argPtrs[0]
	}

	retSize := argSize(retType)
	retStorage := make([]byte, retSize)

	C.ffi_call(&cif, C.FFI_FN(unsafe.Pointer(fnPtr)), unsafe.Pointer(&retStorage[0]), argValuesPtr)
	runtime.KeepAlive(argStorage)

	return unmarshalScalar(retStorage, retType)
}

// argSize returns the native storage size for one call-interface slot of
// type t. TypeStruct is passed/returned only by reference in the call
// path (a NativePtr to memory already laid out by MarshalStruct); direct
// by-value struct passing is handled by the struct registry's offset
// computation, not by ffi_call itself.
func argSize(t TypeCode) int {
	if t == TypeStruct {
		return TypePointer.size()
	}
	size := t.size()
	if size == 0 {
		size = 8
	}
	return size
}

// resolveFFIType resolves a scalar type code to its libffi descriptor.
// TypeStruct is treated as an opaque pointer at the call-interface level
// (see argSize); the struct's field layout only matters when marshaling
// its backing memory via MarshalStruct/UnmarshalStruct.
func resolveFFIType(t TypeCode) (*C.ffi_type, error) {
	if t == TypeStruct {
		return &C.ffi_type_pointer, nil
	}
	return ffiType(t)
}
