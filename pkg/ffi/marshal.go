package ffi

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/smogvm/core/pkg/value"
)

// marshalScalar writes v's C representation for type t into storage,
// which must be at least t.size() bytes. Numeric types go through the
// runtime's own i64/f64 coercion so any numeric Value kind (i8..u64,
// rune) can fill any numeric C slot; pointer accepts a native pointer
// value or a buffer's raw data address; string accepts a string value's
// raw UTF-8 bytes, passed as the address of the string's own data (not
// copied, and no NUL terminator is appended); null maps to zero/NULL for
// any type.
func marshalScalar(storage []byte, t TypeCode, v value.Value) error {
	if v.IsNull() {
		for i := range storage {
			storage[i] = 0
		}
		return nil
	}
	switch t {
	case TypeI8, TypeI16, TypeI32, TypeI64, TypeU8, TypeU16, TypeU32, TypeU64:
		putInt(storage, t, v.AsInt64())
		return nil
	case TypeF32:
		binary.LittleEndian.PutUint32(storage, math.Float32bits(float32(v.AsFloat64())))
		return nil
	case TypeF64:
		binary.LittleEndian.PutUint64(storage, math.Float64bits(v.AsFloat64()))
		return nil
	case TypePointer, TypeString, TypeStruct:
		binary.LittleEndian.PutUint64(storage, uint64(pointerOf(v)))
		return nil
	}
	return fmt.Errorf("ffi: cannot marshal scalar of type %s", t)
}

func putInt(storage []byte, t TypeCode, x int64) {
	switch t {
	case TypeI8, TypeU8:
		storage[0] = byte(x)
	case TypeI16, TypeU16:
		binary.LittleEndian.PutUint16(storage, uint16(x))
	case TypeI32, TypeU32:
		binary.LittleEndian.PutUint32(storage, uint32(x))
	case TypeI64, TypeU64:
		binary.LittleEndian.PutUint64(storage, uint64(x))
	}
}

// pointerOf extracts the raw address a pointer/string/buffer-kinded value
// presents to native code: a NativePtr's own address, or the address of
// the first byte a buffer or string holds (no copy is made). Empty
// buffers and strings, and every other kind, yield 0.
func pointerOf(v value.Value) uintptr {
	switch v.Kind() {
	case value.KindNativePtr:
		return v.AsNativePtr().Addr
	case value.KindBuffer:
		b := v.AsBuffer()
		if len(b.Data) == 0 {
			return 0
		}
		return addrOfBytes(b.Data)
	case value.KindString:
		s := v.AsString()
		if s.Len() == 0 {
			return 0
		}
		return addrOfBytes(s.Bytes())
	}
	return 0
}

// unmarshalScalar reads a C return value of type t out of storage and
// produces the corresponding language Value. string returns a new copied
// language string, or null for a NULL pointer, per spec's "C return ->
// language value" rule.
func unmarshalScalar(storage []byte, t TypeCode) (value.Value, error) {
	switch t {
	case TypeVoid:
		return value.Null, nil
	case TypeI8:
		return value.I8(int8(storage[0])), nil
	case TypeU8:
		return value.U8(storage[0]), nil
	case TypeI16:
		return value.I16(int16(binary.LittleEndian.Uint16(storage))), nil
	case TypeU16:
		return value.U16(binary.LittleEndian.Uint16(storage)), nil
	case TypeI32:
		return value.I32(int32(binary.LittleEndian.Uint32(storage))), nil
	case TypeU32:
		return value.U32(binary.LittleEndian.Uint32(storage)), nil
	case TypeI64:
		return value.I64(int64(binary.LittleEndian.Uint64(storage))), nil
	case TypeU64:
		return value.U64(binary.LittleEndian.Uint64(storage)), nil
	case TypeF32:
		return value.F32(math.Float32frombits(binary.LittleEndian.Uint32(storage))), nil
	case TypeF64:
		return value.F64(math.Float64frombits(binary.LittleEndian.Uint64(storage))), nil
	case TypePointer, TypeStruct:
		addr := uintptr(binary.LittleEndian.Uint64(storage))
		if addr == 0 {
			return value.Null, nil
		}
		return value.NewNativePtr(addr, nil), nil
	case TypeString:
		addr := uintptr(binary.LittleEndian.Uint64(storage))
		if addr == 0 {
			return value.Null, nil
		}
		return value.NewString(goStringFromAddr(addr)), nil
	}
	return value.Null, fmt.Errorf("ffi: cannot unmarshal return of type %s", t)
}

// bytesFromAddr views size bytes of native memory at addr as a Go byte
// slice without copying, for reading struct memory addressed by a raw
// NativePtr returned from a previous FFI call.
func bytesFromAddr(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
