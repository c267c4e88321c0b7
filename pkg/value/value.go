package value

import "math"

// Value is the tagged union every VM stack slot, local, upvalue, object
// field, array element and channel element holds. Primitives are stored
// inline in num (bit-reinterpreted as needed); heap-backed kinds hold a
// pointer to their cell in ref.
type Value struct {
	kind Kind
	num  uint64
	ref  heapObject
}

// Kind returns the variant this Value holds.
func (v Value) Kind() Kind { return v.kind }

// Null is the singleton null value.
var Null = Value{kind: KindNull}

// Bool constructs a boolean Value.
func Bool(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}

func I8(x int8) Value   { return Value{kind: KindI8, num: uint64(uint8(x))} }
func I16(x int16) Value { return Value{kind: KindI16, num: uint64(uint16(x))} }
func I32(x int32) Value { return Value{kind: KindI32, num: uint64(uint32(x))} }
func I64(x int64) Value { return Value{kind: KindI64, num: uint64(x)} }
func U8(x uint8) Value  { return Value{kind: KindU8, num: uint64(x)} }
func U16(x uint16) Value { return Value{kind: KindU16, num: uint64(x)} }
func U32(x uint32) Value { return Value{kind: KindU32, num: uint64(x)} }
func U64(x uint64) Value { return Value{kind: KindU64, num: x} }
func F32(x float32) Value {
	return Value{kind: KindF32, num: uint64(math.Float32bits(x))}
}
func F64(x float64) Value {
	return Value{kind: KindF64, num: math.Float64bits(x)}
}
func Rune(x rune) Value { return Value{kind: KindRune, num: uint64(uint32(x))} }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the inline boolean payload; callers must check Kind first.
func (v Value) AsBool() bool { return v.num != 0 }

func (v Value) AsI8() int8   { return int8(uint8(v.num)) }
func (v Value) AsI16() int16 { return int16(uint16(v.num)) }
func (v Value) AsI32() int32 { return int32(uint32(v.num)) }
func (v Value) AsI64() int64 { return int64(v.num) }
func (v Value) AsU8() uint8   { return uint8(v.num) }
func (v Value) AsU16() uint16 { return uint16(v.num) }
func (v Value) AsU32() uint32 { return uint32(v.num) }
func (v Value) AsU64() uint64 { return v.num }
func (v Value) AsF32() float32 { return math.Float32frombits(uint32(v.num)) }
func (v Value) AsF64() float64 { return math.Float64frombits(v.num) }
func (v Value) AsRune() rune   { return rune(uint32(v.num)) }

// AsInt64 widens any integer or rune kind to an int64 for generic code paths
// (e.g. array indexing, FFI marshaling) that don't care about the exact
// source width.
func (v Value) AsInt64() int64 {
	switch v.kind {
	case KindI8:
		return int64(v.AsI8())
	case KindI16:
		return int64(v.AsI16())
	case KindI32:
		return int64(v.AsI32())
	case KindI64:
		return v.AsI64()
	case KindU8:
		return int64(v.AsU8())
	case KindU16:
		return int64(v.AsU16())
	case KindU32:
		return int64(v.AsU32())
	case KindU64:
		return int64(v.AsU64())
	case KindRune:
		return int64(v.AsRune())
	}
	return 0
}

// AsFloat64 widens f32/f64 to float64.
func (v Value) AsFloat64() float64 {
	if v.kind == KindF32 {
		return float64(v.AsF32())
	}
	return v.AsF64()
}

// Truthy implements the language's truthiness rule: null, false, numeric
// zero, and empty string/array/object are false; everything else is true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.AsBool()
	case KindI8, KindI16, KindI32, KindI64, KindU8, KindU16, KindU32, KindU64, KindRune:
		return v.AsInt64() != 0
	case KindF32, KindF64:
		return v.AsFloat64() != 0
	case KindString:
		return v.ref.(*StringObj).Len() != 0
	case KindArray:
		return len(v.ref.(*ArrayObj).Elements) != 0
	case KindObject:
		return len(v.ref.(*ObjectObj).Names) != 0
	default:
		return true
	}
}

// heapRef returns the underlying heap object pointer, or nil for inline
// kinds. Exported within the package only; other packages use the typed
// accessors (AsString, AsArray, ...) defined alongside each heap kind.
func (v Value) heapRef() heapObject { return v.ref }

func fromHeap(k Kind, h heapObject) Value {
	return Value{kind: k, ref: h}
}
