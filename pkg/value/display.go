package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Display renders v the way the language's print/string-conversion
// builtins do.
func Display(v Value) string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindI8, KindI16, KindI32, KindI64:
		return strconv.FormatInt(v.AsInt64(), 10)
	case KindU8, KindU16, KindU32, KindU64:
		return strconv.FormatUint(v.AsU64(), 10)
	case KindF32:
		return strconv.FormatFloat(float64(v.AsF32()), 'g', -1, 32)
	case KindF64:
		return strconv.FormatFloat(v.AsF64(), 'g', -1, 64)
	case KindRune:
		return string(v.AsRune())
	case KindString:
		return v.AsString().String()
	case KindArray:
		return displayArray(v.AsArray(), map[*ArrayObj]bool{}, map[*ObjectObj]bool{})
	case KindObject:
		return displayObject(v.AsObject(), map[*ArrayObj]bool{}, map[*ObjectObj]bool{})
	case KindClosure:
		return fmt.Sprintf("<function %s>", v.AsClosure().Fn.Name)
	case KindTask:
		return fmt.Sprintf("<task %s>", v.AsTask().ID)
	case KindChannel:
		return "<channel>"
	case KindBuffer:
		return fmt.Sprintf("<buffer %d bytes>", v.AsBuffer().Len())
	case KindNativePtr:
		return fmt.Sprintf("<pointer 0x%x>", v.AsNativePtr().Addr)
	case KindFile:
		return "<file>"
	case KindSocket:
		return "<socket>"
	case KindNativeFn:
		return fmt.Sprintf("<native %s>", v.AsNativeFn().Name)
	}
	return "<unknown>"
}

func displayArray(a *ArrayObj, seenA map[*ArrayObj]bool, seenO map[*ObjectObj]bool) string {
	if seenA[a] {
		return "[...circular...]"
	}
	seenA[a] = true
	defer delete(seenA, a)
	parts := make([]string, len(a.Elements))
	for i, e := range a.Elements {
		parts[i] = displayCycleAware(e, seenA, seenO)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func displayObject(o *ObjectObj, seenA map[*ArrayObj]bool, seenO map[*ObjectObj]bool) string {
	if seenO[o] {
		return "{...circular...}"
	}
	seenO[o] = true
	defer delete(seenO, o)
	parts := make([]string, len(o.Names))
	for i, n := range o.Names {
		parts[i] = fmt.Sprintf("%q: %s", n, displayCycleAware(o.Values[i], seenA, seenO))
	}
	prefix := ""
	if o.TypeName != "" {
		prefix = o.TypeName + " "
	}
	return prefix + "{" + strings.Join(parts, ", ") + "}"
}

func displayCycleAware(v Value, seenA map[*ArrayObj]bool, seenO map[*ObjectObj]bool) string {
	switch v.kind {
	case KindArray:
		return displayArray(v.AsArray(), seenA, seenO)
	case KindObject:
		return displayObject(v.AsObject(), seenA, seenO)
	case KindString:
		return strconv.Quote(v.AsString().String())
	default:
		return Display(v)
	}
}

// Concat implements "+" when either operand is a string: every other kind
// (numbers, booleans, runes, null, arrays, objects) is coerced to its
// display/JSON string form and the two sides are concatenated into a new
// string. Arrays and objects are JSON-serialized with cycle detection
// rather than their pretty Display form, matching spec.md §4.1.
func Concat(a, b Value) Value {
	return NewString(coerceToString(a) + coerceToString(b))
}

func coerceToString(v Value) string {
	switch v.kind {
	case KindString:
		return v.AsString().String()
	case KindArray, KindObject:
		return jsonSerialize(v, map[*ArrayObj]bool{}, map[*ObjectObj]bool{})
	default:
		return Display(v)
	}
}

func jsonSerialize(v Value, seenA map[*ArrayObj]bool, seenO map[*ObjectObj]bool) string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindString:
		return strconv.Quote(v.AsString().String())
	case KindArray:
		a := v.AsArray()
		if seenA[a] {
			return "null" // cycle detected: break it rather than recurse forever
		}
		seenA[a] = true
		defer delete(seenA, a)
		parts := make([]string, len(a.Elements))
		for i, e := range a.Elements {
			parts[i] = jsonSerialize(e, seenA, seenO)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindObject:
		o := v.AsObject()
		if seenO[o] {
			return "null"
		}
		seenO[o] = true
		defer delete(seenO, o)
		parts := make([]string, len(o.Names))
		for i, n := range o.Names {
			parts[i] = strconv.Quote(n) + ":" + jsonSerialize(o.Values[i], seenA, seenO)
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		if v.kind.IsNumeric() {
			return Display(v)
		}
		return strconv.Quote(Display(v))
	}
}
