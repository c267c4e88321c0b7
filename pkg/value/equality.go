package value

import "bytes"

// Equal implements deep equality for primitives and strings, and shallow
// identity equality for every other heap value (arrays, objects, closures,
// etc. compare equal only if they are literally the same cell).
func Equal(a, b Value) bool {
	if a.kind == KindNull && b.kind == KindNull {
		return true
	}
	if a.kind.IsNumeric() && b.kind.IsNumeric() {
		c, err := Compare(a, b)
		return err == nil && c == 0
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.AsBool() == b.AsBool()
	case KindRune:
		return a.AsRune() == b.AsRune()
	case KindString:
		return bytes.Equal(a.AsString().Bytes(), b.AsString().Bytes())
	default:
		return a.ref == b.ref // shallow identity for heap values
	}
}
