package value

import "fmt"

// CastNumeric implements the language-level CAST opcode for numeric
// targets: unlike castTo (an internal arithmetic-promotion helper), this
// validates that both sides are numeric and reports a proper error instead
// of silently producing Null.
func CastNumeric(v Value, target Kind) (Value, error) {
	if !v.kind.IsNumeric() {
		return Null, fmt.Errorf("value: cannot cast %s to %s", v.kind, target)
	}
	if !target.IsNumeric() {
		return Null, fmt.Errorf("value: cast target %s is not numeric", target)
	}
	return castTo(v, target), nil
}
