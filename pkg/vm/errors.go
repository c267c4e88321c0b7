// Package vm - error handling with stack traces.
package vm

import (
	"fmt"
	"strings"

	gostack "github.com/go-stack/stack"

	"github.com/smogvm/core/pkg/value"
)

// CallFrame represents a single frame in the bytecode call stack: a
// closure, its instruction pointer, and the base slot of its locals window
// on the value stack.
type CallFrame struct {
	Closure  *value.ClosureObj
	IP       int
	BaseSlot int
	Line     int
	Defers   []value.Value // closures registered by DEFER, run LIFO on return/unwind
}

// RuntimeError is a language-level runtime error carrying both the
// bytecode call stack at the point of failure and (for debugging builds)
// the host Go call stack that produced it.
type RuntimeError struct {
	Message   string
	Frames    []FrameSnapshot
	HostTrace gostack.CallStack // captured at construction time, for -debug builds
	Catchable bool              // false for stack overflow, OOM, malformed bytecode
}

// FrameSnapshot is a point-in-time copy of a CallFrame for error reporting
// (the live CallFrame keeps mutating after the error is constructed).
type FrameSnapshot struct {
	Name string
	Line int
	IP   int
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Frames) > 0 {
		b.WriteString("\n\nStack trace:")
		for i := len(e.Frames) - 1; i >= 0; i-- {
			f := e.Frames[i]
			b.WriteString(fmt.Sprintf("\n  at %s [line %d, ip %d]", f.Name, f.Line, f.IP))
		}
	}
	return b.String()
}

// newRuntimeError builds a catchable RuntimeError from the VM's current
// frame stack, capturing the host trace via go-stack for diagnostic
// logging even though language code never sees it.
func newRuntimeError(message string, frames []CallFrame) *RuntimeError {
	snaps := make([]FrameSnapshot, len(frames))
	for i, f := range frames {
		name := "<anonymous>"
		if f.Closure != nil && f.Closure.Fn != nil {
			name = f.Closure.Fn.Name
		}
		snaps[i] = FrameSnapshot{Name: name, Line: f.Line, IP: f.IP}
	}
	return &RuntimeError{
		Message:   message,
		Frames:    snaps,
		HostTrace: gostack.Trace().TrimRuntime(),
		Catchable: true,
	}
}

// newFatalError builds an uncatchable RuntimeError for conditions the
// language's try/catch must never intercept: stack overflow, malformed
// bytecode, and similar VM-integrity failures.
func newFatalError(message string, frames []CallFrame) *RuntimeError {
	e := newRuntimeError(message, frames)
	e.Catchable = false
	return e
}
