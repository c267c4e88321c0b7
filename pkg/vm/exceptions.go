package vm

import "github.com/smogvm/core/pkg/value"

// throwOrPropagate wraps an internal VM-detected error (a failed property
// lookup, an out-of-bounds index, a type mismatch) as a RuntimeError with
// Catchable set, and returns it, which immediately ends the current
// Run/Call. It does not search the try-handler stack: only the
// language-level THROW opcode reaches handleThrow below, so an active
// TRY block does not catch these errors.
func (vm *VM) throwOrPropagate(message string) (value.Value, error) {
	return value.Null, newRuntimeError(message, vm.frames)
}

// handleThrow implements the language-level THROW opcode: it searches the
// active try-handler stack for the innermost scope, unwinding any frames
// (and running their defers) between the throw site and that scope before
// resuming execution at its catch offset. Returns handled=true when
// resumption point has been set up (the caller should `continue` its
// dispatch loop); handled=false means no handler existed anywhere on the
// call stack and the thrown value should propagate out as a Go error.
func (vm *VM) handleThrow(thrown value.Value) (handled bool, err error) {
	for len(vm.handlers) > 0 {
		h := vm.handlers[len(vm.handlers)-1]
		vm.handlers = vm.handlers[:len(vm.handlers)-1]

		for len(vm.frames)-1 > h.frameIdx {
			top := &vm.frames[len(vm.frames)-1]
			if uerr := vm.popFrame(top); uerr != nil {
				thrown.Release()
				return false, uerr
			}
		}
		if h.frameIdx >= len(vm.frames) {
			continue // the owning frame already unwound past this handler
		}
		for vm.sp > h.stackTop {
			vm.pop().Release()
		}
		vm.sp = h.stackTop
		frame := &vm.frames[h.frameIdx]
		frame.IP = h.catchIP
		vm.push(thrown)
		return true, nil
	}
	msg := value.Display(thrown)
	thrown.Release()
	return false, newRuntimeError("uncaught exception: "+msg, vm.frames)
}

// throwValue is the entry point for the THROW opcode.
func (vm *VM) throwValue(thrown value.Value) (value.Value, error) {
	handled, err := vm.handleThrow(thrown)
	if handled {
		return value.Value{}, errContinue
	}
	return value.Null, err
}

// errContinue is a sentinel the dispatch loop checks for after THROW to
// distinguish "resume at the catch site" from "execution ended".
var errContinue = &continueSentinel{}

type continueSentinel struct{}

func (*continueSentinel) Error() string { return "vm: internal resume-at-catch-site sentinel" }
