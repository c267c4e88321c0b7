package vm

import (
	"fmt"
	"unsafe"

	"github.com/smogvm/core/pkg/value"
)

// slotOf recovers the stack index a live *value.Value pointer refers to.
// Safe only because the VM's stack is allocated once at maxStackSize and
// never reallocated (see New/push), so every slot address stays valid for
// the VM's lifetime.
func (vm *VM) slotOf(p *value.Value) int {
	base := unsafe.Pointer(&vm.stack[0])
	return int((uintptr(unsafe.Pointer(p)) - uintptr(base)) / unsafe.Sizeof(vm.stack[0]))
}

// captureUpvalue returns an open upvalue pointing at the stack slot,
// reusing an existing open upvalue for that slot if one is already live
// (so multiple closures capturing the same local share one cell). The
// open list is kept sorted by descending stack address, matching the
// invariant closeUpvalues relies on to stop early.
func (vm *VM) captureUpvalue(slot int) *value.Upvalue {
	var prev *value.Upvalue
	cur := vm.openUV
	for cur != nil && vm.slotOf(cur.StackAddr()) > slot {
		prev = cur
		cur = cur.Next()
	}
	if cur != nil && vm.slotOf(cur.StackAddr()) == slot {
		return cur
	}
	created := value.NewOpenUpvalue(&vm.stack[slot])
	created.SetNext(cur)
	if prev == nil {
		vm.openUV = created
	} else {
		prev.SetNext(created)
	}
	return created
}

// closeUpvalues closes every open upvalue at or above fromSlot, copying
// each captured stack cell's value into the upvalue itself so it survives
// the frame's locals window being reused.
func (vm *VM) closeUpvalues(fromSlot int) {
	for vm.openUV != nil && vm.slotOf(vm.openUV.StackAddr()) >= fromSlot {
		vm.openUV.Close()
		vm.openUV = vm.openUV.Next()
	}
}

// popFrame runs any registered defers (LIFO), closes upvalues captured
// from the frame's locals window, releases the frame's locals, and pops
// the frame record.
func (vm *VM) popFrame(frame *CallFrame) error {
	base := frame.BaseSlot
	for i := len(frame.Defers) - 1; i >= 0; i-- {
		d := frame.Defers[i]
		if _, err := vm.runClosure(d.AsClosure(), nil); err != nil {
			d.Release()
			return err
		}
		d.Release()
	}
	vm.closeUpvalues(base)
	for i := base; i < vm.sp; i++ {
		vm.stack[i].Release()
		vm.stack[i] = value.Null
	}
	vm.sp = base
	vm.frames = vm.frames[:len(vm.frames)-1]
	return nil
}

// runClosure invokes closure with args as a nested call on this VM,
// reusing the shared value stack. Used for DEFER bodies (popFrame) and
// for native callbacks re-entering a closure (Invoke in ffi_builtins.go).
func (vm *VM) runClosure(closure *value.ClosureObj, args []value.Value) (value.Value, error) {
	base := vm.sp
	if closure.IsBound {
		vm.push(closure.BoundSelf.Retain())
	}
	vm.pushArgs(closure, args)
	if err := vm.pushFrame(closure, base); err != nil {
		return value.Null, err
	}
	return vm.run()
}

func (vm *VM) doCall(argc int, tail bool) error {
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	callee := vm.pop()
	defer callee.Release()

	if callee.Kind() == value.KindNativeFn {
		// Native calls run to completion synchronously (no frame push: the
		// foreign function either returns or the call fails outright), so
		// the result lands on the stack immediately, mirroring what a
		// bytecode closure's eventual OP_RETURN would do. Marshaling only
		// reads args (copying their C representation into argument
		// storage), so the VM's own references are released here rather
		// than handed off the way a closure call hands them to the new
		// frame's locals window.
		result, err := vm.shared.ffi.CallNativeFn(callee.AsNativeFn(), args)
		for _, a := range args {
			a.Release()
		}
		if err != nil {
			return err
		}
		vm.push(result)
		return nil
	}
	if callee.Kind() != value.KindClosure {
		return fmt.Errorf("cannot call a %s value", callee.Kind())
	}
	closure := callee.AsClosure()

	base := vm.sp
	if closure.IsBound {
		vm.push(closure.BoundSelf.Retain())
	}
	for _, a := range args {
		vm.push(a)
	}
	for i := len(args); i < int(closure.Fn.Arity); i++ {
		vm.push(value.Null)
	}

	if tail && len(vm.frames) > 0 {
		// True tail-call elimination: reuse the current frame's slot instead
		// of growing the call-frame stack, so deep recursive tail calls run
		// in constant frame depth.
		cur := vm.currentFrame()
		oldBase := cur.BaseSlot
		vm.closeUpvalues(oldBase)
		n := vm.sp - base
		for i := 0; i < n; i++ {
			vm.stack[oldBase+i].Release()
			vm.stack[oldBase+i] = vm.stack[base+i]
		}
		for i := oldBase + n; i < vm.sp; i++ {
			vm.stack[i] = value.Null
		}
		vm.sp = oldBase + n
		cur.Closure = closure
		cur.IP = 0
		cur.Defers = nil
		return nil
	}

	return vm.pushFrame(closure, base)
}

func (vm *VM) doCallMethod(name string, argc int) error {
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	receiver := vm.pop()
	if receiver.Kind() != value.KindObject {
		receiver.Release()
		return fmt.Errorf("cannot call method %q on a %s value", name, receiver.Kind())
	}
	method, ok := receiver.AsObject().Field(name)
	if !ok || method.Kind() != value.KindClosure {
		receiver.Release()
		return fmt.Errorf("no method %q on object of type %q", name, receiver.AsObject().TypeName)
	}
	bound := method.AsClosure().Bind(receiver)
	receiver.Release()

	base := vm.sp
	vm.push(bound.BoundSelf.Retain())
	for _, a := range args {
		vm.push(a)
	}
	for i := len(args); i < int(bound.Fn.Arity); i++ {
		vm.push(value.Null)
	}
	return vm.pushFrame(bound, base)
}

// doSuper resolves the parent-type override of the currently executing
// bound method and pushes it onto the stack as a new closure over the
// parent method's chunk and upvalues. It does not call that closure and
// does not bind it to the receiver. The method name is the part of the
// executing closure's Fn.Name after its last '.' (the whole name if it
// has none).
func (vm *VM) doSuper() error {
	frame := vm.currentFrame()
	self := frame.Closure.BoundSelf
	if !frame.Closure.IsBound || self.Kind() != value.KindObject {
		return fmt.Errorf("super used outside of an instance method")
	}
	methodName := frame.Closure.Fn.Name
	for i := len(methodName) - 1; i >= 0; i-- {
		if methodName[i] == '.' {
			methodName = methodName[i+1:]
			break
		}
	}
	parentType, ok := vm.registryParent(self.AsObject().TypeName)
	if !ok {
		return fmt.Errorf("type %q has no parent for super dispatch", self.AsObject().TypeName)
	}
	parentMethod, ok := vm.registryMethod(parentType, methodName)
	if !ok {
		return fmt.Errorf("no super method %q on parent type %q", methodName, parentType)
	}
	vm.push(value.NewClosure(parentMethod.Fn, parentMethod.Upvalues))
	return nil
}

func (vm *VM) registryParent(typeName string) (string, bool) { return vm.shared.reg.Parent(typeName) }

func (vm *VM) registryMethod(typeName, methodName string) (*value.ClosureObj, bool) {
	return vm.shared.reg.Method(typeName, methodName)
}
