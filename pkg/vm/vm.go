// Package vm implements the bytecode virtual machine: a stack-based
// interpreter that executes a bytecode.Chunk produced by the compiler.
//
// Virtual Machine Architecture:
//
// The VM uses a stack-based architecture with the following components:
//
//  1. Value Stack: holds intermediate values and each frame's locals window
//  2. Call Frame Stack: one entry per active closure invocation
//  3. Global Variables: name-keyed table, persists across Run calls
//  4. Open Upvalues: an intrusive list of not-yet-closed stack captures
//  5. Module Cache: compiled chunks keyed by import path, LRU-bounded
//
// Execution Model:
//
// Each CallFrame owns a window of the shared value stack (its base slot
// through the current stack pointer) for its locals; calling pushes a new
// frame and advances the base, returning pops it back. This keeps closures
// and recursion cheap: no per-call heap allocation for locals beyond the
// frame record itself.
package vm

import (
	"fmt"
	"math/rand"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/google/uuid"

	"github.com/smogvm/core/pkg/bytecode"
	"github.com/smogvm/core/pkg/ffi"
	"github.com/smogvm/core/pkg/registry"
	"github.com/smogvm/core/pkg/scheduler"
	"github.com/smogvm/core/pkg/value"
)

const (
	maxStackSize  = 65536
	initialFrames = 64
	maxFrames     = 1024
)

// tryHandler records one active TRY block: where to resume on a matching
// THROW, and the stack/frame depth to unwind back to first.
type tryHandler struct {
	catchIP   int
	finallyIP int
	frameIdx  int // index into vm.frames this handler belongs to
	stackTop  int // vm.sp to restore before jumping to catchIP
}

// VM executes compiled chunks. A VM is not safe for concurrent use by
// multiple goroutines against the same instance; SPAWN instead hands a
// fresh VM (sharing globals, the module cache, and the scheduler pool) to
// the worker pool so spawned tasks run independently.
type VM struct {
	stack []value.Value
	sp    int

	frames   []CallFrame
	handlers []tryHandler
	openUV   *value.Upvalue // head of the open-upvalue list, sorted by descending stack address

	shared *vmShared

	maxCallDepth int
}

// vmShared is the state a VM instance shares with every other VM spawned
// from it (one per SPAWNed task): globals, the module cache, the builtin
// dispatch table, the scheduler pool, and the type registry. Each spawned
// VM gets its own value stack and frame stack (goroutines cannot safely
// share those) but reads and writes the same globals map, guarded by mu.
type vmShared struct {
	mu      sync.RWMutex
	globals map[string]value.Value

	modules  *lru.Cache // import path -> *bytecode.Chunk
	builtins *BuiltinTable
	pool     *scheduler.Pool
	reg      *registry.Registry
	ffi      *ffi.Engine
}

// Config tunes VM construction.
type Config struct {
	ModuleCacheSize int // 0 selects a default of 128
	MaxCallDepth    int // 0 selects maxFrames
	Pool            *scheduler.Pool
}

// New constructs a VM ready to Run bytecode. If cfg.Pool is nil, a default
// pool sized at 2x logical CPUs is created and started.
func New(cfg Config) *VM {
	size := cfg.ModuleCacheSize
	if size <= 0 {
		size = 128
	}
	modules, _ := lru.New(size)

	pool := cfg.Pool
	if pool == nil {
		pool = scheduler.NewPool(scheduler.Config{})
		pool.Start()
	}

	maxDepth := cfg.MaxCallDepth
	if maxDepth <= 0 {
		maxDepth = maxFrames
	}

	vm := &VM{
		stack:  make([]value.Value, maxStackSize),
		frames: make([]CallFrame, 0, initialFrames),
		shared: &vmShared{
			globals:  make(map[string]value.Value),
			modules:  modules,
			builtins: NewBuiltinTable(),
			pool:     pool,
			reg:      registry.New(),
			ffi:      ffi.NewEngine(),
		},
		maxCallDepth: maxDepth,
	}
	registerFFIBuiltins(vm.shared.builtins, vm.shared.ffi, vm)
	return vm
}

// child creates a new VM with its own stack and frame stack but sharing
// this VM's globals, module cache, builtins, pool, and type registry. Used
// by SPAWN so a task runs on an independent goroutine without racing the
// spawning VM's stack.
func (vm *VM) child() *VM {
	return &VM{
		stack:        make([]value.Value, maxStackSize),
		frames:       make([]CallFrame, 0, initialFrames),
		shared:       vm.shared,
		maxCallDepth: vm.maxCallDepth,
	}
}

// Pool returns the scheduler pool backing SPAWN/AWAIT/JOIN.
func (vm *VM) Pool() *scheduler.Pool { return vm.shared.pool }

// Shutdown stops the VM's scheduler pool and frees the FFI engine's live
// callbacks and open libraries. Call once the VM is no longer needed;
// globals and module cache entries are dropped with the VM itself.
func (vm *VM) Shutdown() {
	vm.shared.pool.Shutdown()
	vm.shared.ffi.Shutdown()
}

// Run executes an already compiled top-level chunk as an implicit zero-argument
// closure, returning whatever value is left on the stack (or Null).
func (vm *VM) Run(chunk *bytecode.Chunk) (value.Value, error) {
	closure := value.NewClosure(chunk, nil).AsClosure()
	return vm.Call(closure, nil)
}

// Call invokes closure with args and runs it to completion on this VM,
// returning its result value or a *RuntimeError.
func (vm *VM) Call(closure *value.ClosureObj, args []value.Value) (value.Value, error) {
	base := vm.sp
	if err := vm.pushArgs(closure, args); err != nil {
		return value.Null, err
	}
	if err := vm.pushFrame(closure, base); err != nil {
		return value.Null, err
	}
	result, err := vm.run()
	if err != nil {
		vm.sp = base
		return value.Null, err
	}
	return result, nil
}

func (vm *VM) pushArgs(closure *value.ClosureObj, args []value.Value) error {
	want := int(closure.Fn.Arity)
	for i := 0; i < want; i++ {
		if i < len(args) {
			vm.push(args[i].Retain())
		} else if i-len(args) < len(closure.Defaults) {
			vm.push(value.Null) // defaults are compiled as bytecode the callee runs itself
		} else {
			vm.push(value.Null)
		}
	}
	if closure.Fn.HasRest {
		var rest []value.Value
		for i := want; i < len(args); i++ {
			rest = append(rest, args[i].Retain())
		}
		vm.push(value.NewArray(rest))
	}
	return nil
}

func (vm *VM) pushFrame(closure *value.ClosureObj, base int) error {
	if len(vm.frames) >= vm.maxCallDepth {
		return newFatalError("stack overflow: maximum call depth exceeded", vm.frames)
	}
	vm.frames = append(vm.frames, CallFrame{Closure: closure, BaseSlot: base})
	return nil
}

func (vm *VM) push(v value.Value) {
	if vm.sp >= len(vm.stack) {
		// The stack is allocated at maxStackSize up front (see New) and
		// never reallocated, since open upvalues hold raw pointers into it;
		// reaching here means the program has exceeded that hard ceiling.
		panic(newFatalError("stack overflow: value stack exhausted", vm.frames))
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() value.Value {
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = value.Null
	return v
}

func (vm *VM) peek(distance int) value.Value { return vm.stack[vm.sp-1-distance] }

func (vm *VM) currentFrame() *CallFrame { return &vm.frames[len(vm.frames)-1] }

// getGlobal, setGlobal, and defineGlobal guard the shared globals map with
// vm.shared.mu: a spawned task runs its child VM on an independent worker
// goroutine but reads and writes the same map as its parent and siblings.
func (vm *VM) getGlobal(name string) (value.Value, bool) {
	vm.shared.mu.RLock()
	defer vm.shared.mu.RUnlock()
	v, ok := vm.shared.globals[name]
	return v, ok
}

// setGlobal assigns to an already-defined global, releasing its previous
// value. Reports false if name has never been defined.
func (vm *VM) setGlobal(name string, v value.Value) bool {
	vm.shared.mu.Lock()
	defer vm.shared.mu.Unlock()
	old, ok := vm.shared.globals[name]
	if !ok {
		return false
	}
	old.Release()
	vm.shared.globals[name] = v.Retain()
	return true
}

func (vm *VM) defineGlobal(name string, v value.Value) {
	vm.shared.mu.Lock()
	defer vm.shared.mu.Unlock()
	vm.shared.globals[name] = v
}

// run is the main dispatch loop. It executes starting from the topmost
// frame until that frame returns (normally, via exception unwind past it,
// or via a propagated fatal error).
func (vm *VM) run() (result value.Value, err error) {
	baseFrameDepth := len(vm.frames) - 1

	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(*RuntimeError); ok {
				err = rerr
				return
			}
			panic(r)
		}
	}()

	for {
		frame := vm.currentFrame()
		chunk := frame.Closure.Fn
		if frame.IP >= len(chunk.Code) {
			return value.Null, newFatalError("instruction pointer ran past end of chunk", vm.frames)
		}
		frame.Line = chunk.LineAt(frame.IP)
		op := bytecode.Opcode(chunk.Code[frame.IP])
		frame.IP++

		switch op {
		case bytecode.OpNop:
			// no-op

		case bytecode.OpHalt:
			if vm.sp > frame.BaseSlot {
				return vm.stack[vm.sp-1], nil
			}
			return value.Null, nil

		case bytecode.OpConst:
			idx := vm.readU16(frame)
			vm.push(vm.constantValue(chunk, idx))

		case bytecode.OpConstByte:
			n := int(chunk.Code[frame.IP])
			frame.IP++
			vm.push(value.I32(int32(n)))

		case bytecode.OpNull:
			vm.push(value.Null)
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))

		case bytecode.OpArray:
			cnt := int(vm.readU16(frame))
			elems := make([]value.Value, cnt)
			for i := cnt - 1; i >= 0; i-- {
				elems[i] = vm.pop()
			}
			vm.push(value.NewArray(elems))

		case bytecode.OpObject:
			cnt := int(vm.readU16(frame))
			names := make([]string, cnt)
			vals := make([]value.Value, cnt)
			for i := cnt - 1; i >= 0; i-- {
				vals[i] = vm.pop()
				names[i] = vm.pop().AsString().String()
			}
			vm.push(value.NewObject("", names, vals))

		case bytecode.OpStringInterp:
			cnt := int(vm.readU16(frame))
			parts := make([]value.Value, cnt)
			for i := cnt - 1; i >= 0; i-- {
				parts[i] = vm.pop()
			}
			acc := value.NewString("")
			for _, p := range parts {
				next := value.Concat(acc, p)
				acc.Release()
				p.Release()
				acc = next
			}
			vm.push(acc)

		case bytecode.OpClosure:
			idx := vm.readU16(frame)
			upCount := int(chunk.Code[frame.IP])
			frame.IP++
			constant := chunk.Constants[idx]
			fnChunk := constant.Fn
			ups := make([]*value.Upvalue, upCount)
			for i := 0; i < upCount; i++ {
				isLocal := chunk.Code[frame.IP] != 0
				index := int(chunk.Code[frame.IP+1])
				frame.IP += 2
				if isLocal {
					ups[i] = vm.captureUpvalue(frame.BaseSlot + index)
				} else {
					ups[i] = frame.Closure.Upvalues[index]
				}
			}
			vm.push(value.NewClosure(fnChunk, ups))

		case bytecode.OpGetLocal:
			slot := int(vm.readU16(frame))
			vm.push(vm.stack[frame.BaseSlot+slot].Retain())

		case bytecode.OpSetLocal:
			slot := int(vm.readU16(frame))
			v := vm.peek(0)
			vm.stack[frame.BaseSlot+slot].Release()
			vm.stack[frame.BaseSlot+slot] = v.Retain()

		case bytecode.OpGetUpvalue:
			idx := int(vm.readU16(frame))
			vm.push(frame.Closure.Upvalues[idx].Get().Retain())

		case bytecode.OpSetUpvalue:
			idx := int(vm.readU16(frame))
			frame.Closure.Upvalues[idx].Set(vm.peek(0).Retain())

		case bytecode.OpGetGlobal:
			idx := vm.readU16(frame)
			name := chunk.Constants[idx].S
			v, ok := vm.getGlobal(name)
			if !ok {
				return vm.throwOrPropagate(fmt.Sprintf("undefined global variable: %s", name))
			}
			vm.push(v.Retain())

		case bytecode.OpSetGlobal:
			idx := vm.readU16(frame)
			name := chunk.Constants[idx].S
			if !vm.setGlobal(name, vm.peek(0)) {
				return vm.throwOrPropagate(fmt.Sprintf("undefined global variable: %s", name))
			}

		case bytecode.OpDefineGlobal:
			idx := vm.readU16(frame)
			name := chunk.Constants[idx].S
			vm.defineGlobal(name, vm.pop())

		case bytecode.OpGetProperty:
			idx := vm.readU16(frame)
			name := chunk.Constants[idx].S
			obj := vm.pop()
			v, err := vm.getProperty(obj, name)
			obj.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(v)

		case bytecode.OpSetProperty:
			idx := vm.readU16(frame)
			name := chunk.Constants[idx].S
			v := vm.pop()
			obj := vm.pop()
			if obj.Kind() != value.KindObject {
				obj.Release()
				return vm.throwOrPropagate("cannot set property on a non-object value")
			}
			obj.AsObject().SetField(name, v)
			vm.push(v.Retain())
			obj.Release()

		case bytecode.OpGetIndex:
			idx := vm.pop()
			obj := vm.pop()
			v, err := vm.getIndex(obj, idx)
			obj.Release()
			idx.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(v)

		case bytecode.OpSetIndex:
			v := vm.pop()
			idx := vm.pop()
			obj := vm.pop()
			if err := vm.setIndex(obj, idx, v); err != nil {
				obj.Release()
				idx.Release()
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(v.Retain())
			obj.Release()
			idx.Release()

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpFloorDiv, bytecode.OpMod:
			b := vm.pop()
			a := vm.pop()
			res, err := vm.binaryArith(op, a, b)
			a.Release()
			b.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(res)

		case bytecode.OpNeg:
			a := vm.pop()
			res, err := value.Negate(a)
			a.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(res)

		case bytecode.OpAddI32Fast, bytecode.OpSubI32Fast, bytecode.OpMulI32Fast:
			b := vm.pop()
			a := vm.pop()
			vm.push(fastI32(op, a.AsI32(), b.AsI32()))

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			eq := value.Equal(a, b)
			a.Release()
			b.Release()
			vm.push(value.Bool(eq))

		case bytecode.OpNotEqual:
			b := vm.pop()
			a := vm.pop()
			eq := value.Equal(a, b)
			a.Release()
			b.Release()
			vm.push(value.Bool(!eq))

		case bytecode.OpLess, bytecode.OpLessEqual, bytecode.OpGreater, bytecode.OpGreaterEqual:
			b := vm.pop()
			a := vm.pop()
			c, cerr := value.Compare(a, b)
			a.Release()
			b.Release()
			if cerr != nil {
				return vm.throwOrPropagate(cerr.Error())
			}
			vm.push(value.Bool(compareOk(op, c)))

		case bytecode.OpLessI32Fast:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(a.AsI32() < b.AsI32()))

		case bytecode.OpGreaterI32Fast:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(a.AsI32() > b.AsI32()))

		case bytecode.OpNot:
			a := vm.pop()
			vm.push(value.Bool(!a.Truthy()))
			a.Release()

		case bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor, bytecode.OpShl, bytecode.OpShr:
			b := vm.pop()
			a := vm.pop()
			res, err := vm.binaryBitwise(op, a, b)
			a.Release()
			b.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(res)

		case bytecode.OpBitNot:
			a := vm.pop()
			res, err := value.BitNot(a)
			a.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(res)

		case bytecode.OpJump:
			off := vm.readU16(frame)
			frame.IP += int(off)

		case bytecode.OpJumpIfFalse:
			off := vm.readU16(frame)
			if !vm.peek(0).Truthy() {
				frame.IP += int(off)
			}

		case bytecode.OpJumpIfFalsePop:
			off := vm.readU16(frame)
			v := vm.pop()
			truthy := v.Truthy()
			v.Release()
			if !truthy {
				frame.IP += int(off)
			}

		case bytecode.OpJumpIfTrue:
			off := vm.readU16(frame)
			if vm.peek(0).Truthy() {
				frame.IP += int(off)
			}

		case bytecode.OpLoop:
			off := vm.readU16(frame)
			frame.IP -= int(off)

		case bytecode.OpSwitch:
			cnt := int(vm.readU16(frame))
			subject := vm.pop()
			matched := false
			for i := 0; i < cnt; i++ {
				caseIdx := vm.readU16(frame)
				caseOff := vm.readU16(frame)
				if !matched {
					caseVal := vm.constantValue(chunk, caseIdx)
					if value.Equal(subject, caseVal) {
						frame.IP += int(caseOff)
						matched = true
					}
					caseVal.Release()
				}
			}
			subject.Release()

		case bytecode.OpForInInit:
			vm.push(value.I64(0)) // iteration cursor over the container already on the stack

		case bytecode.OpForInNext:
			off := vm.readU16(frame)
			cursor := vm.pop()
			container := vm.peek(0)
			i := cursor.AsI64()
			cursor.Release()
			if container.Kind() == value.KindArray {
				arr := container.AsArray()
				if i >= int64(arr.Len()) {
					frame.IP += int(off)
					continue
				}
				vm.push(value.I64(i + 1))
				elem, _ := arr.Get(int(i))
				vm.push(elem.Retain())
			} else {
				frame.IP += int(off)
			}

		case bytecode.OpPop:
			v := vm.pop()
			v.Release()

		case bytecode.OpPopN:
			n := int(chunk.Code[frame.IP])
			frame.IP++
			for i := 0; i < n; i++ {
				vm.pop().Release()
			}

		case bytecode.OpDup:
			vm.push(vm.peek(0).Retain())

		case bytecode.OpDup2:
			a := vm.peek(1)
			b := vm.peek(0)
			vm.push(a.Retain())
			vm.push(b.Retain())

		case bytecode.OpSwap:
			a := vm.pop()
			b := vm.pop()
			vm.push(a)
			vm.push(b)

		case bytecode.OpBury3:
			top := vm.pop()
			a := vm.pop()
			b := vm.pop()
			vm.push(top)
			vm.push(b)
			vm.push(a)

		case bytecode.OpRot3:
			a := vm.pop()
			b := vm.pop()
			c := vm.pop()
			vm.push(a)
			vm.push(c)
			vm.push(b)

		case bytecode.OpCall:
			argc := int(chunk.Code[frame.IP])
			frame.IP++
			if err := vm.doCall(argc, false); err != nil {
				return vm.throwOrPropagate(err.Error())
			}

		case bytecode.OpTailCall:
			argc := int(chunk.Code[frame.IP])
			frame.IP++
			if err := vm.doCall(argc, true); err != nil {
				return vm.throwOrPropagate(err.Error())
			}

		case bytecode.OpCallMethod:
			idx := vm.readU16(frame)
			argc := int(chunk.Code[frame.IP])
			frame.IP++
			name := chunk.Constants[idx].S
			if err := vm.doCallMethod(name, argc); err != nil {
				return vm.throwOrPropagate(err.Error())
			}

		case bytecode.OpCallBuiltin:
			id := vm.readU16(frame)
			argc := int(chunk.Code[frame.IP])
			frame.IP++
			args := make([]value.Value, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = vm.pop()
			}
			// Call takes ownership of args: each builtin releases (or, like
			// push, transfers) every argument it receives.
			res, err := vm.shared.builtins.Call(int(id), args)
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(res)

		case bytecode.OpReturn:
			ret := value.Null
			if vm.sp > frame.BaseSlot {
				ret = vm.pop()
			}
			if err := vm.popFrame(frame); err != nil {
				return value.Null, err
			}
			if len(vm.frames) <= baseFrameDepth {
				return ret, nil
			}
			vm.push(ret)

		case bytecode.OpApply:
			frame.IP++ // argc operand is unused: the spread array's length is authoritative
			arr := vm.pop()
			elems := arr.AsArray()
			for i := 0; i < elems.Len(); i++ {
				elem, _ := elems.Get(i)
				vm.push(elem.Retain())
			}
			arr.Release()
			if err := vm.doCall(elems.Len(), false); err != nil {
				return vm.throwOrPropagate(err.Error())
			}

		case bytecode.OpSuper:
			if err := vm.doSuper(); err != nil {
				return vm.throwOrPropagate(err.Error())
			}

		case bytecode.OpInvoke:
			idx := vm.readU16(frame)
			argc := int(chunk.Code[frame.IP])
			frame.IP++
			name := chunk.Constants[idx].S
			if err := vm.doCallMethod(name, argc); err != nil {
				return vm.throwOrPropagate(err.Error())
			}

		case bytecode.OpTry:
			catchIP := int(vm.readU16(frame))
			finallyIP := int(vm.readU16(frame))
			vm.handlers = append(vm.handlers, tryHandler{
				catchIP:   frame.IP + catchIP - 4,
				finallyIP: frame.IP + finallyIP - 4,
				frameIdx:  len(vm.frames) - 1,
				stackTop:  vm.sp,
			})

		case bytecode.OpThrow:
			thrown := vm.pop()
			_, err := vm.throwValue(thrown)
			if err == errContinue {
				continue
			}
			if err != nil {
				return value.Null, err
			}

		case bytecode.OpCatch:
			// marks the entry to a catch block; the thrown value was already
			// pushed by throwValue's handler dispatch.

		case bytecode.OpEndTry:
			if len(vm.handlers) > 0 {
				vm.handlers = vm.handlers[:len(vm.handlers)-1]
			}

		case bytecode.OpDefer:
			idx := vm.readU16(frame)
			fnChunk := chunk.Constants[idx].Fn
			deferred := value.NewClosure(fnChunk, nil)
			frame.Defers = append(frame.Defers, deferred)

		case bytecode.OpSpawn:
			argc := int(chunk.Code[frame.IP])
			frame.IP++
			t, err := vm.doSpawn(argc)
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(t)

		case bytecode.OpAwait:
			t := vm.pop()
			res, err := vm.doAwait(t)
			t.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(res)

		case bytecode.OpJoin:
			t := vm.pop()
			_, err := vm.doAwait(t)
			t.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(value.Null)

		case bytecode.OpDetach:
			t := vm.pop()
			t.AsTask().Detach()
			t.Release()

		case bytecode.OpChannel:
			cap := vm.pop()
			vm.push(value.NewChannel(int(cap.AsI64())))
			cap.Release()

		case bytecode.OpSend:
			v := vm.pop()
			ch := vm.pop()
			err := ch.AsChannel().Send(v, func() bool { return false })
			ch.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(value.Null)

		case bytecode.OpRecv:
			ch := vm.pop()
			v, _, err := ch.AsChannel().Recv(func() bool { return false })
			ch.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(v)

		case bytecode.OpSelect:
			cnt := int(vm.readU16(frame))
			if err := vm.doSelect(frame, cnt); err != nil {
				return vm.throwOrPropagate(err.Error())
			}

		case bytecode.OpTypeof:
			a := vm.pop()
			vm.push(value.NewString(a.Kind().String()))
			a.Release()

		case bytecode.OpCast:
			target := chunk.Code[frame.IP]
			frame.IP++
			a := vm.pop()
			res, err := vm.castValue(a, value.Kind(target))
			a.Release()
			if err != nil {
				return vm.throwOrPropagate(err.Error())
			}
			vm.push(res)

		case bytecode.OpCheckType:
			target := chunk.Code[frame.IP]
			frame.IP++
			a := vm.peek(0)
			if a.Kind() != value.Kind(target) {
				return vm.throwOrPropagate(fmt.Sprintf("type check failed: expected %s, got %s", value.Kind(target), a.Kind()))
			}

		case bytecode.OpDefineType:
			idx := vm.readU16(frame)
			name := chunk.Constants[idx].S
			vm.shared.reg.DefineType(name, "")
			vm.defineGlobal(name, value.NewString(name))

		case bytecode.OpDefineEnum:
			idx := vm.readU16(frame)
			name := chunk.Constants[idx].S
			vm.shared.reg.DefineEnum(name, nil)
			vm.defineGlobal(name, value.NewString(name))

		case bytecode.OpPrint:
			v := vm.pop()
			fmt.Println(value.Display(v))
			v.Release()

		default:
			return vm.throwOrPropagate(fmt.Sprintf("unknown opcode: %v", op))
		}
	}
}

func (vm *VM) readU16(frame *CallFrame) uint16 {
	v := bytecode.ReadUint16(frame.Closure.Fn.Code, frame.IP)
	frame.IP += 2
	return v
}

func (vm *VM) constantValue(chunk *bytecode.Chunk, idx uint16) value.Value {
	c := chunk.Constants[idx]
	switch c.Kind {
	case bytecode.ConstInt:
		return value.I64(c.I)
	case bytecode.ConstFloat:
		return value.F64(c.F)
	case bytecode.ConstString, bytecode.ConstIdent:
		return value.NewString(c.S)
	case bytecode.ConstFunction:
		return value.NewClosure(c.Fn, nil)
	}
	return value.Null
}

func fastI32(op bytecode.Opcode, a, b int32) value.Value {
	switch op {
	case bytecode.OpAddI32Fast:
		return value.I32(a + b)
	case bytecode.OpSubI32Fast:
		return value.I32(a - b)
	default:
		return value.I32(a * b)
	}
}

func compareOk(op bytecode.Opcode, c int) bool {
	switch op {
	case bytecode.OpLess:
		return c < 0
	case bytecode.OpLessEqual:
		return c <= 0
	case bytecode.OpGreater:
		return c > 0
	default: // OpGreaterEqual
		return c >= 0
	}
}

func (vm *VM) binaryArith(op bytecode.Opcode, a, b value.Value) (value.Value, error) {
	switch op {
	case bytecode.OpAdd:
		if a.Kind() == value.KindString || b.Kind() == value.KindString {
			return value.Concat(a, b), nil
		}
		return value.Add(a, b)
	case bytecode.OpSub:
		return value.Sub(a, b)
	case bytecode.OpMul:
		return value.Mul(a, b)
	case bytecode.OpDiv:
		return value.Div(a, b)
	case bytecode.OpFloorDiv:
		return value.FloorDiv(a, b)
	default: // OpMod
		return value.Mod(a, b)
	}
}

func (vm *VM) binaryBitwise(op bytecode.Opcode, a, b value.Value) (value.Value, error) {
	switch op {
	case bytecode.OpAnd:
		return value.And(a, b)
	case bytecode.OpOr:
		return value.Or(a, b)
	case bytecode.OpXor:
		return value.Xor(a, b)
	case bytecode.OpShl:
		return value.Shl(a, b)
	default: // OpShr
		return value.Shr(a, b)
	}
}

func (vm *VM) getProperty(obj value.Value, name string) (value.Value, error) {
	if obj.Kind() != value.KindObject {
		return value.Null, fmt.Errorf("cannot get property %q of a %s value", name, obj.Kind())
	}
	v, ok := obj.AsObject().Field(name)
	if !ok {
		return value.Null, fmt.Errorf("undefined property %q on object of type %q", name, obj.AsObject().TypeName)
	}
	return v.Retain(), nil
}

func (vm *VM) getIndex(obj, idx value.Value) (value.Value, error) {
	switch obj.Kind() {
	case value.KindArray:
		arr := obj.AsArray()
		i := int(idx.AsI64())
		if i < 0 || i >= arr.Len() {
			return value.Null, fmt.Errorf("array index out of bounds: %d", i)
		}
		v, _ := arr.Get(i)
		return v.Retain(), nil
	case value.KindObject:
		name := idx.AsString().String()
		v, ok := obj.AsObject().Field(name)
		if !ok {
			return value.Null, fmt.Errorf("undefined property %q on object of type %q", name, obj.AsObject().TypeName)
		}
		return v.Retain(), nil
	case value.KindBuffer:
		buf := obj.AsBuffer()
		i := int(idx.AsI64())
		if i < 0 || i >= buf.Len() {
			return value.Null, fmt.Errorf("buffer index out of bounds: %d", i)
		}
		return value.U8(buf.Data[i]), nil
	case value.KindString:
		s := obj.AsString()
		i := int(idx.AsI64())
		runes := []rune(s.String())
		if i < 0 || i >= len(runes) {
			return value.Null, fmt.Errorf("string index out of bounds: %d", i)
		}
		return value.Rune(runes[i]), nil
	}
	return value.Null, fmt.Errorf("cannot index a %s value", obj.Kind())
}

func (vm *VM) setIndex(obj, idx, v value.Value) error {
	switch obj.Kind() {
	case value.KindArray:
		arr := obj.AsArray()
		i := int(idx.AsI64())
		if i < 0 || i >= arr.Len() {
			return fmt.Errorf("array index out of bounds: %d", i)
		}
		arr.Set(i, v)
		return nil
	case value.KindObject:
		obj.AsObject().SetField(idx.AsString().String(), v)
		return nil
	case value.KindBuffer:
		buf := obj.AsBuffer()
		i := int(idx.AsI64())
		if i < 0 || i >= buf.Len() {
			return fmt.Errorf("buffer index out of bounds: %d", i)
		}
		buf.Data[i] = v.AsU8()
		return nil
	}
	return fmt.Errorf("cannot index-assign a %s value", obj.Kind())
}

func (vm *VM) castValue(v value.Value, target value.Kind) (value.Value, error) {
	if v.Kind() == target {
		return v.Retain(), nil
	}
	if !v.Kind().IsNumeric() || !target.IsNumeric() {
		return value.Null, fmt.Errorf("cannot cast %s to %s", v.Kind(), target)
	}
	return value.CastNumeric(v, target)
}

// generateTaskID produces an identifier for a spawned task. uuid gives
// process-wide uniqueness across the scheduler's worker goroutines without
// a shared counter.
func generateTaskID() string { return uuid.New().String() }

// jitter returns a small random delay factor used by SELECT's polling
// backoff so concurrently-selecting goroutines don't lock-step spin on the
// same set of channels.
func jitter() int { return rand.Intn(4) }
