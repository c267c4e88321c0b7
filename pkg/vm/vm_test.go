package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smogvm/core/pkg/bytecode"
	"github.com/smogvm/core/pkg/scheduler"
	"github.com/smogvm/core/pkg/value"
)

func newTestVM(t *testing.T) *VM {
	t.Helper()
	pool := scheduler.NewPool(scheduler.Config{WorkerCount: 2})
	pool.Start()
	v := New(Config{Pool: pool})
	t.Cleanup(v.Shutdown)
	return v
}

// buildFib hand-assembles:
//
//	fn fib(n) { if (n < 2) return n; return fib(n-1) + fib(n-2); }
//	return fib(10);
//
// exercising recursive CALL, the i32 comparison/arithmetic fast paths, and
// GET_GLOBAL-based self-reference (spec.md seed scenario 1).
func buildFib(t *testing.T) *bytecode.Chunk {
	t.Helper()
	fib := bytecode.NewChunk("fib")
	fib.Arity = 1

	fib.WriteOpcode(bytecode.OpGetLocal, 1)
	fib.WriteShort(0, 1)
	fib.WriteOpcode(bytecode.OpConstByte, 1)
	fib.WriteByte(2, 1)
	fib.WriteOpcode(bytecode.OpLessI32Fast, 1)
	skipReturn := fib.WriteJump(bytecode.OpJumpIfFalsePop, 1)
	fib.WriteOpcode(bytecode.OpGetLocal, 1)
	fib.WriteShort(0, 1)
	fib.WriteOpcode(bytecode.OpReturn, 1)
	require.NoError(t, fib.PatchJump(skipReturn))

	fibName := fib.AddIdent("fib")

	fib.WriteOpcode(bytecode.OpGetGlobal, 1)
	fib.WriteShort(uint16(fibName), 1)
	fib.WriteOpcode(bytecode.OpGetLocal, 1)
	fib.WriteShort(0, 1)
	fib.WriteOpcode(bytecode.OpConstByte, 1)
	fib.WriteByte(1, 1)
	fib.WriteOpcode(bytecode.OpSubI32Fast, 1)
	fib.WriteOpcode(bytecode.OpCall, 1)
	fib.WriteByte(1, 1)

	fib.WriteOpcode(bytecode.OpGetGlobal, 1)
	fib.WriteShort(uint16(fibName), 1)
	fib.WriteOpcode(bytecode.OpGetLocal, 1)
	fib.WriteShort(0, 1)
	fib.WriteOpcode(bytecode.OpConstByte, 1)
	fib.WriteByte(2, 1)
	fib.WriteOpcode(bytecode.OpSubI32Fast, 1)
	fib.WriteOpcode(bytecode.OpCall, 1)
	fib.WriteByte(1, 1)

	fib.WriteOpcode(bytecode.OpAdd, 1)
	fib.WriteOpcode(bytecode.OpReturn, 1)

	top := bytecode.NewChunk("main")
	topFibName := top.AddIdent("fib")
	fnIdx := top.AddFunction(fib)
	top.WriteOpcode(bytecode.OpClosure, 1)
	top.WriteShort(uint16(fnIdx), 1)
	top.WriteByte(0, 1)
	top.WriteOpcode(bytecode.OpDefineGlobal, 1)
	top.WriteShort(uint16(topFibName), 1)

	top.WriteOpcode(bytecode.OpGetGlobal, 1)
	top.WriteShort(uint16(topFibName), 1)
	top.WriteOpcode(bytecode.OpConstByte, 1)
	top.WriteByte(10, 1)
	top.WriteOpcode(bytecode.OpCall, 1)
	top.WriteByte(1, 1)
	top.WriteOpcode(bytecode.OpReturn, 1)
	return top
}

func TestFibonacciRecursion(t *testing.T) {
	v := newTestVM(t)
	result, err := v.Run(buildFib(t))
	require.NoError(t, err)
	require.Equal(t, value.KindI32, result.Kind())
	require.EqualValues(t, 55, result.AsI32())
}

// buildMake hand-assembles:
//
//	fn make() { let x = 0; return fn() { x = x + 1; return x; }; }
//
// exercising upvalue capture of a local and write-through on a closed-over
// variable shared across repeated calls (spec.md seed scenario 2).
func buildMake(t *testing.T) *bytecode.Chunk {
	t.Helper()
	inner := bytecode.NewChunk("make$closure")
	inner.Arity = 0
	inner.WriteOpcode(bytecode.OpGetUpvalue, 1)
	inner.WriteShort(0, 1)
	inner.WriteOpcode(bytecode.OpConstByte, 1)
	inner.WriteByte(1, 1)
	inner.WriteOpcode(bytecode.OpAddI32Fast, 1)
	inner.WriteOpcode(bytecode.OpSetUpvalue, 1)
	inner.WriteShort(0, 1)
	inner.WriteOpcode(bytecode.OpReturn, 1)

	outer := bytecode.NewChunk("make")
	outer.Arity = 0
	outer.WriteOpcode(bytecode.OpConstByte, 1) // let x = 0 (occupies local slot 0)
	outer.WriteByte(0, 1)
	innerIdx := outer.AddFunction(inner)
	outer.WriteOpcode(bytecode.OpClosure, 1)
	outer.WriteShort(uint16(innerIdx), 1)
	outer.WriteByte(1, 1) // one upvalue
	outer.WriteByte(1, 1) // is_local = true
	outer.WriteByte(0, 1) // index = local slot 0
	outer.WriteOpcode(bytecode.OpReturn, 1)
	return outer
}

func TestClosureCaptureSharesUpvalueAcrossCalls(t *testing.T) {
	v := newTestVM(t)
	closure, err := v.Run(buildMake(t))
	require.NoError(t, err)
	require.Equal(t, value.KindClosure, closure.Kind())

	for i, want := range []int32{1, 2, 3} {
		result, err := v.Call(closure.AsClosure(), nil)
		require.NoErrorf(t, err, "call %d", i)
		require.EqualValues(t, want, result.AsI32())
	}
}

// TestTryFinallyDeferOrder exercises exception unwinding in combination with
// a handler clearing the active try before the enclosing frame returns, and
// DEFER running in LIFO order after the frame body completes normally
// (spec.md seed scenario 3, simplified to avoid needing a parser's full
// try/catch/finally desugaring: finally's statements are emitted inline
// after END_TRY since this VM's TRY only carries a catch offset and a
// finally offset for the disassembler, not a second jump).
func TestTryFinallyDeferOrder(t *testing.T) {
	fn := bytecode.NewChunk("f")
	fn.Arity = 0

	order := fn.AddIdent("order")
	fn.WriteOpcode(bytecode.OpArray, 1)
	fn.WriteShort(0, 1)
	fn.WriteOpcode(bytecode.OpDefineGlobal, 1)
	fn.WriteShort(uint16(order), 1)

	appendTag := func(tag string) {
		tagIdx := fn.AddString(tag)
		fn.WriteOpcode(bytecode.OpGetGlobal, 1)
		fn.WriteShort(uint16(order), 1)
		fn.WriteOpcode(bytecode.OpConst, 1)
		fn.WriteShort(uint16(tagIdx), 1)
		fn.WriteOpcode(bytecode.OpCallBuiltin, 1)
		fn.WriteShort(uint16(BuiltinPush), 1)
		fn.WriteByte(2, 1)
		fn.WriteOpcode(bytecode.OpPop, 1)
	}

	// defer append("d1"); defer append("d2");  (registered outer-first, so LIFO
	// runs d2 then d1)
	d1 := bytecode.NewChunk("f$defer1")
	d1.Arity = 0
	d1Body := func() {
		tagIdx := d1.AddString("d1")
		d1.WriteOpcode(bytecode.OpGetGlobal, 1)
		d1.WriteShort(uint16(d1.AddIdent("order")), 1)
		d1.WriteOpcode(bytecode.OpConst, 1)
		d1.WriteShort(uint16(tagIdx), 1)
		d1.WriteOpcode(bytecode.OpCallBuiltin, 1)
		d1.WriteShort(uint16(BuiltinPush), 1)
		d1.WriteByte(2, 1)
		d1.WriteOpcode(bytecode.OpPop, 1)
		d1.WriteOpcode(bytecode.OpReturn, 1)
	}
	d1Body()
	d1Idx := fn.AddFunction(d1)

	d2 := bytecode.NewChunk("f$defer2")
	d2.Arity = 0
	func() {
		tagIdx := d2.AddString("d2")
		d2.WriteOpcode(bytecode.OpGetGlobal, 1)
		d2.WriteShort(uint16(d2.AddIdent("order")), 1)
		d2.WriteOpcode(bytecode.OpConst, 1)
		d2.WriteShort(uint16(tagIdx), 1)
		d2.WriteOpcode(bytecode.OpCallBuiltin, 1)
		d2.WriteShort(uint16(BuiltinPush), 1)
		d2.WriteByte(2, 1)
		d2.WriteOpcode(bytecode.OpPop, 1)
		d2.WriteOpcode(bytecode.OpReturn, 1)
	}()
	d2Idx := fn.AddFunction(d2)

	fn.WriteOpcode(bytecode.OpDefer, 1)
	fn.WriteShort(uint16(d1Idx), 1)
	fn.WriteOpcode(bytecode.OpDefer, 1)
	fn.WriteShort(uint16(d2Idx), 1)

	// try { throw "x"; } catch (e) { append(e); } finally { append("fin"); }
	tryInstr := fn.WriteOpcode(bytecode.OpTry, 1)
	catchPatch := fn.WriteShort(0xFFFF, 1)
	finallyPatch := fn.WriteShort(0xFFFF, 1)

	xIdx := fn.AddString("x")
	fn.WriteOpcode(bytecode.OpConst, 1)
	fn.WriteShort(uint16(xIdx), 1)
	fn.WriteOpcode(bytecode.OpThrow, 1)

	catchSite := len(fn.Code)
	fn.WriteOpcode(bytecode.OpCatch, 1)
	// the thrown value is on the stack; append it (coerced to its display
	// string) then discard, and end the handler.
	fn.WriteOpcode(bytecode.OpCallBuiltin, 1)
	fn.WriteShort(uint16(BuiltinStr), 1)
	fn.WriteByte(1, 1)
	fn.WriteOpcode(bytecode.OpGetGlobal, 1)
	fn.WriteShort(uint16(order), 1)
	fn.WriteOpcode(bytecode.OpSwap, 1)
	fn.WriteOpcode(bytecode.OpCallBuiltin, 1)
	fn.WriteShort(uint16(BuiltinPush), 1)
	fn.WriteByte(2, 1)
	fn.WriteOpcode(bytecode.OpPop, 1)
	fn.WriteOpcode(bytecode.OpEndTry, 1)

	finallySite := len(fn.Code)
	require.NoError(t, patchTryOffset(fn, catchPatch, tryInstr, catchSite))
	require.NoError(t, patchTryOffset(fn, finallyPatch, tryInstr, finallySite))

	appendTag("fin")
	fn.WriteOpcode(bytecode.OpReturn, 1)

	v2 := newTestVM(t)
	_, err := v2.Run(fn)
	require.NoError(t, err)

	got, ok := v2.getGlobal("order")
	require.True(t, ok)
	arr := got.AsArray()
	var tags []string
	for i := 0; i < arr.Len(); i++ {
		e, _ := arr.Get(i)
		tags = append(tags, value.Display(e))
	}
	require.Equal(t, []string{"x", "fin", "d2", "d1"}, tags)
}

// TestSpawnChannelFIFO hand-assembles:
//
//	let ch = channel(10);
//	spawn(fn() { ch.send(1); ch.send(2); ch.send(3); });
//	let results = [];
//	results.push(ch.recv()); results.push(ch.recv()); results.push(ch.recv());
//
// exercising SPAWN handing a closure to the worker pool, and RECV preserving
// the single producer's send order (spec.md seed scenario 4).
func TestSpawnChannelFIFO(t *testing.T) {
	v := newTestVM(t)

	producer := bytecode.NewChunk("producer")
	producer.Arity = 0
	chName := producer.AddIdent("ch")
	for _, n := range []byte{1, 2, 3} {
		producer.WriteOpcode(bytecode.OpGetGlobal, 1)
		producer.WriteShort(uint16(chName), 1)
		producer.WriteOpcode(bytecode.OpConstByte, 1)
		producer.WriteByte(n, 1)
		producer.WriteOpcode(bytecode.OpSend, 1)
		producer.WriteOpcode(bytecode.OpPop, 1) // SEND pushes null; discard it
	}
	producer.WriteOpcode(bytecode.OpReturn, 1)

	main := bytecode.NewChunk("main")
	resultsName := main.AddIdent("results")
	taskName := main.AddIdent("t")
	mainChName := main.AddIdent("ch")

	main.WriteOpcode(bytecode.OpConstByte, 1)
	main.WriteByte(10, 1)
	main.WriteOpcode(bytecode.OpChannel, 1)
	main.WriteOpcode(bytecode.OpDefineGlobal, 1)
	main.WriteShort(uint16(mainChName), 1)

	producerIdx := main.AddFunction(producer)
	main.WriteOpcode(bytecode.OpClosure, 1)
	main.WriteShort(uint16(producerIdx), 1)
	main.WriteByte(0, 1)
	main.WriteOpcode(bytecode.OpSpawn, 1)
	main.WriteByte(0, 1)
	main.WriteOpcode(bytecode.OpDefineGlobal, 1)
	main.WriteShort(uint16(taskName), 1)

	main.WriteOpcode(bytecode.OpArray, 1)
	main.WriteShort(0, 1)
	main.WriteOpcode(bytecode.OpDefineGlobal, 1)
	main.WriteShort(uint16(resultsName), 1)

	for i := 0; i < 3; i++ {
		main.WriteOpcode(bytecode.OpGetGlobal, 1)
		main.WriteShort(uint16(resultsName), 1)
		main.WriteOpcode(bytecode.OpGetGlobal, 1)
		main.WriteShort(uint16(mainChName), 1)
		main.WriteOpcode(bytecode.OpRecv, 1)
		main.WriteOpcode(bytecode.OpCallBuiltin, 1)
		main.WriteShort(uint16(BuiltinPush), 1)
		main.WriteByte(2, 1)
		main.WriteOpcode(bytecode.OpPop, 1)
	}

	main.WriteOpcode(bytecode.OpGetGlobal, 1)
	main.WriteShort(uint16(taskName), 1)
	main.WriteOpcode(bytecode.OpAwait, 1)
	main.WriteOpcode(bytecode.OpPop, 1)

	main.WriteOpcode(bytecode.OpGetGlobal, 1)
	main.WriteShort(uint16(resultsName), 1)
	main.WriteOpcode(bytecode.OpReturn, 1)

	result, err := v.Run(main)
	require.NoError(t, err)
	arr := result.AsArray()
	require.Equal(t, 3, arr.Len())
	for i, want := range []int32{1, 2, 3} {
		e, _ := arr.Get(i)
		require.EqualValuesf(t, want, e.AsI32(), "element %d", i)
	}
}

// patchTryOffset overwrites a TRY instruction's catch16/finally16 operand
// (at patchOffset) with targetSite's distance from tryOpcodeOffset, matching
// how the dispatch loop resolves OpTry's operands: it adds the raw operand
// to the IP just past both 16-bit fields (tryOpcodeOffset+5) and subtracts 4,
// landing back at tryOpcodeOffset+1 plus the operand.
func patchTryOffset(c *bytecode.Chunk, patchOffset, tryOpcodeOffset, targetSite int) error {
	rel := targetSite - (tryOpcodeOffset + 1)
	if rel < 0 || rel > 0xFFFF {
		return errOffsetRange
	}
	c.Code[patchOffset] = byte(rel >> 8)
	c.Code[patchOffset+1] = byte(rel)
	return nil
}

var errOffsetRange = &offsetRangeError{}

type offsetRangeError struct{}

func (*offsetRangeError) Error() string { return "vm: patch offset out of 16-bit range" }
