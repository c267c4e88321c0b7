package vm

import (
	"fmt"
	"time"

	"github.com/smogvm/core/pkg/value"
)

// doSpawn implements SPAWN: it pops argc arguments and a closure off the
// stack, hands both to a fresh child VM running on the scheduler pool, and
// returns a task handle immediately. The spawned call completes the task's
// TaskObj itself from the worker goroutine, so AWAIT/JOIN need no separate
// bookkeeping to find it again.
func (vm *VM) doSpawn(argc int) (value.Value, error) {
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	callee := vm.pop()
	if callee.Kind() != value.KindClosure {
		callee.Release()
		for _, a := range args {
			a.Release()
		}
		return value.Null, fmt.Errorf("cannot spawn a %s value", callee.Kind())
	}
	closure := callee.AsClosure()

	task := value.NewTask(generateTaskID())
	taskObj := task.AsTask()
	child := vm.child()

	vm.shared.pool.Submit(func() (interface{}, error) {
		defer callee.Release()
		res, err := child.Call(closure, args)
		for _, a := range args {
			a.Release()
		}
		if taskObj.Detached() {
			res.Release()
		} else {
			taskObj.Complete(res, err)
		}
		return nil, err
	})

	return task, nil
}

// doAwait implements both AWAIT (result-returning) and JOIN (result-discarding,
// via the caller ignoring the value) by blocking on the task's completion.
func (vm *VM) doAwait(t value.Value) (value.Value, error) {
	if t.Kind() != value.KindTask {
		return value.Null, fmt.Errorf("cannot await a %s value", t.Kind())
	}
	result, err, ok := t.AsTask().Wait(nil)
	if !ok {
		return value.Null, fmt.Errorf("await was cancelled")
	}
	if err != nil {
		result.Release()
		return value.Null, err
	}
	return result, nil
}

// selectArm is one SELECT branch: a channel operand, and for send arms the
// value to send, plus the jump offset to take if this arm is chosen.
type selectArm struct {
	op     byte // 0 = recv, 1 = send
	offset int
	ch     value.Value
	sendV  value.Value // only meaningful when op == 1
}

// selectScan makes one non-blocking pass over every arm, in source order, so
// SELECT has no bias toward whichever arm happens to be last-checked across
// repeated polls.
func selectScan(arms []selectArm) (idx int, result value.Value, found bool) {
	for i := range arms {
		ch := arms[i].ch.AsChannel()
		if arms[i].op == 1 {
			if ch.TrySend(arms[i].sendV) {
				return i, value.Value{}, true
			}
			continue
		}
		v, ok, closed := ch.TryRecv()
		if ok || closed {
			return i, v, true
		}
	}
	return 0, value.Value{}, false
}

// doSelect implements SELECT: cnt (op8, offset16) pairs follow the 2-byte
// arm count already consumed by the caller, and the channel (plus, for send
// arms, the value to send) for each arm was pushed onto the stack by the
// compiler in arm order ahead of the SELECT instruction. Ready arms are
// found by polling every arm non-blockingly; when none are ready, doSelect
// backs off a few jittered milliseconds before polling again rather than
// spinning a CPU.
func (vm *VM) doSelect(frame *CallFrame, cnt int) error {
	chunk := frame.Closure.Fn
	arms := make([]selectArm, cnt)
	for i := 0; i < cnt; i++ {
		arms[i].op = chunk.Code[frame.IP]
		frame.IP++
		arms[i].offset = int(vm.readU16(frame))
	}
	for i := cnt - 1; i >= 0; i-- {
		if arms[i].op == 1 {
			arms[i].sendV = vm.pop()
		}
		arms[i].ch = vm.pop()
	}

	for {
		idx, result, found := selectScan(arms)
		if found {
			for j := range arms {
				arms[j].ch.Release()
				if arms[j].op == 1 && j != idx {
					arms[j].sendV.Release()
				}
			}
			frame.IP += arms[idx].offset
			if arms[idx].op == 0 {
				vm.push(result)
			}
			return nil
		}
		time.Sleep(time.Duration(jitter()+1) * time.Millisecond)
	}
}
