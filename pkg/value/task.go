package value

import "sync"

// TaskObj is a one-shot rendezvous: an identifier plus a completion flag,
// a stored result, and a mutex/condvar pair blocking joiners wake on.
// Constructed by the scheduler when a task is spawned; the VM's AWAIT/JOIN
// opcodes block on Wait.
type TaskObj struct {
	rc refHeader

	ID string

	mu        sync.Mutex
	cond      *sync.Cond
	completed bool
	result    Value
	err       error // non-nil if the task's closure threw or the scheduler failed it
	cancelled bool
	detached  bool
}

func (t *TaskObj) refHeader() *refHeader { return &t.rc }

func (t *TaskObj) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		t.result.Release()
	}
}

// NewTask constructs a pending task handle with the given identifier.
func NewTask(id string) Value {
	t := &TaskObj{rc: newRefHeader(), ID: id}
	t.cond = sync.NewCond(&t.mu)
	return fromHeap(KindTask, t)
}

// AsTask returns the TaskObj behind a KindTask Value.
func (v Value) AsTask() *TaskObj { return v.ref.(*TaskObj) }

// Complete stores the task's result (taking ownership of one strong
// reference) and wakes any blocked joiners. Completing an already-completed
// task is a programming error in the scheduler and is ignored defensively.
func (t *TaskObj) Complete(result Value, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		result.Release()
		return
	}
	t.result = result
	t.err = err
	t.completed = true
	t.cond.Broadcast()
}

// Wait blocks until the task completes or cancel reports true, whichever
// comes first, returning the stored result (retained for the caller) and
// any error the task finished with.
func (t *TaskObj) Wait(cancelled func() bool) (Value, error, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.completed {
		if cancelled != nil && cancelled() {
			return Null, nil, false
		}
		t.cond.Wait()
	}
	return t.result.Retain(), t.err, true
}

// Completed reports whether the task has finished without blocking.
func (t *TaskObj) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Detach marks the handle as no longer owned by any joiner; the scheduler
// may discard the result once complete instead of retaining it for a Wait
// that will never come.
func (t *TaskObj) Detach() {
	t.mu.Lock()
	t.detached = true
	t.mu.Unlock()
}

// Detached reports whether Detach has been called.
func (t *TaskObj) Detached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detached
}

// Cancel sets the cooperative cancellation flag checked at blocking
// primitives (spec.md §5). There is no preemption: a task only observes
// cancellation the next time it calls a blocking primitive.
func (t *TaskObj) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Cancelled reports whether Cancel has been called.
func (t *TaskObj) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
