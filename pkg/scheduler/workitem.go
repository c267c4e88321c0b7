// Package scheduler implements the work-stealing task scheduler backing
// async task spawning: a fixed pool of workers, each owning a Chase-Lev
// work-stealing deque, plus a single global submission queue for external
// submissions.
package scheduler

import "sync"

// WorkItem is one unit of schedulable work: a closure to run, captured
// state for the completion callback, and a one-shot completion record for
// blocking joiners. Each VM SPAWN submits one WorkItem whose closure
// completes the spawned task's value.TaskObj itself; the VM does not keep
// the WorkItem handle. WorkItem itself stays free of any
// dependency on the value package so the scheduler can be tested and reused
// independently of the VM.
type WorkItem struct {
	Run func() (interface{}, error)

	mu        sync.Mutex
	cond      *sync.Cond
	completed bool
	result    interface{}
	err       error

	next *WorkItem // intrusive link for the global submission queue
}

// NewWorkItem wraps run in a WorkItem ready for submission.
func NewWorkItem(run func() (interface{}, error)) *WorkItem {
	wi := &WorkItem{Run: run}
	wi.cond = sync.NewCond(&wi.mu)
	return wi
}

// execute runs the item and records its outcome, waking blocked joiners.
func (w *WorkItem) execute() {
	result, err := w.Run()
	w.mu.Lock()
	w.result, w.err, w.completed = result, err, true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Wait blocks until the item completes and returns its outcome.
func (w *WorkItem) Wait() (interface{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.completed {
		w.cond.Wait()
	}
	return w.result, w.err
}

// Completed reports whether the item has finished, without blocking.
func (w *WorkItem) Completed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed
}
