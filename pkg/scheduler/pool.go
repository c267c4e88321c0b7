package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/shirou/gopsutil/cpu"
	"golang.org/x/sync/errgroup"
)

// defaultWorkerMultiplier is the fallback worker-count policy when the
// caller does not pin a specific count: 2x the detected logical CPU count,
// matching spec.md §4.5's suggested default and absorbing some blocking
// time spent inside FFI calls or channel waits without starving the pool.
const defaultWorkerMultiplier = 2

// Pool owns a fixed set of workers, each with its own Chase-Lev deque, and
// the single global submission queue. Pool.Submit always targets the
// global queue, since it has no way to know which goroutine called it;
// SubmitLocal pushes onto a named worker's deque. The VM's SPAWN handler
// calls Submit even when it runs on a worker goroutine, so every spawned
// task enters through the global queue.
type Pool struct {
	workers []*worker
	queue   *globalQueue

	group    *errgroup.Group
	cancel   context.CancelFunc
	stopping int32 // atomic
	started  int32 // atomic

	stealAttempts int
}

// Config tunes pool construction; a zero Config uses the package defaults.
type Config struct {
	WorkerCount   int // 0 selects 2x logical CPU count
	QueueCapacity int // 0 means unbounded
	StealAttempts int // 0 selects defaultStealAttempts
}

// DefaultWorkerCount asks gopsutil for the logical CPU count and doubles
// it, falling back to 4 if detection fails (e.g. inside a restricted
// container without /proc access).
func DefaultWorkerCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 4
	}
	return n * defaultWorkerMultiplier
}

// NewPool constructs and starts a worker pool per cfg.
func NewPool(cfg Config) *Pool {
	count := cfg.WorkerCount
	if count <= 0 {
		count = DefaultWorkerCount()
	}
	attempts := cfg.StealAttempts
	if attempts <= 0 {
		attempts = defaultStealAttempts
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, _ := errgroup.WithContext(ctx)

	p := &Pool{
		queue:         newGlobalQueue(cfg.QueueCapacity),
		group:         group,
		cancel:        cancel,
		stealAttempts: attempts,
	}
	p.workers = make([]*worker, count)
	for i := range p.workers {
		p.workers[i] = newWorker(i, p)
	}
	return p
}

// Start launches every worker goroutine. Safe to call once; subsequent
// calls are no-ops.
func (p *Pool) Start() {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return
	}
	for _, w := range p.workers {
		w := w
		p.group.Go(func() error {
			w.run()
			return nil
		})
	}
}

// Submit enqueues run on the global queue and returns a WorkItem handle the
// caller can Wait on. The VM's SPAWN handler uses it for every spawn,
// whether or not the spawning code runs on a worker goroutine.
func (p *Pool) Submit(run func() (interface{}, error)) *WorkItem {
	item := NewWorkItem(run)
	p.queue.push(item)
	return item
}

// SubmitLocal pushes run onto the deque owned by worker workerID, so the
// new task is LIFO-local to that worker rather than round-tripping the
// global queue. The VM does not call it. If workerID is out of range or
// the deque has hit its capacity cap, it falls back to the global queue.
func (p *Pool) SubmitLocal(workerID int, run func() (interface{}, error)) *WorkItem {
	item := NewWorkItem(run)
	if workerID >= 0 && workerID < len(p.workers) && p.workers[workerID].deque.Push(item) {
		return item
	}
	p.queue.push(item)
	return item
}

// Shutdown signals every worker to stop once its deque and the global
// queue drain, then blocks until all worker goroutines have returned.
func (p *Pool) Shutdown() {
	atomic.StoreInt32(&p.stopping, 1)
	p.queue.close()
	_ = p.group.Wait()
	p.cancel()
}

// WorkerCount returns the number of workers in the pool.
func (p *Pool) WorkerCount() int { return len(p.workers) }

// PendingGlobal returns the current length of the global submission queue,
// useful for diagnostics.
func (p *Pool) PendingGlobal() int { return p.queue.len() }
