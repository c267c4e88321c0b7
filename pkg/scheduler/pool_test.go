package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecutesAllSubmittedWork(t *testing.T) {
	pool := NewPool(Config{WorkerCount: 4})
	pool.Start()
	defer pool.Shutdown()

	const n = 10000
	var completed int64
	items := make([]*WorkItem, n)
	for i := 0; i < n; i++ {
		items[i] = pool.Submit(func() (interface{}, error) {
			atomic.AddInt64(&completed, 1)
			return nil, nil
		})
	}
	for _, item := range items {
		_, err := item.Wait()
		require.NoError(t, err)
	}
	assert.Equal(t, n, int(atomic.LoadInt64(&completed)))
}

func TestPoolSubmitLocalStaysOnOwningDeque(t *testing.T) {
	pool := NewPool(Config{WorkerCount: 2})
	pool.Start()
	defer pool.Shutdown()

	item := pool.SubmitLocal(0, func() (interface{}, error) { return 42, nil })
	result, err := item.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestPoolShutdownDrainsBeforeExit(t *testing.T) {
	pool := NewPool(Config{WorkerCount: 2})
	pool.Start()

	const n = 500
	items := make([]*WorkItem, n)
	for i := 0; i < n; i++ {
		items[i] = pool.Submit(func() (interface{}, error) {
			time.Sleep(time.Millisecond)
			return nil, nil
		})
	}
	pool.Shutdown()

	for _, item := range items {
		assert.True(t, item.Completed())
	}
}

func TestDefaultWorkerCountIsPositive(t *testing.T) {
	assert.Greater(t, DefaultWorkerCount(), 0)
}
