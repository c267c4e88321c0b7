package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalQueueFIFO(t *testing.T) {
	q := newGlobalQueue(0)
	a := NewWorkItem(func() (interface{}, error) { return "a", nil })
	b := NewWorkItem(func() (interface{}, error) { return "b", nil })
	require.True(t, q.push(a))
	require.True(t, q.push(b))

	got, ok := q.pop()
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = q.pop()
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = q.pop()
	assert.False(t, ok)
}

func TestGlobalQueueCloseWakesWaiters(t *testing.T) {
	q := newGlobalQueue(0)
	timeout := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, ok := q.popWaitTimeout(timeout)
		assert.False(t, ok)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("popWaitTimeout did not wake on close")
	}
}

func TestGlobalQueueBoundedCapacityBlocksPusher(t *testing.T) {
	q := newGlobalQueue(1)
	require.True(t, q.push(NewWorkItem(func() (interface{}, error) { return nil, nil })))

	pushed := make(chan bool, 1)
	go func() {
		pushed <- q.push(NewWorkItem(func() (interface{}, error) { return nil, nil }))
	}()

	select {
	case <-pushed:
		t.Fatal("push should have blocked at capacity")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := q.pop()
	require.True(t, ok)

	select {
	case ok := <-pushed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after capacity freed")
	}
}
