package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDequePushPopLIFO(t *testing.T) {
	d := NewDeque()
	items := make([]*WorkItem, 5)
	for i := range items {
		items[i] = NewWorkItem(func() (interface{}, error) { return nil, nil })
		require.True(t, d.Push(items[i]))
	}
	for i := len(items) - 1; i >= 0; i-- {
		got, ok := d.Pop()
		require.True(t, ok)
		assert.Same(t, items[i], got)
	}
	_, ok := d.Pop()
	assert.False(t, ok)
}

func TestDequeStealFIFO(t *testing.T) {
	d := NewDeque()
	a := NewWorkItem(func() (interface{}, error) { return 1, nil })
	b := NewWorkItem(func() (interface{}, error) { return 2, nil })
	require.True(t, d.Push(a))
	require.True(t, d.Push(b))

	got, ok := d.Steal()
	require.True(t, ok)
	assert.Same(t, a, got, "steal takes from the top (oldest first)")

	got, ok = d.Pop()
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestDequeSingleItemRaceFavorsOneWinner(t *testing.T) {
	// With exactly one item, a concurrent Pop and Steal must not both
	// succeed: the CAS on top arbitrates a single winner.
	for trial := 0; trial < 200; trial++ {
		d := NewDeque()
		item := NewWorkItem(func() (interface{}, error) { return nil, nil })
		d.Push(item)

		var wg sync.WaitGroup
		var poppedOK, stolenOK bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, poppedOK = d.Pop()
		}()
		go func() {
			defer wg.Done()
			_, stolenOK = d.Steal()
		}()
		wg.Wait()
		assert.NotEqual(t, poppedOK, stolenOK, "exactly one of pop/steal should win the last item")
	}
}

func TestDequeGrowsPastInitialCapacity(t *testing.T) {
	d := NewDeque()
	const n = defaultDequeCapacity * 3
	for i := 0; i < n; i++ {
		require.True(t, d.Push(NewWorkItem(func() (interface{}, error) { return nil, nil })))
	}
	count := 0
	for {
		if _, ok := d.Pop(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, n, count)
}

func TestDequeConcurrentStealersNeverDuplicateOrLoseItems(t *testing.T) {
	d := NewDeque()
	const n = 2000
	for i := 0; i < n; i++ {
		d.Push(NewWorkItem(func() (interface{}, error) { return nil, nil }))
	}

	const thieves = 8
	var mu sync.Mutex
	seen := make(map[*WorkItem]bool)
	var wg sync.WaitGroup
	wg.Add(thieves)
	for i := 0; i < thieves; i++ {
		go func() {
			defer wg.Done()
			for {
				item, ok := d.Steal()
				if !ok {
					if d.Len() <= 0 {
						return
					}
					continue
				}
				mu.Lock()
				require.False(t, seen[item], "the same item must never be stolen twice")
				seen[item] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}
