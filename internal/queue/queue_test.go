package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue_OrdersByPriority(t *testing.T) {
	pq := NewPriorityQueue[string]()
	pq.Enqueue("low", 10)
	pq.Enqueue("high", 1)
	pq.Enqueue("mid", 5)

	v, ok := pq.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "high", v)

	v, ok = pq.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "mid", v)

	v, ok = pq.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "low", v)

	_, ok = pq.Dequeue()
	assert.False(t, ok)
}

func TestPriorityQueue_StableForEqualPriority(t *testing.T) {
	pq := NewPriorityQueue[string]()
	pq.Enqueue("b1", 2)
	pq.Enqueue("a1", 1)
	pq.Enqueue("b2", 2)
	pq.Enqueue("a2", 1)
	pq.Enqueue("b3", 2)

	assert.Equal(t, []string{"a1", "a2", "b1", "b2", "b3"}, pq.DequeueAll())
}

func TestPriorityQueue_LargeCursorValues(t *testing.T) {
	pq := NewPriorityQueue[int64]()
	pq.Enqueue(3, 1<<40+3)
	pq.Enqueue(1, 1<<40+1)
	pq.Enqueue(2, 1<<40+2)

	assert.Equal(t, []int64{1, 2, 3}, pq.DequeueAll())
	assert.Equal(t, 0, pq.Len())
}

func TestPriorityQueue_ConcurrentEnqueue(t *testing.T) {
	pq := NewPriorityQueue[int]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			pq.Enqueue(v, int64(v))
		}(i)
	}
	wg.Wait()

	all := pq.DequeueAll()
	assert.Len(t, all, 50)
	for i, v := range all {
		assert.Equal(t, i, v)
	}
}
