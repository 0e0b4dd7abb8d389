package msg

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[string](8)
	require.Equal(t, 3, q.Add([]string{"r1", "r2", "r3"}))

	out := make([]string, 8)
	n := q.Fetch(out)
	require.Equal(t, 3, n)
	assert.Equal(t, []string{"r1", "r2", "r3"}, out[:n])
	assert.True(t, q.IsEmpty())
}

func TestQueueCapacityNeverExceeded(t *testing.T) {
	q := NewQueue[int](4)
	assert.Equal(t, 4, q.Add([]int{1, 2, 3, 4, 5, 6}))
	assert.True(t, q.IsFull())
	assert.Equal(t, 0, q.Add([]int{7}))
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, 4, q.Cap())
}

func TestQueueWrapAround(t *testing.T) {
	q := NewQueue[int](5)
	out := make([]int, 5)

	next, want := 0, 0
	for round := 0; round < 20; round++ {
		batch := []int{next, next + 1, next + 2}
		require.Equal(t, 3, q.Add(batch))
		next += 3

		n := q.Fetch(out[:2])
		for _, v := range out[:n] {
			require.Equal(t, want, v)
			want++
		}
		// drain the remainder every few rounds so the ring keeps wrapping
		if q.Len() >= 3 {
			n = q.Fetch(out)
			for _, v := range out[:n] {
				require.Equal(t, want, v)
				want++
			}
		}
	}
}

func TestQueueEmptyFetch(t *testing.T) {
	q := NewQueue[int](2)
	assert.Equal(t, 0, q.Fetch(make([]int, 2)))
	assert.Equal(t, 0, q.Add(nil))
}

func TestQueueInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { NewQueue[int](0) })
}

func TestQueueConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	type msg struct{ producer, seq int }

	const producers = 8
	const perProducer = 2000
	q := NewQueue[msg](64)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; {
				i += q.Add([]msg{{p, i}})
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	out := make([]msg, 16)
	received := 0
	for received < producers*perProducer {
		n := q.Fetch(out)
		for _, m := range out[:n] {
			require.Equal(t, last[m.producer]+1, m.seq, "producer %d out of order", m.producer)
			last[m.producer] = m.seq
		}
		received += n
	}
	wg.Wait()
	assert.True(t, q.IsEmpty())
}
