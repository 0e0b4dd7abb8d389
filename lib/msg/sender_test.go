package msg

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderFlushEmptyIsNoop(t *testing.T) {
	q := NewQueue[int](8)
	s := NewSender[int](4, q)

	assert.Equal(t, 0, s.Flush())
	assert.True(t, q.IsEmpty(), "flush of an empty buffer must not deliver anything")
}

func TestSenderBuffersUntilFlush(t *testing.T) {
	q := NewQueue[int](8)
	s := NewSender[int](4, q)

	assert.Equal(t, 3, s.SendCached([]int{1, 2, 3}))
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 3, s.Pending())

	assert.Equal(t, 3, s.Flush())
	assert.Equal(t, 0, s.Pending())

	out := make([]int, 8)
	n := q.Fetch(out)
	assert.Equal(t, []int{1, 2, 3}, out[:n])
}

func TestSenderFlushesWhenBufferFull(t *testing.T) {
	q := NewQueue[int](16)
	s := NewSender[int](4, q)

	s.SendCached([]int{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 4, q.Len(), "a full buffer is pushed as one batch")
	assert.Equal(t, 2, s.Pending())
}

func TestSenderTrySendCachedReportsSaturation(t *testing.T) {
	q := NewQueue[int](2)
	s := NewSender[int](2, q)

	// two go to the queue, two stay in the buffer, the rest is refused
	assert.Equal(t, 4, s.TrySendCached([]int{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, 0, s.TrySendCached([]int{7}))
	assert.Equal(t, 2, s.Pending())

	q.Fetch(make([]int, 2))
	assert.Equal(t, 1, s.TrySendCached([]int{7}))
}

func TestSenderSendCachedRetriesUntilAccepted(t *testing.T) {
	q := NewQueue[int](4)
	s := NewSender[int](2, q)

	const total = 1000
	var got []int
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		out := make([]int, 3)
		for {
			n := q.Fetch(out)
			got = append(got, out[:n]...)
			if n == 0 {
				select {
				case <-stop:
					return
				default:
				}
			}
		}
	}()

	items := make([]int, total)
	for i := range items {
		items[i] = i
	}
	require.Equal(t, total, s.SendCached(items))
	for s.Pending() > 0 {
		s.Flush()
	}
	for !q.IsEmpty() {
	}
	close(stop)
	wg.Wait()

	require.Len(t, got, total)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestSenderSendBypassesBuffer(t *testing.T) {
	q := NewQueue[int](16)
	s := NewSender[int](4, q)

	s.SendCached([]int{1})
	assert.Equal(t, 6, s.Send([]int{2, 3, 4, 5, 6, 7}))
	assert.Equal(t, 0, s.Pending())

	out := make([]int, 16)
	n := q.Fetch(out)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, out[:n])
}

func TestSenderSpreadsOverDestinations(t *testing.T) {
	q1, q2 := NewQueue[int](8), NewQueue[int](8)
	s := NewSender[int](2, q1, q2)
	assert.Equal(t, 2, s.NumDestinations())

	for i := 0; i < 4; i++ {
		s.SendCached([]int{i, i})
		s.Flush()
	}
	assert.Equal(t, 4, q1.Len())
	assert.Equal(t, 4, q2.Len())
}

func TestSenderFallsBackToNextDestination(t *testing.T) {
	q1, q2 := NewQueue[int](1), NewQueue[int](8)
	s := NewSender[int](4, q1, q2)

	s.SendCached([]int{1, 2, 3})
	assert.Equal(t, 3, s.Flush())
	assert.Equal(t, 1, q1.Len())
	assert.Equal(t, 2, q2.Len())
}

func TestSenderBackoffIsCalled(t *testing.T) {
	q := NewQueue[int](1)
	s := NewSender[int](1, q)

	calls := 0
	s.SetBackoff(func() {
		calls++
		q.Fetch(make([]int, 1))
	})
	s.SendCached([]int{1, 2, 3})
	assert.Greater(t, calls, 0)
}

func TestSenderInvalidConfig(t *testing.T) {
	assert.Panics(t, func() { NewSender[int](0, NewQueue[int](1)) })
	assert.Panics(t, func() { NewSender[int](1) })
}
