package msg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockingQueueFetchWaitWakesOnAdd(t *testing.T) {
	q := NewBlockingQueue[int](4)

	got := make(chan int, 1)
	go func() {
		out := make([]int, 4)
		n := q.FetchWait(context.Background(), out)
		got <- out[n-1]
	}()

	time.Sleep(20 * time.Millisecond)
	q.Add([]int{42})

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken up")
	}
}

func TestBlockingQueueFetchWaitHonoursContext(t *testing.T) {
	q := NewBlockingQueue[int](4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Equal(t, 0, q.FetchWait(ctx, make([]int, 1)))
}

func TestBlockingQueueClose(t *testing.T) {
	q := NewBlockingQueue[int](4)
	require.Equal(t, 2, q.Add([]int{1, 2}))
	q.Close()

	assert.True(t, q.IsClosed())
	assert.Equal(t, 0, q.Add([]int{3}), "closed queue must reject items")

	out := make([]int, 4)
	assert.Equal(t, 2, q.FetchWait(context.Background(), out), "queued items survive close")
	assert.Equal(t, 0, q.FetchWait(context.Background(), out))
}

func TestBlockingQueueAddWait(t *testing.T) {
	q := NewBlockingQueue[int](2)
	done := make(chan int, 1)
	go func() {
		done <- q.AddWait(context.Background(), []int{1, 2, 3, 4, 5})
	}()

	var got []int
	out := make([]int, 2)
	for len(got) < 5 {
		n := q.FetchWait(context.Background(), out)
		got = append(got, out[:n]...)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	assert.Equal(t, 5, <-done)
}

func TestBlockingQueueAddWakesEveryConsumer(t *testing.T) {
	for _, add := range []struct {
		name string
		fn   func(q *BlockingQueue[int], items []int)
	}{
		{"Add", func(q *BlockingQueue[int], items []int) { q.Add(items) }},
		{"AddWait", func(q *BlockingQueue[int], items []int) { q.AddWait(context.Background(), items) }},
	} {
		t.Run(add.name, func(t *testing.T) {
			const consumers = 3
			q := NewBlockingQueue[int](8)
			got := make(chan int, consumers)
			for i := 0; i < consumers; i++ {
				go func() {
					out := make([]int, 1)
					if q.FetchWait(context.Background(), out) == 1 {
						got <- out[0]
					}
				}()
			}

			time.Sleep(20 * time.Millisecond)
			add.fn(q, []int{1, 2, 3})

			sum := 0
			for i := 0; i < consumers; i++ {
				select {
				case v := <-got:
					sum += v
				case <-time.After(time.Second):
					t.Fatalf("only %d of %d consumers were woken up", i, consumers)
				}
			}
			assert.Equal(t, 6, sum)
			q.Close()
		})
	}
}
