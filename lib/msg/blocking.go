package msg

import (
	"context"
	"sync"
)

// BlockingQueue is a Queue whose consumer can sleep until items arrive.
// The non-blocking Add and Fetch of Queue keep working and wake waiters.
type BlockingQueue[T any] struct {
	Queue[T]
	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

// NewBlockingQueue creates a blocking queue holding at most capacity items
func NewBlockingQueue[T any](capacity int) *BlockingQueue[T] {
	q := &BlockingQueue[T]{}
	q.init(capacity)
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Add appends items until the queue is full and wakes the waiting consumers.
// It never blocks. A closed queue accepts nothing.
func (q *BlockingQueue[T]) Add(items []T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	n := q.addLocked(items)
	if n > 0 {
		// a batch may be more than one consumer fetches
		q.notEmpty.Broadcast()
	}
	return n
}

// Fetch moves up to len(out) items into out without waiting
func (q *BlockingQueue[T]) Fetch(out []T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.fetchLocked(out)
	if n > 0 {
		q.notFull.Broadcast()
	}
	return n
}

// FetchWait waits until at least one item is queued and fetches up to len(out) items.
// It returns 0 once the queue is closed and drained or ctx is done.
func (q *BlockingQueue[T]) FetchWait(ctx context.Context, out []T) int {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed && ctx.Err() == nil {
		q.notEmpty.Wait()
	}
	n := q.fetchLocked(out)
	if n > 0 {
		q.notFull.Broadcast()
	}
	return n
}

// AddWait adds all items, waiting for space whenever the queue is full.
// It returns the number added, which is less than len(items) only if the
// queue was closed or ctx is done.
func (q *BlockingQueue[T]) AddWait(ctx context.Context, items []T) int {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	added := 0
	for added < len(items) {
		for q.size == len(q.buf) && !q.closed && ctx.Err() == nil {
			q.notFull.Wait()
		}
		if q.closed || ctx.Err() != nil {
			break
		}
		n := q.addLocked(items[added:])
		added += n
		q.notEmpty.Broadcast()
	}
	return added
}

// Close rejects further adds and wakes every waiter. Queued items can still be fetched.
func (q *BlockingQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// IsClosed reports whether Close was called
func (q *BlockingQueue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
