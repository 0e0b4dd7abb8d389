package msg

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Destination is anything a Sender can deliver batches to
type Destination[T any] interface {
	// Add appends as many items as fit and returns how many were accepted.
	Add(items []T) int
}

// Queue is a bounded multi-producer single-consumer ring buffer
type Queue[T any] struct {
	mu   sync.Mutex
	buf  []T
	head int // index of the next item to fetch
	size int

	// length mirrors size so IsEmpty/Len can be polled without the lock
	length atomic.Int64
}

// NewQueue creates a queue holding at most capacity items
func NewQueue[T any](capacity int) *Queue[T] {
	q := &Queue[T]{}
	q.init(capacity)
	return q
}

func (q *Queue[T]) init(capacity int) {
	if capacity <= 0 {
		panic(fmt.Sprintf("msg: invalid queue capacity %d", capacity))
	}
	q.buf = make([]T, capacity)
}

// Add appends items until the queue is full and returns the accepted count.
// It never blocks; the caller has to retry or drop the rest.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Queue[T]) Add(items []T) int {
	q.mu.Lock()
	n := q.addLocked(items)
	q.mu.Unlock()
	return n
}

// Fetch moves up to len(out) items into out and returns the count.
//
// Thread-safety: only the owning consumer may call Fetch.
func (q *Queue[T]) Fetch(out []T) int {
	q.mu.Lock()
	n := q.fetchLocked(out)
	q.mu.Unlock()
	return n
}

// IsEmpty reports whether the queue holds no items
func (q *Queue[T]) IsEmpty() bool { return q.length.Load() == 0 }

// Len returns the number of queued items
func (q *Queue[T]) Len() int { return int(q.length.Load()) }

// Cap returns the capacity of the queue
func (q *Queue[T]) Cap() int { return len(q.buf) }

// IsFull reports whether an Add would currently accept nothing
func (q *Queue[T]) IsFull() bool { return q.Len() == len(q.buf) }

func (q *Queue[T]) addLocked(items []T) int {
	n := min(len(items), len(q.buf)-q.size)
	if n == 0 {
		return 0
	}
	tail := (q.head + q.size) % len(q.buf)
	first := copy(q.buf[tail:], items[:n])
	if first < n {
		copy(q.buf, items[first:n])
	}
	q.size += n
	q.length.Store(int64(q.size))
	return n
}

func (q *Queue[T]) fetchLocked(out []T) int {
	n := min(len(out), q.size)
	if n == 0 {
		return 0
	}
	first := copy(out[:n], q.buf[q.head:])
	clear(q.buf[q.head : q.head+first])
	if first < n {
		copy(out[first:n], q.buf[:n-first])
		clear(q.buf[:n-first])
	}
	q.head = (q.head + n) % len(q.buf)
	q.size -= n
	q.length.Store(int64(q.size))
	return n
}
