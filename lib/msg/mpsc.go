package msg

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is one element of the linked list behind LockFreeMPSC
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is an unbounded lock-free multi-producer single-consumer stream.
//
// Producers append to a linked list with CAS operations. A forwarding
// goroutine moves values from the list to the channel returned by Recv, so the
// consumer can wait with select or poll with a default case. Push never fails
// for capacity reasons, which makes the stream suitable for completions that
// must not be rejected.
//
// Under concurrent Push calls the order is decided by which producer wins the
// CAS, values of a single producer keep their order.
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan T
	closed atomic.Bool
	queued atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a stream and starts its forwarding goroutine.
// Close must be called to stop it.
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}
	q := &LockFreeMPSC[T]{out: make(chan T)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	go q.forward()
	return q
}

// Push appends value. It returns false if the stream is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}
	var backoff uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// another producer may already have advanced the tail, that is fine
				q.tail.CompareAndSwap(tail, n)
				q.queued.Add(1)
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// spin a little at low contention, yield more the longer it takes
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// forward moves values from the list to the output channel
func (q *LockFreeMPSC[T]) forward() {
	defer close(q.out)
	for {
		moved := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			moved = true
			value := next.value
			q.head.Store(next)
			q.out <- value
			q.queued.Add(-1)
			var zero T
			next.value = zero
		}

		if !moved {
			if q.closed.Load() {
				return
			}
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel values are delivered on. It is closed after Close
// once every pushed value was delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan T {
	return q.out
}

// TryRecv returns the next value if one is ready without waiting
func (q *LockFreeMPSC[T]) TryRecv() (T, bool) {
	select {
	case v, ok := <-q.out:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Close stops accepting values. Values already pushed are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed reports whether Close was called
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the approximate number of values pushed but not yet received,
// including one value the forwarder may be holding.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.queued.Load())
}
