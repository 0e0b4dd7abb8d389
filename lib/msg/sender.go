package msg

import (
	"fmt"
	"runtime"
)

// Sender batches items of one producer in front of one or more destination queues.
//
// When a Sender has several destinations it treats them as one logical target
// and spreads batches round-robin, starting after the queue it used last.
//
// Thread-safety: a Sender is owned by a single goroutine and is not thread-safe.
type Sender[T any] struct {
	pending []T
	dests   []Destination[T]
	next    int
	backoff func()
}

// NewSender creates a sender with a pending buffer of bufSize items
func NewSender[T any](bufSize int, dests ...Destination[T]) *Sender[T] {
	if bufSize <= 0 {
		panic(fmt.Sprintf("msg: invalid sender buffer size %d", bufSize))
	}
	if len(dests) == 0 {
		panic("msg: sender needs at least one destination")
	}
	return &Sender[T]{
		pending: make([]T, 0, bufSize),
		dests:   dests,
	}
}

// SetBackoff replaces the function the retrying methods call between two
// attempts on saturated destinations. The default yields the processor.
func (s *Sender[T]) SetBackoff(fn func()) {
	s.backoff = fn
}

// Pending returns the number of buffered items not yet delivered
func (s *Sender[T]) Pending() int { return len(s.pending) }

// NumDestinations returns the number of destination queues
func (s *Sender[T]) NumDestinations() int { return len(s.dests) }

// SendCached buffers items, flushing whenever the buffer fills up. It retries
// saturated destinations until everything is buffered, so it always returns len(items).
func (s *Sender[T]) SendCached(items []T) int {
	accepted := 0
	for {
		accepted += s.buffer(items[accepted:])
		if accepted == len(items) {
			return accepted
		}
		if s.Flush() == 0 {
			s.wait()
		}
	}
}

// TrySendCached buffers as many items as possible without waiting. When the
// buffer is full it flushes and continues until a flush delivers nothing.
// The return value is the number of items taken, 0 means the destinations are saturated.
func (s *Sender[T]) TrySendCached(items []T) int {
	accepted := 0
	for {
		accepted += s.buffer(items[accepted:])
		if accepted == len(items) {
			return accepted
		}
		if s.Flush() == 0 {
			return accepted
		}
	}
}

// Send flushes pending items once and then pushes items directly in batches
// of the buffer size, retrying each batch until it is fully accepted.
func (s *Sender[T]) Send(items []T) int {
	s.Flush()

	batchSize := cap(s.pending)
	for start := 0; start < len(items); start += batchSize {
		batch := items[start:min(start+batchSize, len(items))]
		for len(batch) > 0 {
			n := s.push(batch)
			batch = batch[n:]
			if n == 0 {
				s.wait()
			}
		}
	}
	return len(items)
}

// Flush pushes pending items to the destinations and returns how many were
// delivered. Items that do not fit stay pending. Flushing an empty buffer is a no-op.
func (s *Sender[T]) Flush() int {
	if len(s.pending) == 0 {
		return 0
	}
	n := s.push(s.pending)
	if n > 0 {
		rest := copy(s.pending, s.pending[n:])
		clear(s.pending[rest:])
		s.pending = s.pending[:rest]
	}
	return n
}

// buffer appends as many items as fit into the pending buffer
func (s *Sender[T]) buffer(items []T) int {
	n := min(len(items), cap(s.pending)-len(s.pending))
	s.pending = append(s.pending, items[:n]...)
	return n
}

// push offers items to every destination at most once, round-robin
func (s *Sender[T]) push(items []T) int {
	sent := 0
	for tries := 0; tries < len(s.dests) && sent < len(items); tries++ {
		dest := s.dests[s.next]
		s.next = (s.next + 1) % len(s.dests)
		sent += dest.Add(items[sent:])
	}
	return sent
}

func (s *Sender[T]) wait() {
	if s.backoff != nil {
		s.backoff()
		return
	}
	runtime.Gosched()
}
