// Package queue provides an unbounded, thread-safe FIFO with
// context-aware waiting. It backs every feed and presence subscription so a
// slow subscriber never blocks a publisher.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a thread-safe FIFO queue.
//
// The queue is unbounded so that fan-out publishers never block on a slow
// consumer. Consumers wait with Next(ctx) or select on Wait().
//
// The queue uses a channel for signaling to enable context-aware waiting
// (prevents goroutine hangs on context cancellation).
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // Signals item availability (buffered, size 1)
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  make([]T, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Push adds an item to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryPop attempts to remove the front item without blocking.
// Returns (zero, false) if the queue is empty.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]

	// Zero the slot so the backing array does not retain the item.
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return item, true
}

// Next removes and returns the front item, blocking until one is available,
// the queue is closed and drained (ErrClosed), or ctx is done.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if item, ok := q.TryPop(); ok {
			return item, nil
		}

		q.mu.Lock()
		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

// Wait returns a channel that signals when items may be available.
// The channel is closed when the queue is closed.
func (q *Queue[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more items will be pushed. Items already queued
// remain available to Next. Safe to call multiple times.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
