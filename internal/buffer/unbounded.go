// Package buffer provides queue primitives for handing work between
// concurrent flows without blocking the producer.
package buffer

import (
	"sync"
)

// Unbounded is a FIFO queue with non-blocking enqueue and a channel-based
// consumer side. Producers never block; the consumer receives items in
// enqueue order.
//
// Usage:
//
//	q := buffer.NewUnbounded[workItem]()
//	go func() {
//	    for item := range q.Out() {
//	        // Process item
//	    }
//	}()
//	q.Put(item) // Never blocks
//	q.Close()   // Out() closes once drained
type Unbounded[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	closed  bool
	aborted bool
	abort   chan struct{}
	out     chan T
}

// NewUnbounded creates an empty queue ready for Put.
func NewUnbounded[T any]() *Unbounded[T] {
	q := &Unbounded[T]{
		queue: make([]T, 0, 16),
		abort: make(chan struct{}),
		out:   make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

// pump moves queued items to the output channel until the queue is closed
// and fully drained, then closes the output channel. Drain aborts an
// in-flight send, so pump terminates even when no consumer ever arrives.
func (q *Unbounded[T]) pump() {
	defer close(q.out)
	for {
		item, ok := q.next()
		if !ok {
			return
		}
		select {
		case q.out <- item:
		case <-q.abort:
			return
		}
	}
}

// next blocks until an item is available, or returns false once the queue
// is closed and empty or Drain took over.
func (q *Unbounded[T]) next() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.closed && !q.aborted {
		q.cond.Wait()
	}
	if q.aborted || len(q.queue) == 0 {
		var zero T
		return zero, false
	}

	item := q.queue[0]
	q.queue = q.queue[1:]
	return item, true
}

// Put enqueues an item without blocking. Items enqueued after Close are
// dropped. Safe to call from any goroutine.
//
// Returns false if the item was dropped because the queue is closed.
func (q *Unbounded[T]) Put(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.queue = append(q.queue, item)
	q.cond.Signal()
	return true
}

// Out returns the consumer channel. It closes after Close once every
// pending item has been delivered, or immediately after Drain.
func (q *Unbounded[T]) Out() <-chan T {
	return q.out
}

// Drain removes and returns every item still queued, without waiting for
// the consumer channel, and stops the delivery pump. Intended for shutdown
// paths that must answer pending items after Close. An item the pump had
// already picked up for delivery is dropped, not returned; callers with
// per-item reply channels must unblock those submitters by other means.
func (q *Unbounded[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.aborted {
		q.aborted = true
		close(q.abort)
		q.cond.Signal()
	}
	items := q.queue
	q.queue = nil
	return items
}

// Close stops accepting items. The consumer channel closes once pending
// items are delivered. Safe to call multiple times.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Signal()
}

// Len reports the number of items waiting in the queue.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Closed reports whether Close has been called.
func (q *Unbounded[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
