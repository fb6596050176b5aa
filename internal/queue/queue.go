// Package queue holds task ids waiting for the worker, in FIFO order.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/amassd/internal/task"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue is closed")

// Entry is what the worker needs to run a task without a store round trip.
type Entry struct {
	TaskID  string
	Domain  string
	Options task.Options
	Mode    task.Mode
}

// Metrics counts queue operations.
type Metrics struct {
	PushCount    atomic.Int64
	PopCount     atomic.Int64
	DrainedCount atomic.Int64
}

// Queue is an unbounded FIFO safe for concurrent producers and consumers.
type Queue struct {
	mu      sync.Mutex
	items   []Entry
	ready   chan struct{} // closed and replaced on every Push and on Close
	closed  bool
	metrics Metrics
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{ready: make(chan struct{})}
}

// Push appends e. It never blocks.
func (q *Queue) Push(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, e)
	q.metrics.PushCount.Add(1)
	q.wake()
	return nil
}

// Pop removes the oldest entry, waiting at most wait for one to arrive.
// It returns false on timeout, when ctx ends, or when the queue is closed
// and empty. Entries pushed before Close are still handed out.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (Entry, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = Entry{}
			q.items = q.items[1:]
			q.mu.Unlock()
			q.metrics.PopCount.Add(1)
			return e, true
		}
		if q.closed {
			q.mu.Unlock()
			return Entry{}, false
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-timer.C:
			return Entry{}, false
		case <-ctx.Done():
			return Entry{}, false
		}
	}
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every waiting entry, oldest first.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.items
	q.items = nil
	q.metrics.DrainedCount.Add(int64(len(drained)))
	if drained == nil {
		drained = []Entry{}
	}
	return drained
}

// Close stops accepting pushes and wakes any waiting consumer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.wake()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Metrics returns the queue's counters.
func (q *Queue) Metrics() *Metrics {
	return &q.metrics
}

// wake must be called with mu held.
func (q *Queue) wake() {
	close(q.ready)
	q.ready = make(chan struct{})
}
