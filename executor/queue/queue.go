// Package queue provides a blocking FIFO with front insertion, used for
// evaluation tasks and deferred tree deletion.
package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// TaskQueue is a blocking double-ended queue. With a positive capacity Push
// blocks while the queue is full; PushFront never blocks so that requeued
// work cannot deadlock against producers.
type TaskQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	capacity int
	closed   bool
	changed  chan struct{}

	size atomic.Int64
}

// New returns a queue. capacity <= 0 means unbounded.
func New[T any](capacity int) *TaskQueue[T] {
	return &TaskQueue[T]{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// broadcast must be called with mu held.
func (q *TaskQueue[T]) broadcast() {
	q.size.Store(int64(len(q.items) - q.head))
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *TaskQueue[T]) len() int { return len(q.items) - q.head }

// Push appends v, blocking while the queue is at capacity. It returns false
// if the queue was closed before v could be added.
func (q *TaskQueue[T]) Push(v T) bool {
	q.mu.Lock()
	for q.capacity > 0 && q.len() >= q.capacity && !q.closed {
		ch := q.changed
		q.mu.Unlock()
		<-ch
		q.mu.Lock()
	}
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.head > 0 && len(q.items) == cap(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	q.items = append(q.items, v)
	q.broadcast()
	return true
}

// PushFront inserts v at the head of the queue, ignoring capacity. It
// returns false if the queue is closed.
func (q *TaskQueue[T]) PushFront(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.head > 0 {
		q.head--
		q.items[q.head] = v
	} else {
		q.items = append(q.items, v)
		copy(q.items[1:], q.items)
		q.items[0] = v
	}
	q.broadcast()
	return true
}

// Pop removes the head of the queue. A negative timeout waits until an item
// arrives or the queue is closed. It reports false on timeout, and on a
// closed queue once it has been drained; use IsClosed to tell them apart.
func (q *TaskQueue[T]) Pop(timeout time.Duration) (T, bool) {
	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	q.mu.Lock()
	for q.len() == 0 && !q.closed {
		ch := q.changed
		q.mu.Unlock()
		select {
		case <-ch:
		case <-timer:
			var zero T
			return zero, false
		}
		q.mu.Lock()
	}
	defer q.mu.Unlock()

	var zero T
	if q.len() == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	q.broadcast()
	return v, true
}

// Close wakes every waiter. Items already queued can still be popped.
func (q *TaskQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

func (q *TaskQueue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Size is a lock-free snapshot of the queue length.
func (q *TaskQueue[T]) Size() int { return int(q.size.Load()) }
