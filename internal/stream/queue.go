package stream

import (
	"context"
	"sync/atomic"
)

// Queue is a bounded frame buffer between the acquisition producer and the
// inference consumer. When full, the oldest unconsumed frame is dropped in
// favor of the new one: a slow inference pass must never back-pressure the
// network reader, and a stale frame is worth less than a fresh one.
type Queue struct {
	ch      chan Frame
	dropped atomic.Int64
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan Frame, capacity)}
}

// Push enqueues a frame without ever blocking, evicting the oldest queued
// frame if necessary.
func (q *Queue) Push(f Frame) {
	for {
		select {
		case q.ch <- f:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop dequeues the next frame, blocking until one arrives, the queue closes
// (ok=false), or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Frame, bool) {
	select {
	case f, ok := <-q.ch:
		return f, ok
	case <-ctx.Done():
		return Frame{}, false
	}
}

// Close ends the queue; Pop drains remaining frames then reports closed.
func (q *Queue) Close() {
	close(q.ch)
}

// Dropped returns the number of frames evicted so far.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
