// Package queue implements the lock-free single-producer/single-consumer
// pipe that backs both the mailbox's command queue
// and each pipe half's message queue.
//
// Built on code.hybscloud.com/lfq's SPSC queue: one producer
// goroutine, one consumer goroutine, bounded capacity rounded up to a
// power of two, non-blocking Enqueue/Dequeue reporting lfq.ErrWouldBlock
// on a full/empty queue.
package queue

import (
	"errors"

	"code.hybscloud.com/lfq"

	"github.com/infodancer/serverlink/internal/zerr"
)

// YPipe is a bounded SPSC queue of T. The zero value is not usable; build
// one with New.
type YPipe[T any] struct {
	q *lfq.SPSC[T]
}

// New creates a YPipe with room for at least capacity elements (rounded
// up to the next power of two by the underlying queue).
func New[T any](capacity int) *YPipe[T] {
	return &YPipe[T]{q: lfq.NewSPSC[T](capacity)}
}

// Write enqueues v. It returns zerr.EAgain when the queue is full; the
// message is not enqueued in that case.
func (p *YPipe[T]) Write(v T) error {
	if err := p.q.Enqueue(&v); err != nil {
		if errors.Is(err, lfq.ErrWouldBlock) {
			return zerr.EAgain
		}
		return err
	}
	return nil
}

// Read pops the oldest element. It returns zerr.EAgain when the queue is
// currently empty.
func (p *YPipe[T]) Read() (T, error) {
	v, err := p.q.Dequeue()
	if err != nil {
		var zero T
		if errors.Is(err, lfq.ErrWouldBlock) {
			return zero, zerr.EAgain
		}
		return zero, err
	}
	return v, nil
}

// Drain marks the pipe as no longer receiving writes, allowing the
// consumer to drain remaining elements without the underlying queue's
// livelock-prevention threshold holding any back. Used during pipe
// termination once the peer side has sent its DELIMITER.
func (p *YPipe[T]) Drain() {
	if d, ok := any(p.q).(lfq.Drainer); ok {
		d.Drain()
	}
}
