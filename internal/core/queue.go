package core

import (
	"context"
	"sync"
)

// Queue is a FIFO of outgoing messages with a single consumer.
// Push never blocks. A capacity of zero means unbounded.
type Queue struct {
	mu       sync.Mutex
	items    []any
	capacity int
	closed   bool
	notify   chan struct{}
}

func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (q *Queue) Push(msg any) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueOverflow
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until a message is available, the queue is closed or ctx is
// done. A message is either fully removed or left in place.
func (q *Queue) Pop(ctx context.Context) (any, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes and drops whatever is still pending.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
