package bus

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("message queue full")
	ErrQueueClosed = errors.New("message queue closed")
)

// Message is the unit passed through the in-memory bus.
type Message struct {
	Channel string
	Payload []byte
}

// queue is a bounded, non-blocking message queue.
type queue struct {
	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &queue{ch: make(chan Message, capacity)}
}

// TryPublish enqueues a message without blocking.
func (q *queue) TryPublish(m Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new messages.
func (q *queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Run consumes messages until the context is done or the queue is closed.
func (q *queue) Run(ctx context.Context, handler func(Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q.ch:
			if !ok {
				return
			}
			handler(m)
		}
	}
}
