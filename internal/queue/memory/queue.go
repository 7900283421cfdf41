// Package memory provides the in-process bounded check queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-price-tracker/internal/queue"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Queue is a bounded FIFO of check requests.
type Queue struct {
	ch   chan tracker.CheckRequest
	done chan struct{}

	// mu is held in read mode by producers so Close cannot close ch
	// underneath a pending send.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

var _ tracker.Queue = (*Queue)(nil)

// NewQueue constructs a queue holding at most capacity requests.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan tracker.CheckRequest, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue waits for capacity, ctx cancellation or Close.
func (q *Queue) Enqueue(ctx context.Context, req tracker.CheckRequest) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return queue.ErrQueueClosed
	}
	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return queue.ErrQueueClosed
	}
}

// TryEnqueue accepts req only if capacity is available right now.
func (q *Queue) TryEnqueue(req tracker.CheckRequest) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return queue.ErrQueueClosed
	}
	select {
	case q.ch <- req:
		return nil
	default:
		return queue.ErrQueueFull
	}
}

// Dequeue pops the next request. After Close it keeps returning buffered
// requests and then ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (tracker.CheckRequest, error) {
	select {
	case req, ok := <-q.ch:
		if !ok {
			return tracker.CheckRequest{}, queue.ErrQueueClosed
		}
		return req, nil
	case <-ctx.Done():
		return tracker.CheckRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

// Len reports the number of buffered requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close stops intake. Blocked producers are released with ErrQueueClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		close(q.ch)
	})
}
