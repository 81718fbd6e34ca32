// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

// ErrQueueClosed is returned once Close has been called.
var ErrQueueClosed = crawler.ErrQueueClosed

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch     chan crawler.QueueItem
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan crawler.QueueItem, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	// Holding the read lock keeps Close from closing the channel mid-send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	item.Kinds = append([]string(nil), item.Kinds...)
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return crawler.QueueItem{}, ErrQueueClosed
		}
		return item, nil
	}
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Items already queued can
// still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
