// Package memory provides the in-process item queue between the listing walk
// and the workers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Queue is a bounded in-memory queue with context-aware operations. Its
// capacity bounds how far discovery may run ahead of the workers.
type Queue struct {
	ch      chan crawler.ItemRef
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan crawler.ItemRef, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, ref crawler.ItemRef) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- ref:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation. Items already
// queued are still delivered after Close; crawler.ErrQueueClosed follows.
func (q *Queue) Dequeue(ctx context.Context) (crawler.ItemRef, error) {
	select {
	case <-ctx.Done():
		return crawler.ItemRef{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case ref, ok := <-q.ch:
		if !ok {
			return crawler.ItemRef{}, crawler.ErrQueueClosed
		}
		return ref, nil
	}
}

// Close closes the underlying channel; no further Enqueue calls are allowed.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
