// Package memory provides an in-memory identifier source for local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/fotopedia-grab/internal/queue"
)

// ErrClosed is returned when enqueueing after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of identifiers with context-aware operations.
type Queue struct {
	ch      chan string
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan string, capacity),
	}
}

// FromIdentifiers returns a closed queue pre-loaded with ids; it drains once they are claimed.
func FromIdentifiers(ids []string) *Queue {
	q := NewQueue(len(ids))
	for _, id := range ids {
		q.ch <- id
	}
	q.Close()
	return q
}

// Enqueue pushes an identifier into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, identifier string) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- identifier:
		return nil
	}
}

// Claim pops the next identifier, respecting context cancellation. A closed, empty
// queue reports queue.ErrDrained.
func (q *Queue) Claim(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("claim canceled: %w", ctx.Err())
	case id, ok := <-q.ch:
		if !ok {
			return "", queue.ErrDrained
		}
		return id, nil
	}
}

// Len reports how many identifiers are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops further enqueues; queued identifiers remain claimable.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
