// Package memory keeps the most recent item outcomes in memory for the status API.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

// ErrNotFound is returned when no outcome has been recorded for an identifier.
var ErrNotFound = errors.New("outcome not found")

// DefaultCapacity bounds how many outcomes a Board retains.
const DefaultCapacity = 512

// Board is a bounded, newest-first record of item outcomes plus running totals per state.
type Board struct {
	mu       sync.RWMutex
	capacity int
	ring     []item.Outcome
	next     int
	full     bool
	latest   map[string]item.Outcome
	totals   map[item.State]int
}

// NewBoard constructs a Board retaining up to capacity outcomes.
func NewBoard(capacity int) *Board {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Board{
		capacity: capacity,
		ring:     make([]item.Outcome, capacity),
		latest:   make(map[string]item.Outcome),
		totals:   make(map[item.State]int),
	}
}

// Record stores an outcome, evicting the oldest once the board is full.
func (b *Board) Record(_ context.Context, out item.Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		evicted := b.ring[b.next]
		if cur, ok := b.latest[evicted.Identifier]; ok && cur.ID == evicted.ID {
			delete(b.latest, evicted.Identifier)
		}
	}
	b.ring[b.next] = out
	b.next = (b.next + 1) % b.capacity
	if b.next == 0 {
		b.full = true
	}
	b.latest[out.Identifier] = out
	b.totals[out.State]++
	return nil
}

// Get returns the newest retained outcome for identifier.
func (b *Board) Get(_ context.Context, identifier string) (item.Outcome, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out, ok := b.latest[identifier]
	if !ok {
		return item.Outcome{}, ErrNotFound
	}
	return out, nil
}

// Recent returns up to limit outcomes, newest first. A non-positive limit returns all retained.
func (b *Board) Recent(limit int) []item.Outcome {
	b.mu.RLock()
	defer b.mu.RUnlock()
	size := b.next
	if b.full {
		size = b.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]item.Outcome, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (b.next - i + b.capacity) % b.capacity
		out = append(out, b.ring[idx])
	}
	return out
}

// Totals returns a copy of the per-state counters since start.
func (b *Board) Totals() map[item.State]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[item.State]int, len(b.totals))
	for k, v := range b.totals {
		out[k] = v
	}
	return out
}
