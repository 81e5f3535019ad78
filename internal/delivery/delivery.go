// Package delivery admits finished containers to the bulk transfer under a fixed concurrency budget.
package delivery

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

const (
	// MinCapacity and MaxCapacity bound the operator-configurable gate size.
	MinCapacity = 1
	MaxCapacity = 4
	// DefaultCapacity is used when no capacity is configured.
	DefaultCapacity = 1
)

// Receipt confirms a delivered container.
type Receipt struct {
	// Location is where the container now lives (rsync target, file:// or gs:// URI).
	Location string
	Bytes    int64
}

// Fields renders the receipt for merging into item stats.
func (r Receipt) Fields() map[string]string {
	return map[string]string{
		"location": r.Location,
		"bytes":    strconv.FormatInt(r.Bytes, 10),
	}
}

// Uploader transfers a finalized container to durable storage.
type Uploader interface {
	Upload(ctx context.Context, it *item.Item) (Receipt, error)
}

// Gate is a FIFO counting semaphore wrapped around delivery only.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int

	mu       sync.Mutex
	inFlight int
	peak     int
	// Observe, when set, sees the in-flight count after every admission and release.
	Observe func(inFlight int)
}

// NewGate returns a gate admitting at most capacity concurrent deliveries.
// Zero selects DefaultCapacity.
func NewGate(capacity int) (*Gate, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, fmt.Errorf("delivery capacity %d outside %d-%d", capacity, MinCapacity, MaxCapacity)
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}, nil
}

// Capacity is the configured admission limit.
func (g *Gate) Capacity() int {
	return g.capacity
}

// Peak is the highest concurrency the gate has admitted.
func (g *Gate) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// InFlight is the number of deliveries currently admitted.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Do waits for a slot in arrival order, then runs fn. Waiting ends only when ctx does.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire delivery slot: %w", err)
	}
	g.track(1)
	defer func() {
		g.track(-1)
		g.sem.Release(1)
	}()
	return fn(ctx)
}

// Deliver runs up.Upload for it inside the gate.
func (g *Gate) Deliver(ctx context.Context, up Uploader, it *item.Item) (Receipt, error) {
	var receipt Receipt
	err := g.Do(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = up.Upload(ctx, it)
		return err
	})
	return receipt, err
}

func (g *Gate) track(delta int) {
	g.mu.Lock()
	g.inFlight += delta
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	n := g.inFlight
	observe := g.Observe
	g.mu.Unlock()
	if observe != nil {
		observe(n)
	}
}
