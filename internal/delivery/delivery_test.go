package delivery_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fotopedia-grab/internal/delivery"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

type slowUploader struct {
	active atomic.Int64
	peak   atomic.Int64
	calls  atomic.Int64
}

func (s *slowUploader) Upload(_ context.Context, it *item.Item) (delivery.Receipt, error) {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.active.Add(-1)
	s.calls.Add(1)
	return delivery.Receipt{Location: "mem://" + it.Identifier, Bytes: it.ContainerBytes}, nil
}

func TestNewGateBounds(t *testing.T) {
	t.Parallel()

	g, err := delivery.NewGate(0)
	require.NoError(t, err)
	assert.Equal(t, delivery.DefaultCapacity, g.Capacity())

	for _, bad := range []int{-1, 5, 10} {
		_, err := delivery.NewGate(bad)
		assert.Error(t, err, "capacity %d", bad)
	}
}

// TestGateNeverExceedsCapacity ensures capacity+k concurrent deliveries never overlap past capacity.
func TestGateNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	for capacity := delivery.MinCapacity; capacity <= delivery.MaxCapacity; capacity++ {
		g, err := delivery.NewGate(capacity)
		require.NoError(t, err)
		up := &slowUploader{}

		const extra = 6
		var wg sync.WaitGroup
		for i := 0; i < capacity+extra; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				it := &item.Item{Identifier: "album:1", ContainerBytes: 3}
				receipt, err := g.Deliver(context.Background(), up, it)
				assert.NoError(t, err)
				assert.Equal(t, int64(3), receipt.Bytes)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, up.peak.Load(), int64(capacity))
		assert.LessOrEqual(t, g.Peak(), capacity)
		assert.Equal(t, int64(capacity+extra), up.calls.Load())
		assert.Zero(t, g.InFlight())
	}
}

func TestGateHonoursCancellationWhileWaiting(t *testing.T) {
	t.Parallel()

	g, err := delivery.NewGate(1)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ran := false
	err = g.Do(ctx, func(context.Context) error { ran = true; return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	close(release)
}

func TestGatePropagatesUploadError(t *testing.T) {
	t.Parallel()

	g, err := delivery.NewGate(2)
	require.NoError(t, err)
	boom := errors.New("transfer refused")
	err = g.Do(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Zero(t, g.InFlight())
}

func TestGateObserver(t *testing.T) {
	t.Parallel()

	g, err := delivery.NewGate(1)
	require.NoError(t, err)
	var seen []int
	g.Observe = func(n int) { seen = append(seen, n) }
	require.NoError(t, g.Do(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, []int{1, 0}, seen)
}

func TestReceiptFields(t *testing.T) {
	t.Parallel()

	r := delivery.Receipt{Location: "gs://b/x.warc.gz", Bytes: 42}
	assert.Equal(t, map[string]string{"location": "gs://b/x.warc.gz", "bytes": "42"}, r.Fields())
}
