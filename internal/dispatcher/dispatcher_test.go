// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context) error {
	r.started <- struct{}{}
	<-ctx.Done()
	return nil
}

type failingRunner struct {
	err error
}

func (r *failingRunner) Run(context.Context) error {
	return r.err
}

// TestDispatcherRunStartsWorkers ensures workers begin and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	a := &blockingRunner{started: make(chan struct{}, 1)}
	b := &blockingRunner{started: make(chan struct{}, 1)}
	dispatch := New([]Runner{a, b}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dispatch.Run(ctx) }()

	for _, r := range []*blockingRunner{a, b} {
		select {
		case <-r.started:
		case <-time.After(time.Second):
			t.Fatal("worker did not start")
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherFatalStopsSiblings verifies one failing loop cancels the others.
func TestDispatcherFatalStopsSiblings(t *testing.T) {
	t.Parallel()

	boom := errors.New("interception suspected")
	sibling := &blockingRunner{started: make(chan struct{}, 1)}
	dispatch := New([]Runner{sibling, &failingRunner{err: boom}}, nil)

	done := make(chan error, 1)
	go func() { done <- dispatch.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped fatal error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after a worker failed")
	}
}

func TestDispatcherRequiresWorkers(t *testing.T) {
	t.Parallel()

	if err := New(nil, nil).Run(context.Background()); err == nil {
		t.Fatal("expected error without workers")
	}
}
