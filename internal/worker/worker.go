// Package worker implements the claim-and-process loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/pipeline"
	"github.com/JakeFAU/fotopedia-grab/internal/queue"
)

// ErrFatal wraps the error that stopped a worker loop.
var ErrFatal = errors.New("run-fatal error")

// Processor runs one identifier through the pipeline.
type Processor interface {
	Process(ctx context.Context, identifier string) (item.Outcome, error)
}

// Config controls Worker behavior.
type Config struct {
	// IdleBackoff is the pause after an empty or failed claim.
	IdleBackoff time.Duration
	// ItemRetries restarts a retryable failed item from Claimed this many times.
	ItemRetries int
	// RetryDelay separates item restarts.
	RetryDelay time.Duration
}

// Worker consumes identifiers and drives them through the pipeline.
type Worker struct {
	id     int
	source queue.Source
	proc   Processor
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, source queue.Source, proc Processor, cfg Config, logger *zap.Logger) *Worker {
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		source: source,
		proc:   proc,
		cfg:    cfg,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run claims and processes items until ctx ends, the source drains, or a run-fatal
// error occurs. Only the last case returns a non-nil error.
func (w *Worker) Run(ctx context.Context) error {
	for {
		identifier, err := w.source.Claim(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, queue.ErrDrained):
				w.logger.Info("item source drained")
				return nil
			case errors.Is(err, queue.ErrEmpty):
				w.logger.Debug("no item available", zap.Error(err))
			default:
				w.logger.Error("claim failed", zap.Error(err))
			}
			if !sleep(ctx, w.cfg.IdleBackoff) {
				return nil
			}
			continue
		}
		if err := w.process(ctx, identifier); err != nil {
			return err
		}
	}
}

func (w *Worker) process(ctx context.Context, identifier string) error {
	for attempt := 0; ; attempt++ {
		_, err := w.proc.Process(ctx, identifier)
		if err == nil {
			return nil
		}
		if pipeline.IsFatal(err) {
			w.logger.Error("stopping worker", zap.String("item", identifier), zap.Error(err))
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		if !pipeline.IsRetryable(err) || attempt >= w.cfg.ItemRetries {
			return nil
		}
		w.logger.Warn("restarting item",
			zap.String("item", identifier),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", w.cfg.ItemRetries),
			zap.Error(err),
		)
		if !sleep(ctx, w.cfg.RetryDelay) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
