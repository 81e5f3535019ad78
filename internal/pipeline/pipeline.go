// Package pipeline runs one item through the fixed stage sequence, from claim to release.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/delivery"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/logging"
	"github.com/JakeFAU/fotopedia-grab/internal/planner"
	"github.com/JakeFAU/fotopedia-grab/internal/stats"
)

// Stage names, as they appear in logs, outcomes and metrics.
const (
	StageClaim     = "claim"
	StageSanity    = "sanity"
	StageWorkspace = "workspace"
	StageFetch     = "fetch"
	StageFinalize  = "finalize"
	StageAnnotate  = "annotate"
	StageDeliver   = "deliver"
	StageReport    = "report"
	StageRelease   = "release"
)

// Notification events.
const (
	EventReleased = "item.released"
	EventFailed   = "item.failed"
)

// Deps are the collaborators a Pipeline drives. Release, Recorders, Notifier and Observer are optional.
type Deps struct {
	Planner   Planner
	Sanity    Sanity
	Workspace Workspace
	Fetcher   Fetcher
	Annotator Annotator
	Gate      Gate
	Uploader  delivery.Uploader
	Reporter  Reporter
	// Release runs after the tracker has acknowledged the item.
	Release   func(it *item.Item) error
	Recorders []Recorder
	Notifier  Notifier
	Observer  Observer
	Clock     Clock
	IDs       IDGenerator
}

// Config tunes the report stage, the only stage retried in place.
type Config struct {
	ReportAttempts int
	ReportBackoff  time.Duration
}

// Pipeline sequences the stages for one item at a time; it is safe for concurrent use
// as long as its collaborators are.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and returns a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Planner == nil:
		return nil, errors.New("planner is required")
	case deps.Sanity == nil:
		return nil, errors.New("sanity checker is required")
	case deps.Workspace == nil:
		return nil, errors.New("workspace manager is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Annotator == nil:
		return nil, errors.New("annotator is required")
	case deps.Gate == nil || deps.Uploader == nil:
		return nil, errors.New("delivery gate and uploader are required")
	case deps.Reporter == nil:
		return nil, errors.New("reporter is required")
	case deps.Clock == nil || deps.IDs == nil:
		return nil, errors.New("clock and id generator are required")
	}
	if cfg.ReportAttempts <= 0 {
		cfg.ReportAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

type step struct {
	name  string
	state item.State
	run   func(ctx context.Context) error
}

// Process runs identifier through every stage. The returned error is a *StageError
// whenever the item ends in the failed state.
func (p *Pipeline) Process(ctx context.Context, identifier string) (item.Outcome, error) {
	started := p.deps.Clock.Now()
	it, err := item.Parse(identifier)
	if err != nil {
		it = &item.Item{Identifier: identifier, State: item.StateClaimed}
		return p.finish(ctx, it, started, &StageError{Stage: StageClaim, Err: err})
	}
	it.ClaimedAt = started
	logger := logging.ForItem(p.logger, identifier, string(it.Kind()))

	plan, err := p.deps.Planner.Plan(it.Target)
	if err != nil {
		return p.finish(ctx, it, started, &StageError{Stage: StageClaim, Err: err})
	}
	it.URLs = plan.URLs
	it.Domains = plan.Domains
	logger.Info("item claimed", zap.Int("urls", len(plan.URLs)), zap.Strings("domains", plan.Domains))

	for _, s := range p.steps(it, plan) {
		if err := ctx.Err(); err != nil {
			return p.finish(ctx, it, started, &StageError{Stage: s.name, Err: err})
		}
		begin := time.Now()
		err := s.run(ctx)
		if p.deps.Observer != nil {
			p.deps.Observer.StageFinished(s.name, time.Since(begin), err)
		}
		if err != nil {
			return p.finish(ctx, it, started, &StageError{Stage: s.name, Err: err})
		}
		if !it.State.CanAdvance(s.state) {
			return p.finish(ctx, it, started, &StageError{
				Stage: s.name,
				Err:   fmt.Errorf("illegal transition %s -> %s", it.State, s.state),
			})
		}
		it.State = s.state
		logging.ForStage(logger, s.name).Debug("stage complete", zap.Duration("elapsed", time.Since(begin)))
	}
	return p.finish(ctx, it, started, nil)
}

func (p *Pipeline) steps(it *item.Item, plan planner.Plan) []step {
	return []step{
		{StageSanity, item.StateSanityChecked, p.deps.Sanity.Check},
		{StageWorkspace, item.StateWorkspaceReady, func(context.Context) error {
			return p.deps.Workspace.Prepare(it)
		}},
		{StageFetch, item.StateFetched, func(ctx context.Context) error {
			_, err := p.deps.Fetcher.Invoke(ctx, it, plan)
			return err
		}},
		{StageFinalize, item.StateFinalized, func(context.Context) error {
			return p.deps.Workspace.Finalize(it)
		}},
		{StageAnnotate, item.StateAnnotated, func(context.Context) error {
			p.deps.Annotator.Annotate(it)
			return nil
		}},
		{StageDeliver, item.StateDelivered, func(ctx context.Context) error {
			receipt, err := p.deps.Gate.Deliver(ctx, p.deps.Uploader, it)
			if err != nil {
				return err
			}
			stats.MergeDelivery(it, receipt.Fields())
			return nil
		}},
		{StageReport, item.StateReported, func(ctx context.Context) error {
			return p.report(ctx, it)
		}},
		{StageRelease, item.StateReleased, func(context.Context) error {
			if p.deps.Release == nil {
				return nil
			}
			return p.deps.Release(it)
		}},
	}
}

// report retries only the completion call; fetch and delivery are never repeated here.
func (p *Pipeline) report(ctx context.Context, it *item.Item) error {
	var err error
	for attempt := 1; attempt <= p.cfg.ReportAttempts; attempt++ {
		if err = p.deps.Reporter.Report(ctx, it); err == nil {
			return nil
		}
		p.logger.Warn("report failed",
			zap.String("item", it.Identifier),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.ReportAttempts),
			zap.Error(err),
		)
		if attempt == p.cfg.ReportAttempts || p.cfg.ReportBackoff <= 0 {
			continue
		}
		timer := time.NewTimer(p.cfg.ReportBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("report: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

func (p *Pipeline) finish(ctx context.Context, it *item.Item, started time.Time, err error) (item.Outcome, error) {
	out := item.Outcome{
		Identifier:    it.Identifier,
		State:         it.State,
		Domains:       it.Domains,
		ContainerBase: it.ContainerBase,
		Bytes:         it.ContainerBytes,
		StartedAt:     started,
		FinishedAt:    p.deps.Clock.Now(),
	}
	if id, idErr := p.deps.IDs.NewID(); idErr == nil {
		out.ID = id
	} else {
		p.logger.Warn("outcome id generation failed", zap.Error(idErr))
	}

	event := EventReleased
	if err != nil {
		it.State = item.StateFailed
		out.State = item.StateFailed
		out.FailedStage = FailedStage(err)
		out.Reason = errors.Unwrap(err).Error()
		event = EventFailed
		p.logger.Error("item failed",
			zap.String("item", it.Identifier),
			zap.String("stage", out.FailedStage),
			zap.String("reason", out.Reason),
			zap.Bool("fatal", IsFatal(err)),
		)
	} else {
		p.logger.Info("item released",
			zap.String("item", it.Identifier),
			zap.Int64("bytes", out.Bytes),
			zap.Duration("elapsed", out.FinishedAt.Sub(started)),
		)
	}

	// Bookkeeping ignores cancellation of ctx.
	bg := context.WithoutCancel(ctx)
	for _, rec := range p.deps.Recorders {
		if recErr := rec.Record(bg, out); recErr != nil {
			p.logger.Warn("record outcome failed", zap.String("item", it.Identifier), zap.Error(recErr))
		}
	}
	if p.deps.Notifier != nil {
		if _, pubErr := p.deps.Notifier.Publish(bg, event, out); pubErr != nil {
			p.logger.Warn("publish outcome failed", zap.String("item", it.Identifier), zap.Error(pubErr))
		}
	}
	if p.deps.Observer != nil {
		p.deps.Observer.ItemFinished(out)
	}
	return out, err
}
