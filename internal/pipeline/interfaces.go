package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/fotopedia-grab/internal/delivery"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/planner"
)

// Planner resolves a target into URLs and a domain allow-list.
type Planner interface {
	Plan(target item.Target) (planner.Plan, error)
}

// Sanity guards the run before an item touches the network.
type Sanity interface {
	Check(ctx context.Context) error
}

// Workspace prepares and finalizes the per-item directory.
type Workspace interface {
	Prepare(it *item.Item) error
	Finalize(it *item.Item) error
}

// Fetcher runs the external capture tool.
type Fetcher interface {
	Invoke(ctx context.Context, it *item.Item, plan planner.Plan) (int, error)
}

// Annotator stamps stats onto an item.
type Annotator interface {
	Annotate(it *item.Item)
}

// Gate admits deliveries under the concurrency budget.
type Gate interface {
	Deliver(ctx context.Context, up delivery.Uploader, it *item.Item) (delivery.Receipt, error)
}

// Reporter confirms completion upstream.
type Reporter interface {
	Report(ctx context.Context, it *item.Item) error
}

// Recorder persists finished outcomes.
type Recorder interface {
	Record(ctx context.Context, out item.Outcome) error
}

// Notifier announces finished outcomes.
type Notifier interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator names outcome records.
type IDGenerator interface {
	NewID() (string, error)
}

// Observer receives stage timings and finished outcomes.
type Observer interface {
	StageFinished(stage string, elapsed time.Duration, err error)
	ItemFinished(out item.Outcome)
}
