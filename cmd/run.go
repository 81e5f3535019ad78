package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/api"
	"github.com/JakeFAU/fotopedia-grab/internal/clock/system"
	"github.com/JakeFAU/fotopedia-grab/internal/config"
	"github.com/JakeFAU/fotopedia-grab/internal/delivery"
	"github.com/JakeFAU/fotopedia-grab/internal/delivery/rsync"
	"github.com/JakeFAU/fotopedia-grab/internal/dispatcher"
	"github.com/JakeFAU/fotopedia-grab/internal/fetch"
	"github.com/JakeFAU/fotopedia-grab/internal/hash/sha1"
	"github.com/JakeFAU/fotopedia-grab/internal/id/uuid"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/metrics"
	"github.com/JakeFAU/fotopedia-grab/internal/pipeline"
	"github.com/JakeFAU/fotopedia-grab/internal/planner"
	memorypublisher "github.com/JakeFAU/fotopedia-grab/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/fotopedia-grab/internal/publisher/pubsub"
	"github.com/JakeFAU/fotopedia-grab/internal/queue"
	queuememory "github.com/JakeFAU/fotopedia-grab/internal/queue/memory"
	"github.com/JakeFAU/fotopedia-grab/internal/sanity"
	"github.com/JakeFAU/fotopedia-grab/internal/stats"
	"github.com/JakeFAU/fotopedia-grab/internal/storage/gcs"
	"github.com/JakeFAU/fotopedia-grab/internal/storage/local"
	"github.com/JakeFAU/fotopedia-grab/internal/storage/memory"
	"github.com/JakeFAU/fotopedia-grab/internal/storage/postgres"
	"github.com/JakeFAU/fotopedia-grab/internal/tracker"
	"github.com/JakeFAU/fotopedia-grab/internal/worker"
	"github.com/JakeFAU/fotopedia-grab/internal/workspace"
)

type runOptions struct {
	items   []string
	offline bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [identifier...]",
		Short: "Claim and archive items",
		Long: `Runs worker loops that claim items from the tracker and drive each one through
sanity check, capture, finalization, delivery and completion report.

Identifiers passed with --item or as arguments are processed instead of claiming
from the tracker; the run ends once they have all been released or failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.items = append(opts.items, args...)
			return runGrab(cmd.Context(), *opts)
		},
	}
	cmd.Flags().StringArrayVar(&opts.items, "item", nil, "process this identifier instead of claiming (repeatable)")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "never contact the tracker; needs --item and a local or gcs provider")
	return cmd
}

func runGrab(ctx context.Context, opts runOptions) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	if opts.offline {
		if len(opts.items) == 0 {
			return errors.New("--offline needs at least one identifier")
		}
		if cfg.Delivery.Provider == config.ProviderRsync {
			return errors.New("--offline cannot deliver with rsync; the upload target comes from the tracker")
		}
	}
	metrics.Init()

	var tc *tracker.Client
	if !opts.offline {
		tc, err = tracker.New(tracker.Config{
			URL:           cfg.TrackerURL(),
			Downloader:    cfg.Worker.Downloader,
			Version:       cfg.Project.Version,
			ClaimInterval: cfg.ClaimInterval(),
			Backoff:       cfg.TrackerBackoff(),
			Timeout:       cfg.TrackerTimeout(),
		}, logger.Named("tracker"))
		if err != nil {
			return fmt.Errorf("init tracker client: %w", err)
		}
		tc.Limiter().OnDelay = metrics.ObserveRateLimitDelay
	}

	svc, err := buildServices(ctx, cfg, tc, opts.offline, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	var source queue.Source = tc
	if len(opts.items) > 0 {
		source = queuememory.FromIdentifiers(opts.items)
		logger.Info("processing listed items", zap.Int("items", len(opts.items)))
	}

	runners := make([]dispatcher.Runner, 0, cfg.Worker.Concurrency)
	for i := range cfg.Worker.Concurrency {
		runners = append(runners, worker.New(i, source, gaugedProcessor{svc.pipeline}, worker.Config{
			IdleBackoff: cfg.IdleBackoff(),
			ItemRetries: cfg.Worker.ItemRetries,
			RetryDelay:  cfg.ItemRetryDelay(),
		}, logger.Named("worker")))
	}

	if cfg.Server.Enabled {
		stopServer := serveStatus(cfg, svc, logger)
		defer stopServer()
	}

	logger.Info("grab started",
		zap.String("version", cfg.Project.Version),
		zap.Int("workers", cfg.Worker.Concurrency),
		zap.String("delivery", cfg.Delivery.Provider),
		zap.Bool("offline", opts.offline),
	)
	runErr := dispatcher.New(runners, logger.Named("dispatcher")).Run(ctx)

	totals := svc.board.Totals()
	logger.Info("grab stopped",
		zap.Int("released", totals[item.StateReleased]),
		zap.Int("failed", totals[item.StateFailed]),
	)
	if runErr != nil {
		return runErr
	}
	if len(opts.items) > 0 && totals[item.StateFailed] > 0 {
		return fmt.Errorf("%d of %d listed items failed", totals[item.StateFailed], len(opts.items))
	}
	return nil
}

type services struct {
	pipeline *pipeline.Pipeline
	board    *memory.Board
	checks   []api.ReadinessCheck
	closers  []func()
}

// Close releases resources in reverse order of acquisition.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildServices(
	ctx context.Context,
	cfg config.Config,
	tc *tracker.Client,
	offline bool,
	logger *zap.Logger,
) (*services, error) {
	svc := &services{board: memory.NewBoard(memory.DefaultCapacity)}
	built := false
	defer func() {
		if !built {
			svc.Close()
		}
	}()

	binary, err := fetch.Locate(ctx, cfg.Fetch.Binaries, cfg.Fetch.VersionString)
	if err != nil {
		return nil, fmt.Errorf("locate fetch tool: %w", err)
	}
	logger.Info("fetch tool located", zap.String("binary", binary))
	invoker, err := newInvoker(cfg, binary, logger)
	if err != nil {
		return nil, err
	}
	invoker.ExitObserver = metrics.ObserveFetchExit

	hasher := sha1.New()
	ws, err := workspace.New(workspace.Config{
		DataDir:   cfg.Worker.DataDir,
		SharedDir: cfg.SharedDir(),
		Prefix:    cfg.Project.WarcPrefix,
	}, hasher, system.New(), logger.Named("workspace"))
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	annotator, err := stats.New(stats.Config{
		Downloader:   cfg.Worker.Downloader,
		Version:      cfg.Project.Version,
		PipelineFile: cfg.Fetch.PipelineFile,
		LuaScript:    cfg.Fetch.LuaScript,
	}, hasher)
	if err != nil {
		return nil, fmt.Errorf("init stats: %w", err)
	}

	gate, err := delivery.NewGate(cfg.Delivery.Threads)
	if err != nil {
		return nil, fmt.Errorf("init delivery gate: %w", err)
	}
	gate.Observe = metrics.SetDeliveriesInFlight

	uploader, err := newUploader(ctx, cfg, tc, svc, logger)
	if err != nil {
		return nil, err
	}

	recorders := []pipeline.Recorder{svc.board}
	if cfg.Ledger.DSN != "" {
		ledger, lerr := postgres.NewLedger(ctx, postgres.LedgerConfig{
			DSN:      cfg.Ledger.DSN,
			Table:    cfg.Ledger.Table,
			MaxConns: cfg.Ledger.MaxConns,
		})
		if lerr != nil {
			return nil, fmt.Errorf("init ledger: %w", lerr)
		}
		svc.closers = append(svc.closers, ledger.Close)
		if lerr := ledger.EnsureSchema(ctx); lerr != nil {
			return nil, fmt.Errorf("ensure ledger schema: %w", lerr)
		}
		recorders = append(recorders, ledger)
		svc.checks = append(svc.checks, ledger.Ping)
	}

	notifier, err := newNotifier(ctx, cfg, offline, svc, logger)
	if err != nil {
		return nil, err
	}

	var reporter pipeline.Reporter = logReporter{logger: logger.Named("report")}
	if tc != nil {
		reporter = tc
	}

	proc, err := pipeline.New(pipeline.Deps{
		Planner: planner.New(planner.WithOdds(cfg.Fetch.WidenOdds)),
		Sanity: sanity.New(logger.Named("sanity"),
			sanity.WithHosts(cfg.Sanity.Hosts),
			sanity.WithInterval(cfg.Sanity.Interval),
		),
		Workspace: ws,
		Fetcher:   invoker,
		Annotator: annotator,
		Gate:      gate,
		Uploader:  uploader,
		Reporter:  reporter,
		Release:   ws.Release,
		Recorders: recorders,
		Notifier:  notifier,
		Observer:  metrics.NewObserver(),
		Clock:     system.New(),
		IDs:       uuid.New(),
	}, pipeline.Config{
		ReportAttempts: cfg.Tracker.ReportAttempts,
		ReportBackoff:  cfg.ReportBackoff(),
	}, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	svc.pipeline = proc
	built = true
	return svc, nil
}

func newInvoker(cfg config.Config, binary string, logger *zap.Logger) (*fetch.Invoker, error) {
	inv, err := fetch.New(fetch.Config{
		Binary:      binary,
		LuaScript:   cfg.Fetch.LuaScript,
		UserAgent:   cfg.Project.UserAgent,
		Project:     cfg.Project.Name,
		Version:     cfg.Project.Version,
		Operator:    cfg.Project.Operator,
		BindAddress: cfg.Fetch.BindAddress,
		Timeout:     cfg.FetchTimeout(),
		WaitRetry:   cfg.FetchWaitRetry(),
		MaxTries:    cfg.Fetch.MaxTries,
		RetryDelay:  cfg.FetchRetryDelay(),
		AcceptCodes: cfg.Fetch.AcceptExitCodes,
	}, logger.Named("fetch"))
	if err != nil {
		return nil, fmt.Errorf("init fetch invoker: %w", err)
	}
	return inv, nil
}

func newUploader(
	ctx context.Context,
	cfg config.Config,
	tc *tracker.Client,
	svc *services,
	logger *zap.Logger,
) (delivery.Uploader, error) {
	switch cfg.Delivery.Provider {
	case config.ProviderLocal:
		up, err := local.New(local.Config{BaseDir: cfg.Delivery.Local.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local uploader: %w", err)
		}
		return up, nil
	case config.ProviderGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		svc.closers = append(svc.closers, func() {
			if cerr := client.Close(); cerr != nil {
				logger.Warn("close gcs client", zap.Error(cerr))
			}
		})
		up, err := gcs.New(client, gcs.Config{Bucket: cfg.Delivery.GCS.Bucket, Prefix: cfg.Delivery.GCS.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs uploader: %w", err)
		}
		return up, nil
	default:
		if tc == nil {
			return nil, errors.New("rsync delivery needs the tracker for upload targets")
		}
		up, err := rsync.New(rsync.Config{
			Binary:         cfg.Delivery.Rsync.Binary,
			SourceDir:      cfg.SharedDir(),
			ExtraArgs:      cfg.Delivery.Rsync.ExtraArgs,
			BandwidthLimit: cfg.Delivery.Rsync.BandwidthLimit,
		}, tc, logger.Named("rsync"))
		if err != nil {
			return nil, fmt.Errorf("init rsync uploader: %w", err)
		}
		return up, nil
	}
}

func newNotifier(
	ctx context.Context,
	cfg config.Config,
	offline bool,
	svc *services,
	logger *zap.Logger,
) (pipeline.Notifier, error) {
	if cfg.Notify.Topic == "" {
		if offline {
			return memorypublisher.New(), nil
		}
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.Notify.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(cfg.Notify.Topic))
	svc.closers = append(svc.closers, func() {
		pub.Stop()
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close pubsub client", zap.Error(cerr))
		}
	})
	return pub, nil
}

func serveStatus(cfg config.Config, svc *services, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(svc.board, cfg.Server, logger.Named("api"), svc.checks...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}
}

// gaugedProcessor tracks how many workers are busy with an item.
type gaugedProcessor struct {
	next worker.Processor
}

func (g gaugedProcessor) Process(ctx context.Context, identifier string) (item.Outcome, error) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	return g.next.Process(ctx, identifier)
}

// logReporter stands in for the tracker when running offline.
type logReporter struct {
	logger *zap.Logger
}

func (r logReporter) Report(_ context.Context, it *item.Item) error {
	r.logger.Info("item complete", zap.String("item", it.Identifier), zap.Any("stats", it.Stats))
	return nil
}
