// Package server builds the crawl application from configuration and owns its
// lifecycle: dependency wiring, the optional status server and shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/api"
	pgcatalog "github.com/JakeFAU/wikicrawl/internal/catalog/postgres"
	"github.com/JakeFAU/wikicrawl/internal/clock/system"
	"github.com/JakeFAU/wikicrawl/internal/config"
	"github.com/JakeFAU/wikicrawl/internal/crawler"
	collyfetcher "github.com/JakeFAU/wikicrawl/internal/fetcher/colly"
	"github.com/JakeFAU/wikicrawl/internal/frontier"
	"github.com/JakeFAU/wikicrawl/internal/hash/sha256"
	"github.com/JakeFAU/wikicrawl/internal/id/uuid"
	"github.com/JakeFAU/wikicrawl/internal/logging"
	"github.com/JakeFAU/wikicrawl/internal/parser"
	"github.com/JakeFAU/wikicrawl/internal/pipeline"
	"github.com/JakeFAU/wikicrawl/internal/policy/namespace"
	"github.com/JakeFAU/wikicrawl/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/wikicrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/wikicrawl/internal/sink"
	gcsstorage "github.com/JakeFAU/wikicrawl/internal/storage/gcs"
	localstorage "github.com/JakeFAU/wikicrawl/internal/storage/local"
	memorystorage "github.com/JakeFAU/wikicrawl/internal/storage/memory"
	"github.com/JakeFAU/wikicrawl/internal/worker"
)

// EventRunFinished is published once with the run summary.
const EventRunFinished = "run.finished"

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	runID       string
	frontier    *frontier.Frontier
	coordinator *pipeline.Coordinator
	apiServer   *api.Server
	publisher   crawler.Publisher

	overview        *sink.Overview
	logClosers      []func() error
	storage         *storage.Client
	catalog         *pgcatalog.Catalog
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
}

// Option customizes Build.
type Option func(*App)

// WithPublisher overrides the Pub/Sub publisher built from configuration.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *App) {
		a.publisher = p
	}
}

// Build creates the application's dependencies. Only invalid configuration or
// an unusable output directory is fatal; optional backends that are not
// configured are skipped.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ids := uuid.New()
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	app := &App{cfg: cfg, logger: logger.With(zap.String("run_id", runID)), runID: runID}
	for _, opt := range opts {
		opt(app)
	}
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure()
		}
	}()

	if err := os.MkdirAll(cfg.Output.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	processed, err := app.fileLogger(cfg.Output.ProcessedLog)
	if err != nil {
		return nil, err
	}
	network, err := app.fileLogger(cfg.Output.NetworkLog)
	if err != nil {
		return nil, err
	}
	backlog, err := app.fileLogger(cfg.Output.BacklogLog)
	if err != nil {
		return nil, err
	}

	if app.frontier, err = setupFrontier(cfg, app.logger.Named("frontier"), backlog); err != nil {
		return nil, err
	}

	blobStore, sinkPrefix, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if app.overview, err = sink.OpenOverview(cfg.OutputPath(cfg.Output.OverviewFile)); err != nil {
		return nil, fmt.Errorf("open overview log: %w", err)
	}

	sinkOpts, err := setupCatalog(ctx, app, ids)
	if err != nil {
		return nil, err
	}
	if err := setupPublisher(ctx, app); err != nil {
		return nil, err
	}
	if app.publisher != nil {
		sinkOpts = append(sinkOpts, sink.WithPublisher(app.publisher))
	}
	excerptSink, err := sink.New(blobStore, app.overview, sink.Config{RunID: runID, Prefix: sinkPrefix},
		app.logger.Named("sink"), sinkOpts...)
	if err != nil {
		return nil, fmt.Errorf("excerpt sink init failed: %w", err)
	}

	pool, err := parser.New(parser.Config{
		Workers:               cfg.Parser.Workers,
		QueueCapacity:         cfg.Parser.QueueCapacity,
		BackpressureThreshold: cfg.Parser.BackpressureThreshold,
		BackpressurePause:     cfg.Parser.BackpressurePause,
		BaseURL:               cfg.Crawler.BaseURL,
		StartSeq:              app.overview.NextSeq,
	}, app.frontier, excerptSink, app.logger.Named("parser"))
	if err != nil {
		return nil, fmt.Errorf("parser pool init failed: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:           cfg.Crawler.UserAgent,
		Timeout:             cfg.Crawler.Timeout,
		MaxIdleConnsPerHost: cfg.Crawler.MaxIdleConnsPerHost,
	})
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Crawler.UserAgent),
		zap.Duration("timeout", cfg.Crawler.Timeout),
	)

	app.coordinator, err = pipeline.New(pipeline.Config{
		RunID:            runID,
		Seeds:            cfg.Crawler.Seeds,
		FetchWorkers:     cfg.Crawler.FetchWorkers,
		StrictCompletion: cfg.Crawler.StrictCompletion,
	}, app.frontier, fetcher, pool, setupRateLimiter(app), app.logger.Named("pipeline"),
		worker.Loggers{Processed: processed, Network: network})
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	if cfg.Server.Enabled {
		app.apiServer = api.NewServer(app.coordinator, app.logger.Named("api"))
	}

	ok = true
	return app, nil
}

// RunID identifies this crawl run.
func (a *App) RunID() string {
	return a.runID
}

// Run crawls until the frontier is exhausted or a signal arrives.
func (a *App) Run(ctx context.Context) (crawler.RunSummary, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("status server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("status server error", zap.Error(err))
			}
		}()
	}

	a.logger.Info("crawl started", zap.Int("seeds", len(a.cfg.Crawler.Seeds)))
	summary, runErr := a.coordinator.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("status server shutdown error", zap.Error(err))
		}
		cancel()
	}

	if a.publisher != nil && !errors.Is(runErr, pipeline.ErrNoWork) {
		publishCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if _, err := a.publisher.Publish(publishCtx, EventRunFinished, summary); err != nil {
			a.logger.Warn("publish run summary failed", zap.Error(err))
		}
		cancel()
	}
	return summary, runErr
}

// Close releases every resource Build acquired.
func (a *App) Close() error {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
	if a.overview != nil {
		if err := a.overview.Close(); err != nil {
			a.logger.Warn("overview log close failed", zap.Error(err))
		}
	}
	for _, closeFn := range a.logClosers {
		if err := closeFn(); err != nil {
			a.logger.Warn("operator log close failed", zap.Error(err))
		}
	}
	a.logClosers = nil
}

func (a *App) fileLogger(name string) (*zap.Logger, error) {
	logger, closeFn, err := logging.NewFileLogger(logging.FileConfig{
		Path:       a.cfg.OutputPath(name),
		MaxSizeMB:  a.cfg.Output.LogMaxSizeMB,
		MaxBackups: a.cfg.Output.LogBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("open operator log %s: %w", name, err)
	}
	a.logClosers = append(a.logClosers, closeFn)
	return logger, nil
}

func setupFrontier(cfg config.Config, logger, backlog *zap.Logger) (*frontier.Frontier, error) {
	hasher, err := sha256.NewTruncated(cfg.Frontier.HashWidth)
	if err != nil {
		return nil, fmt.Errorf("hasher init failed: %w", err)
	}
	policy, err := namespace.New(cfg.Frontier.Filters)
	if err != nil {
		return nil, fmt.Errorf("politeness filter init failed: %w", err)
	}
	f, err := frontier.New(frontier.Config{
		BaseURL:      cfg.Crawler.BaseURL,
		HighWater:    cfg.Frontier.HighWater,
		LowWater:     cfg.Frontier.LowWater,
		TakeTimeout:  cfg.Frontier.TakeTimeout,
		OverflowPath: cfg.OutputPath(cfg.Frontier.OverflowFile),
	}, policy, hasher, logger, backlog)
	if err != nil {
		return nil, fmt.Errorf("frontier init failed: %w", err)
	}
	logger.Info("frontier ready",
		zap.Int("high_water", cfg.Frontier.HighWater),
		zap.Int("low_water", cfg.Frontier.LowWater),
		zap.Int("filters", len(cfg.Frontier.Filters)),
	)
	return f, nil
}

// setupStorage returns the blob store and the path prefix the sink should use.
func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, string, error) {
	cfg := app.cfg
	switch cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: path.Join(cfg.Storage.Prefix, app.runID),
		})
		if err != nil {
			return nil, "", fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", cfg.Storage.GCSBucket))
		return blobStore, "", nil
	case config.BackendMemory:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), cfg.Storage.Prefix, nil
	default:
		app.logger.Info("using local storage backend", zap.String("path", cfg.Output.Dir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: cfg.Output.Dir})
		if err != nil {
			return nil, "", fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, cfg.Storage.Prefix, nil
	}
}

func setupCatalog(ctx context.Context, app *App, ids crawler.IDGenerator) ([]sink.Option, error) {
	cfg := app.cfg.Catalog
	if cfg.DSN == "" {
		app.logger.Info("no catalog DSN configured, skipping excerpt catalog")
		return nil, nil
	}
	var err error
	app.catalog, err = pgcatalog.New(ctx, pgcatalog.Config{
		DSN:      cfg.DSN,
		Table:    cfg.Table,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}
	if cfg.EnsureSchema {
		if err := app.catalog.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("catalog schema: %w", err)
		}
	}
	app.logger.Info("excerpt catalog initialized", zap.String("table", cfg.Table))
	return []sink.Option{sink.WithCatalog(app.catalog, ids, system.New())}, nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.publisher != nil {
		return nil
	}
	cfg := app.cfg.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, excerpt notifications disabled")
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient.Publisher(cfg.TopicName))
	app.publisher = app.pubsubPublisher
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return nil
}

func setupRateLimiter(app *App) crawler.RateLimiter {
	rl := app.cfg.Crawler.RateLimit
	if !rl.Enabled {
		app.logger.Info("rate limiter disabled")
		return nil
	}
	app.logger.Info("rate limiter enabled",
		zap.Float64("requests_per_second", rl.RequestsPerSecond),
		zap.Int("burst", rl.Burst),
	)
	return ratelimit.New(ratelimit.Config{
		DefaultRPS:   rl.RequestsPerSecond,
		DefaultBurst: rl.Burst,
	})
}
