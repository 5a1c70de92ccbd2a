// Package pipeline wires the frontier, fetch workers and parser pool into one
// crawl run and owns its lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/worker"
)

// ErrNoWork is returned when no seed was admitted and nothing was recovered.
var ErrNoWork = errors.New("frontier has no work: no seed admitted")

// ParserPool is the parse stage as the coordinator drives it.
type ParserPool interface {
	crawler.Submitter
	Start(ctx context.Context)
	Close()
	Wait()
	Len() int
}

// Config controls a crawl run.
type Config struct {
	RunID            string
	Seeds            []string
	FetchWorkers     int
	StrictCompletion bool
	Worker           worker.Config
}

// Progress is a live view of a run.
type Progress struct {
	RunID          string                `json:"run_id"`
	StartedAt      time.Time             `json:"started_at"`
	Running        bool                  `json:"running"`
	ActiveFetchers int64                 `json:"active_fetchers"`
	ParseQueue     int                   `json:"parse_queue"`
	Frontier       crawler.FrontierStats `json:"frontier"`
}

// Coordinator starts the pools, waits for the fetchers to run dry, then
// drains the parser pool.
type Coordinator struct {
	cfg      Config
	frontier crawler.Frontier
	fetcher  crawler.Fetcher
	parser   ParserPool
	limiter  crawler.RateLimiter
	logger   *zap.Logger
	logs     worker.Loggers

	startedAt atomic.Value // time.Time
	running   atomic.Bool
	active    atomic.Int64
}

// New constructs a Coordinator. limiter may be nil.
func New(
	cfg Config,
	frontier crawler.Frontier,
	fetcher crawler.Fetcher,
	parser ParserPool,
	limiter crawler.RateLimiter,
	logger *zap.Logger,
	logs worker.Loggers,
) (*Coordinator, error) {
	if cfg.FetchWorkers <= 0 {
		return nil, fmt.Errorf("fetch workers must be > 0")
	}
	if frontier == nil || fetcher == nil || parser == nil {
		return nil, fmt.Errorf("frontier, fetcher and parser are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Worker.StrictCompletion = cfg.StrictCompletion
	return &Coordinator{
		cfg:      cfg,
		frontier: frontier,
		fetcher:  fetcher,
		parser:   parser,
		limiter:  limiter,
		logger:   logger,
		logs:     logs,
	}, nil
}

// Run seeds the frontier and blocks until the crawl is exhausted or ctx ends.
func (c *Coordinator) Run(ctx context.Context) (crawler.RunSummary, error) {
	start := time.Now()
	c.startedAt.Store(start)

	admitted := 0
	for _, seed := range c.cfg.Seeds {
		if c.frontier.AddURL(seed) {
			admitted++
		}
	}
	c.logger.Info("frontier seeded", zap.Int("seeds", len(c.cfg.Seeds)), zap.Int("admitted", admitted))
	if c.frontier.Idle() {
		return crawler.RunSummary{RunID: c.cfg.RunID}, ErrNoWork
	}

	c.running.Store(true)
	defer c.running.Store(false)

	c.parser.Start(ctx)

	var wg sync.WaitGroup
	for i := range c.cfg.FetchWorkers {
		w := worker.New(i, c.frontier, c.fetcher, c.parser, c.limiter, c.cfg.Worker,
			c.logger.Named("fetcher"), c.logs)
		wg.Add(1)
		c.active.Add(1)
		go func() {
			defer wg.Done()
			defer c.active.Add(-1)
			w.Run(ctx)
		}()
	}
	wg.Wait()
	c.logger.Info("fetch workers finished; draining parser queue", zap.Int("queued", c.parser.Len()))

	c.parser.Close()
	c.parser.Wait()

	summary := crawler.RunSummary{
		RunID:    c.cfg.RunID,
		Frontier: c.frontier.Stats(),
		Elapsed:  time.Since(start),
	}
	c.logger.Info("crawl finished",
		zap.String("run_id", summary.RunID),
		zap.Int64("visited", summary.Frontier.Taken),
		zap.Int("known", summary.Frontier.Known),
		zap.Int("pending", summary.Frontier.Pending+summary.Frontier.Overflow),
		zap.Duration("elapsed", summary.Elapsed),
	)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	return summary, nil
}

// Progress returns a snapshot for status reporting.
func (c *Coordinator) Progress() Progress {
	p := Progress{
		RunID:          c.cfg.RunID,
		Running:        c.running.Load(),
		ActiveFetchers: c.active.Load(),
		ParseQueue:     c.parser.Len(),
		Frontier:       c.frontier.Stats(),
	}
	if t, ok := c.startedAt.Load().(time.Time); ok {
		p.StartedAt = t
	}
	return p
}

// Running reports whether the crawl is in progress.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}
