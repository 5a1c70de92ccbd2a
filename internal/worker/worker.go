// Package worker implements the fetch loop: take a URL from the frontier,
// fetch it, and hand the page to the parser pool.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// StrictCompletion keeps the worker alive after an empty take while the
	// frontier still has work in flight.
	StrictCompletion bool
	Headers          http.Header
}

// Loggers are the operator logs a worker writes to. Nil loggers are discarded.
type Loggers struct {
	Processed *zap.Logger
	Network   *zap.Logger
}

// Worker is one fetch worker.
type Worker struct {
	id        int
	frontier  crawler.Frontier
	fetcher   crawler.Fetcher
	submitter crawler.Submitter
	limiter   crawler.RateLimiter
	cfg       Config
	logger    *zap.Logger
	processed *zap.Logger
	network   *zap.Logger
}

// New constructs a Worker. limiter may be nil.
func New(
	id int,
	frontier crawler.Frontier,
	fetcher crawler.Fetcher,
	submitter crawler.Submitter,
	limiter crawler.RateLimiter,
	cfg Config,
	logger *zap.Logger,
	logs Loggers,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if logs.Processed == nil {
		logs.Processed = zap.NewNop()
	}
	if logs.Network == nil {
		logs.Network = zap.NewNop()
	}
	return &Worker{
		id:        id,
		frontier:  frontier,
		fetcher:   fetcher,
		submitter: submitter,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger.With(zap.Int("fetcher", id)),
		processed: logs.Processed,
		network:   logs.Network,
	}
}

// Run blocks, fetching URLs until the frontier runs dry or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveFetchers()
	defer metrics.DecActiveFetchers()

	for {
		if ctx.Err() != nil {
			return
		}
		url, ok := w.frontier.TakeURL(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			if !w.cfg.StrictCompletion || w.frontier.Idle() {
				w.logger.Debug("frontier empty; fetcher exiting")
				return
			}
			continue
		}
		if err := w.handleURL(ctx, url); err != nil {
			w.frontier.Release()
			w.logger.Warn("skipping url", zap.String("url", url), zap.Error(err))
		}
	}
}

// handleURL fetches url and submits it to the parser. On success the parser
// owns the frontier release; on error the caller releases.
func (w *Worker) handleURL(ctx context.Context, url string) error {
	w.processed.Info(url)

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, url); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	start := time.Now()
	resp, err := w.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url, Headers: w.cfg.Headers})
	elapsed := time.Since(start)
	if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	metrics.ObserveFetch(url, err == nil, len(resp.Body), elapsed)
	w.network.Info("fetch",
		zap.String("url", url),
		zap.Duration("elapsed", elapsed),
		zap.Bool("ok", err == nil),
	)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	finalURL := resp.URL
	if finalURL == "" {
		finalURL = url
	}
	if err := w.submitter.Submit(ctx, crawler.WorkItem{URL: finalURL, Content: string(resp.Body)}); err != nil {
		return fmt.Errorf("submit to parser: %w", err)
	}
	return nil
}
