// Package parser runs the extraction workers that sit between fetching and
// persistence. Fetch workers Submit pages; parser workers pull them off a
// bounded queue, feed discovered links back to the frontier and save the
// introductory paragraph.
package parser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/extract"
	"github.com/JakeFAU/wikicrawl/internal/metrics"
	"github.com/JakeFAU/wikicrawl/internal/queue/memory"
)

// Config controls pool sizing and backpressure.
type Config struct {
	Workers               int
	QueueCapacity         int
	BackpressureThreshold int
	BackpressurePause     time.Duration
	// BaseURL resolves the relative article links found in page markup.
	BaseURL               string
	// StartSeq, when set, gives each worker's first excerpt sequence number
	// so a rerun does not reuse names from an earlier one.
	StartSeq              func(worker int) int
}

// Frontier is the part of the URL frontier the parser needs.
type Frontier interface {
	AddURL(raw string) bool
	Release()
}

// Pool is a fixed set of parser workers over a bounded queue.
type Pool struct {
	cfg      Config
	base     *url.URL
	queue    *memory.Queue
	frontier Frontier
	sink     crawler.ExcerptSink
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// New constructs a Pool. Workers are started with Start.
func New(cfg Config, frontier Frontier, sink crawler.ExcerptSink, logger *zap.Logger) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("parser workers must be > 0")
	}
	if frontier == nil || sink == nil {
		return nil, fmt.Errorf("frontier and sink are required")
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1
	}
	var base *url.URL
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		base = parsed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		base:     base,
		queue:    memory.NewQueue(cfg.QueueCapacity),
		frontier: frontier,
		sink:     sink,
		logger:   logger,
	}, nil
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	for i := range p.cfg.Workers {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Submit hands a fetched page to the pool. When the queue is above the
// backpressure threshold the caller pauses first; a full queue blocks.
// The item is never dropped unless ctx ends or the pool is closed.
func (p *Pool) Submit(ctx context.Context, item crawler.WorkItem) error {
	if p.cfg.BackpressureThreshold > 0 && p.queue.Len() > p.cfg.BackpressureThreshold {
		metrics.ObserveBackpressureWait()
		timer := time.NewTimer(p.cfg.BackpressurePause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("backpressure pause: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := p.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("submit %s: %w", item.URL, err)
	}
	return nil
}

// Len reports the number of queued pages.
func (p *Pool) Len() int {
	return p.queue.Len()
}

// Close stops accepting pages. Queued pages are still processed.
func (p *Pool) Close() {
	p.queue.Close()
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("parser", id))
	seq := 0
	if p.cfg.StartSeq != nil {
		seq = p.cfg.StartSeq(id)
	}
	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) && ctx.Err() == nil {
				logger.Error("dequeue failed", zap.Error(err))
			}
			return
		}
		if p.process(ctx, logger, id, seq, item) {
			seq++
		}
	}
}

// process handles one page and reports whether an excerpt was saved.
func (p *Pool) process(ctx context.Context, logger *zap.Logger, id, seq int, item crawler.WorkItem) bool {
	defer p.frontier.Release()

	for _, link := range extract.Links(p.base, item.Content) {
		p.frontier.AddURL(link)
	}

	para, ok := extract.FirstParagraph(item.Content)
	if !ok {
		metrics.ObserveExcerpt(metrics.ExcerptMissing)
		return false
	}
	if extract.IsDisambiguation(para) {
		metrics.ObserveExcerpt(metrics.ExcerptDisambiguation)
		logger.Debug("skipping disambiguation page", zap.String("url", item.URL))
		return false
	}

	excerpt := crawler.Excerpt{Worker: id, Seq: seq, URL: item.URL, Markup: para.Markup}
	if err := p.sink.Save(ctx, excerpt); err != nil {
		metrics.ObserveExcerpt(metrics.ExcerptFailed)
		logger.Error("save excerpt failed", zap.String("url", item.URL), zap.Error(err))
		return false
	}
	metrics.ObserveExcerpt(metrics.ExcerptSaved)
	return true
}
