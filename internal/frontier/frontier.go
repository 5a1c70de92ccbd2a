// Package frontier implements the URL frontier: the deduplicated,
// memory-bounded backlog of article URLs waiting to be fetched.
//
// A single mutex guards the seen-set, the in-memory queue, the in-flight
// counter and every access to the overflow file, so draining to disk and
// refilling from disk are each one critical section and the file is never
// read while it is being written.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/metrics"
)

const defaultTakeTimeout = 5 * time.Second

// Config controls frontier sizing and timing.
//   - BaseURL: site root used to resolve relative article links.
//   - HighWater: in-memory queue size that triggers a spill; 0 disables spilling.
//   - LowWater: in-memory size left after a spill; HighWater-LowWater is the
//     drain quantum used for both spills and refills.
//   - TakeTimeout: how long TakeURL waits on an empty queue.
//   - OverflowPath: location of the overflow file.
type Config struct {
	BaseURL      string
	HighWater    int
	LowWater     int
	TakeTimeout  time.Duration
	OverflowPath string
}

// Frontier tracks admitted URLs and hands them out to fetch workers.
type Frontier struct {
	cfg     Config
	base    *url.URL
	policy  crawler.URLPolicy
	hasher  crawler.Hasher
	logger  *zap.Logger
	backlog *zap.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	queue    []string
	overflow *overflowFile
	inFlight int
	taken    int64

	// notify wakes one waiting TakeURL; a woken taker re-signals while work
	// remains so every waiter eventually sees it.
	notify chan struct{}
}

// New builds a Frontier. URLs left in the overflow file by an earlier run are
// recovered into the backlog and marked as seen; duplicates and URLs that
// cannot be hashed are dropped from the file.
func New(
	cfg Config,
	policy crawler.URLPolicy,
	hasher crawler.Hasher,
	logger *zap.Logger,
	backlog *zap.Logger,
) (*Frontier, error) {
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if cfg.HighWater < 0 || cfg.LowWater < 0 {
		return nil, fmt.Errorf("water marks must be >= 0")
	}
	if cfg.HighWater > 0 {
		if cfg.LowWater >= cfg.HighWater {
			return nil, fmt.Errorf("low water %d must be below high water %d", cfg.LowWater, cfg.HighWater)
		}
		if cfg.OverflowPath == "" {
			return nil, fmt.Errorf("overflow path is required when high water is set")
		}
	}
	if cfg.TakeTimeout <= 0 {
		cfg.TakeTimeout = defaultTakeTimeout
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
	if backlog == nil {
		backlog = zap.NewNop()
	}

	f := &Frontier{
		cfg:      cfg,
		base:     base,
		policy:   policy,
		hasher:   hasher,
		logger:   logger,
		backlog:  backlog,
		seen:     make(map[string]struct{}),
		overflow: &overflowFile{path: cfg.OverflowPath},
		notify:   make(chan struct{}, 1),
	}

	if cfg.OverflowPath != "" {
		if err := f.overflow.recover(f.admitRecovered); err != nil {
			return nil, fmt.Errorf("recover overflow: %w", err)
		}
		if f.overflow.count > 0 {
			logger.Info("recovered overflow backlog",
				zap.String("path", cfg.OverflowPath),
				zap.Int("urls", f.overflow.count),
			)
		}
	}
	return f, nil
}

// AddURL admits raw into the backlog unless it is invalid, filtered by the
// politeness policy, or already seen. It reports whether raw was admitted.
func (f *Frontier) AddURL(raw string) bool {
	normalized, err := crawler.NormalizeURL(f.base, raw)
	if err != nil {
		metrics.ObserveAdmission(metrics.AdmissionInvalid)
		f.logger.Debug("rejecting invalid url", zap.String("url", raw), zap.Error(err))
		return false
	}
	if f.policy != nil && !f.policy.AllowFetch(normalized) {
		metrics.ObserveAdmission(metrics.AdmissionFiltered)
		return false
	}
	id, err := f.hasher.Hash([]byte(normalized))
	if err != nil {
		metrics.ObserveAdmission(metrics.AdmissionInvalid)
		f.logger.Warn("hash url failed", zap.String("url", normalized), zap.Error(err))
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[id]; ok {
		metrics.ObserveAdmission(metrics.AdmissionDuplicate)
		return false
	}
	f.seen[id] = struct{}{}
	f.queue = append(f.queue, normalized)
	metrics.ObserveAdmission(metrics.AdmissionAdmitted)

	if f.cfg.HighWater > 0 && len(f.queue) > f.cfg.HighWater {
		f.spillLocked()
	}
	f.publishSizesLocked()
	f.signal()
	return true
}

// TakeURL pops the next URL, waiting up to the configured timeout for one to
// arrive. An empty memory queue is refilled from the overflow file first.
// ("", false) means no work was found in the wait window, or ctx ended.
// Each successful take must be paired with a Release.
func (f *Frontier) TakeURL(ctx context.Context) (string, bool) {
	timer := time.NewTimer(f.cfg.TakeTimeout)
	defer timer.Stop()

	for {
		if u, ok := f.next(); ok {
			return u, true
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-f.notify:
		case <-timer.C:
			return f.next()
		}
	}
}

// Release marks one taken URL as fully processed.
func (f *Frontier) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
}

// Idle reports whether nothing is pending, spilled, or in flight.
func (f *Frontier) Idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight == 0 && len(f.queue) == 0 && f.overflow.count == 0
}

// Stats returns a snapshot of the frontier sizes.
func (f *Frontier) Stats() crawler.FrontierStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return crawler.FrontierStats{
		Taken:    f.taken,
		Pending:  len(f.queue),
		Overflow: f.overflow.count,
		Known:    len(f.seen),
		InFlight: f.inFlight,
	}
}

func (f *Frontier) next() (string, bool) {
	f.mu.Lock()
	if len(f.queue) == 0 && f.overflow.count > 0 {
		f.refillLocked()
	}
	if len(f.queue) == 0 {
		f.mu.Unlock()
		return "", false
	}
	u := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	f.inFlight++
	f.taken++
	taken, known := f.taken, len(f.seen)
	more := len(f.queue) > 0
	f.publishSizesLocked()
	f.mu.Unlock()

	if more {
		f.signal()
	}
	f.backlog.Info("backlog", zap.Int64("visited", taken), zap.Int("known", known))
	return u, true
}

// admitRecovered marks a URL from a leftover overflow file as seen and
// reports whether it should stay in the backlog. It runs before the Frontier
// is shared, so no lock is taken.
func (f *Frontier) admitRecovered(u string) bool {
	id, err := f.hasher.Hash([]byte(u))
	if err != nil {
		f.logger.Warn("hash recovered url failed; dropping it", zap.String("url", u), zap.Error(err))
		return false
	}
	if _, ok := f.seen[id]; ok {
		return false
	}
	f.seen[id] = struct{}{}
	return true
}

func (f *Frontier) quantum() int {
	return f.cfg.HighWater - f.cfg.LowWater
}

// spillLocked moves the newest entries to disk, keeping the head of the queue
// in memory. On failure the entries stay in memory.
func (f *Frontier) spillLocked() {
	n := len(f.queue) - f.cfg.LowWater
	if q := f.quantum(); n > q {
		n = q
	}
	if n <= 0 {
		return
	}
	cut := len(f.queue) - n
	tail := f.queue[cut:]
	if err := f.overflow.appendLines(tail); err != nil {
		f.logger.Error("spill to overflow failed; keeping urls in memory",
			zap.String("path", f.overflow.path),
			zap.Int("urls", n),
			zap.Error(err),
		)
		return
	}
	clear(tail)
	f.queue = f.queue[:cut]
	metrics.ObserveSpill(n)
	f.logger.Debug("spilled urls to overflow", zap.Int("urls", n), zap.Int("overflow", f.overflow.count))
}

func (f *Frontier) refillLocked() {
	urls, err := f.overflow.take(f.quantum())
	if err != nil && len(urls) == 0 {
		lost := f.overflow.count
		aside, moveErr := f.overflow.abandon()
		f.logger.Error("refill from overflow failed; abandoning overflow file",
			zap.String("path", f.overflow.path),
			zap.String("moved_to", aside),
			zap.Int("urls", lost),
			zap.Error(errors.Join(err, moveErr)),
		)
		return
	}
	if err != nil {
		f.logger.Warn("drained overflow file was not removed", zap.String("path", f.overflow.path), zap.Error(err))
	}
	f.queue = append(f.queue, urls...)
	metrics.ObserveRefill(len(urls))
	f.logger.Debug("refilled urls from overflow", zap.Int("urls", len(urls)), zap.Int("overflow", f.overflow.count))
}

func (f *Frontier) publishSizesLocked() {
	metrics.SetFrontierSizes(len(f.queue), f.overflow.count, len(f.seen))
}

func (f *Frontier) signal() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}
