// Package sink persists parsed excerpts: the markup goes to a blob store, the
// name to the overview journal, and optionally a row to the catalog and an
// event to the publisher.
package sink

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/metrics"
)

const (
	contentType = "text/html; charset=utf-8"

	// EventExcerptSaved is published once per saved excerpt.
	EventExcerptSaved = "excerpt.saved"
)

// Journal records saved excerpt names against their source URL.
type Journal interface {
	Append(name, url string) error
}

// Config controls excerpt naming and run tagging.
type Config struct {
	RunID string
	// Prefix is prepended to blob paths.
	Prefix string
}

// Sink implements crawler.ExcerptSink.
type Sink struct {
	blobs     crawler.BlobStore
	journal   Journal
	catalog   crawler.Catalog
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// SavedEvent is the payload published for each excerpt.
type SavedEvent struct {
	RunID   string `json:"run_id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	BlobURI string `json:"blob_uri"`
}

// Option configures optional Sink collaborators.
type Option func(*Sink)

// WithCatalog records a catalog row per excerpt; ids and clock stamp the row.
func WithCatalog(catalog crawler.Catalog, ids crawler.IDGenerator, clock crawler.Clock) Option {
	return func(s *Sink) {
		s.catalog = catalog
		s.ids = ids
		s.clock = clock
	}
}

// WithPublisher emits an EventExcerptSaved notification per excerpt.
func WithPublisher(p crawler.Publisher) Option {
	return func(s *Sink) {
		s.publisher = p
	}
}

// New constructs a Sink.
func New(blobs crawler.BlobStore, journal Journal, cfg Config, logger *zap.Logger, opts ...Option) (*Sink, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if journal == nil {
		return nil, fmt.Errorf("overview journal is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{
		blobs:   blobs,
		journal: journal,
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog != nil && (s.ids == nil || s.clock == nil) {
		return nil, fmt.Errorf("catalog requires an id generator and clock")
	}
	return s, nil
}

// BlobPath returns the object path for an excerpt.
func (s *Sink) BlobPath(e crawler.Excerpt) string {
	name := e.Name() + ".html"
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Save writes the excerpt blob and its overview line. Catalog and publish
// failures are logged and counted but do not fail the save.
func (s *Sink) Save(ctx context.Context, e crawler.Excerpt) error {
	uri, err := s.blobs.PutObject(ctx, s.BlobPath(e), contentType, strings.NewReader(e.Markup))
	if err != nil {
		metrics.ObserveSinkError("blob")
		return fmt.Errorf("put excerpt %s: %w", e.Name(), err)
	}
	if err := s.journal.Append(e.Name(), e.URL); err != nil {
		metrics.ObserveSinkError("overview")
		return fmt.Errorf("journal excerpt %s: %w", e.Name(), err)
	}

	if s.catalog != nil {
		if err := s.storeRecord(ctx, e, uri); err != nil {
			metrics.ObserveSinkError("catalog")
			s.logger.Warn("catalog insert failed", zap.String("excerpt", e.Name()), zap.Error(err))
		}
	}
	if s.publisher != nil {
		event := SavedEvent{RunID: s.cfg.RunID, Name: e.Name(), URL: e.URL, BlobURI: uri}
		if _, err := s.publisher.Publish(ctx, EventExcerptSaved, event); err != nil {
			metrics.ObserveSinkError("publish")
			s.logger.Warn("publish excerpt event failed", zap.String("excerpt", e.Name()), zap.Error(err))
		}
	}
	return nil
}

func (s *Sink) storeRecord(ctx context.Context, e crawler.Excerpt, uri string) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate record id: %w", err)
	}
	record := crawler.ExcerptRecord{
		ID:      id,
		RunID:   s.cfg.RunID,
		Name:    e.Name(),
		URL:     e.URL,
		BlobURI: uri,
		Bytes:   len(e.Markup),
		SavedAt: s.clock.Now(),
	}
	if err := s.catalog.StoreExcerpt(ctx, record); err != nil {
		return fmt.Errorf("store excerpt record: %w", err)
	}
	return nil
}
