package crawler

import (
	"context"
	"io"
	"time"
)

// Frontier hands out URLs to fetch and admits newly discovered ones.
type Frontier interface {
	AddURL(raw string) bool
	TakeURL(ctx context.Context) (string, bool)
	Release()
	Idle() bool
	Stats() FrontierStats
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Submitter accepts fetched pages for parsing.
type Submitter interface {
	Submit(ctx context.Context, item WorkItem) error
}

// ExcerptSink persists extracted excerpts.
type ExcerptSink interface {
	Save(ctx context.Context, excerpt Excerpt) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Catalog records metadata rows for saved excerpts.
type Catalog interface {
	StoreExcerpt(ctx context.Context, record ExcerptRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// URLPolicy decides whether a URL may enter the frontier.
type URLPolicy interface {
	AllowFetch(url string) bool
}

// RateLimiter blocks until a request to url may proceed.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
