package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// WorkItem is a fetched page waiting for the parser pool.
type WorkItem struct {
	URL     string
	Content string
}

// Excerpt is the introductory paragraph saved for one crawled article.
type Excerpt struct {
	Worker int
	Seq    int
	URL    string
	Markup string
}

// Name identifies the excerpt within a crawl run, e.g. "2-17".
func (e Excerpt) Name() string {
	return fmt.Sprintf("%d-%d", e.Worker, e.Seq)
}

// ExcerptRecord is the catalog row written for each saved excerpt.
type ExcerptRecord struct {
	ID      string
	RunID   string
	Name    string
	URL     string
	BlobURI string
	Bytes   int
	SavedAt time.Time
}

// FrontierStats is a point-in-time snapshot of frontier sizes.
type FrontierStats struct {
	Taken    int64 `json:"taken"`
	Pending  int   `json:"pending"`
	Overflow int   `json:"overflow"`
	Known    int   `json:"known"`
	InFlight int   `json:"in_flight"`
}

// RunSummary is returned by the pipeline once a crawl finishes.
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Frontier FrontierStats `json:"frontier"`
	Elapsed  time.Duration `json:"elapsed"`
}
