// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Excerpt outcomes recorded by the parser pool.
const (
	ExcerptSaved          = "saved"
	ExcerptDisambiguation = "disambiguation"
	ExcerptMissing        = "missing"
	ExcerptFailed         = "failed"
)

// Frontier admission outcomes.
const (
	AdmissionAdmitted  = "admitted"
	AdmissionDuplicate = "duplicate"
	AdmissionFiltered  = "filtered"
	AdmissionInvalid   = "invalid"
)

var (
	crawlerFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetches_total",
			Help: "Total number of page fetches, labeled by site and result.",
		},
		[]string{"site", "result"},
	)

	crawlerBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_bytes_total",
			Help: "Total number of bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	crawlerFetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Histogram of page fetch latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	crawlerActiveFetchers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_fetchers",
			Help: "Number of fetch workers currently running.",
		},
	)

	frontierAdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontier_admissions_total",
			Help: "URLs offered to the frontier, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	frontierSpilledURLsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frontier_spilled_urls_total",
			Help: "URLs moved from memory to the overflow file.",
		},
	)

	frontierRefilledURLsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "frontier_refilled_urls_total",
			Help: "URLs loaded back from the overflow file.",
		},
	)

	frontierPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frontier_pending_urls",
			Help: "URLs waiting to be fetched, labeled by segment (memory, overflow).",
		},
		[]string{"segment"},
	)

	frontierKnown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frontier_known_urls",
			Help: "Size of the seen-set.",
		},
	)

	parserBackpressureWaitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parser_backpressure_waits_total",
			Help: "Times a fetch worker paused because the parse queue was saturated.",
		},
	)

	parserExcerptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parser_excerpts_total",
			Help: "Parsed pages, labeled by excerpt outcome.",
		},
		[]string{"outcome"},
	)

	sinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_errors_total",
			Help: "Excerpt persistence failures, labeled by stage.",
		},
		[]string{"stage"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(site string, ok bool, bytesFetched int, duration time.Duration) {
	sanitizedSite := SanitizeSite(site)
	result := "ok"
	if !ok {
		result = "error"
	}
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, result).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	if duration > 0 {
		crawlerFetchDurationSeconds.Observe(duration.Seconds())
	}
}

// IncActiveFetchers increments the active fetchers gauge.
func IncActiveFetchers() {
	crawlerActiveFetchers.Inc()
}

// DecActiveFetchers decrements the active fetchers gauge.
func DecActiveFetchers() {
	crawlerActiveFetchers.Dec()
}

// ObserveAdmission counts a frontier admission decision.
func ObserveAdmission(outcome string) {
	frontierAdmissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSpill counts URLs moved to the overflow file.
func ObserveSpill(n int) {
	frontierSpilledURLsTotal.Add(float64(n))
}

// ObserveRefill counts URLs loaded back from the overflow file.
func ObserveRefill(n int) {
	frontierRefilledURLsTotal.Add(float64(n))
}

// SetFrontierSizes publishes the current frontier sizes.
func SetFrontierSizes(pending, overflow, known int) {
	frontierPending.WithLabelValues("memory").Set(float64(pending))
	frontierPending.WithLabelValues("overflow").Set(float64(overflow))
	frontierKnown.Set(float64(known))
}

// ObserveBackpressureWait counts one backpressure pause.
func ObserveBackpressureWait() {
	parserBackpressureWaitsTotal.Inc()
}

// ObserveExcerpt counts a parsed page by excerpt outcome.
func ObserveExcerpt(outcome string) {
	parserExcerptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSinkError counts a failed persistence stage (blob, overview, catalog, publish).
func ObserveSinkError(stage string) {
	sinkErrorsTotal.WithLabelValues(stage).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
