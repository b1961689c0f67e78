// Package metrics exposes the Prometheus registry used by the SDK and
// catalogues every metric it exports. Metrics are defined with promauto in
// the packages that record them (client, batch, cache, content, dedupe,
// pagination, ratelimit); this package only documents and serves them.
//
// Example queries:
//
//	# Requests saved by batching
//	sum(rate(m365_batch_entries_total[5m])) - sum(rate(m365_batch_chunks_total[5m]))
//
//	# Content cache hit rate
//	sum(rate(m365_content_fetches_total{source="cache"}[5m])) /
//	sum(rate(m365_content_fetches_total[5m]))
//
//	# P95 request latency
//	histogram_quantile(0.95, rate(m365_request_duration_seconds_bucket[5m]))
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all SDK metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry holds.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Kind is a Prometheus metric type.
type Kind string

const (
	Counter   Kind = "counter"
	Gauge     Kind = "gauge"
	Histogram Kind = "histogram"
)

// Metric describes one exported metric.
type Metric struct {
	Name    string
	Kind    Kind
	Labels  []string
	Package string
}

// Catalogue lists every metric the SDK exports.
var Catalogue = []Metric{
	// client
	{"m365_requests_total", Counter, []string{"method", "status"}, "client"},
	{"m365_request_duration_seconds", Histogram, []string{"method"}, "client"},
	{"m365_errors_total", Counter, []string{"class"}, "client"},
	{"m365_retries_total", Counter, []string{"error_class"}, "client"},
	{"m365_retry_backoff_seconds", Histogram, []string{"error_class"}, "client"},
	{"m365_retry_exhausted_total", Counter, []string{"error_class"}, "client"},

	// batch
	{"m365_batch_flushes_total", Counter, nil, "batch"},
	{"m365_batch_chunks_total", Counter, nil, "batch"},
	{"m365_batch_entries_total", Counter, []string{"method"}, "batch"},
	{"m365_batch_fanout_total", Counter, nil, "batch"},
	{"m365_batch_retries_total", Counter, nil, "batch"},
	{"m365_batch_rejected_total", Counter, nil, "batch"},
	{"m365_batch_bypass_total", Counter, nil, "batch"},

	{"m365_dedupe_calls_total", Counter, []string{"shared"}, "dedupe"},

	// cache
	{"m365_cache_hits_total", Counter, []string{"layer"}, "cache"},
	{"m365_cache_misses_total", Counter, []string{"layer"}, "cache"},
	{"m365_cache_errors_total", Counter, []string{"layer", "operation"}, "cache"},

	{"m365_content_fetches_total", Counter, []string{"source"}, "content"},
	{"m365_pages_fetched_total", Counter, []string{"cursor"}, "pagination"},

	// ratelimit
	{"m365_throttle_waits_total", Counter, nil, "ratelimit"},
	{"m365_throttled_responses_total", Counter, nil, "ratelimit"},
}
