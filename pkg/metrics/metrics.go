// Package metrics defines the Prometheus metric collectors used across the
// query execution core and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the query execution core.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	CBSBlocksDecompressedTotal prometheus.Counter
	CBSCorruptBlockTotal       prometheus.Counter
	CBSBytesReadTotal          prometheus.Counter

	BlockCacheHitsTotal    prometheus.Counter
	BlockCacheMissesTotal  prometheus.Counter
	BlockCacheBytesInUse   prometheus.Gauge
	BlockCacheEvictedTotal prometheus.Counter

	PSSIterationsTotal    *prometheus.HistogramVec
	PSSQueueOverflowTotal prometheus.Counter

	DARDocumentsEmittedTotal prometheus.Counter
	DARSpamFilteredTotal     prometheus.Counter

	QueryDuration          *prometheus.HistogramVec
	QueryBudgetExhausted   *prometheus.CounterVec
	QueryInFlight          prometheus.Gauge
	ResultCacheHitsTotal   prometheus.Counter
	ResultCacheMissesTotal prometheus.Counter

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of admin HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Admin HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of admin HTTP requests currently being processed.",
			},
		),
		CBSBlocksDecompressedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cbs_blocks_decompressed_total",
				Help: "Total number of compressed blocks decompressed by the block store.",
			},
		),
		CBSCorruptBlockTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cbs_corrupt_block_total",
				Help: "Total number of blocks rejected as corrupt (trailer, sidecar, or size mismatch).",
			},
		),
		CBSBytesReadTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cbs_bytes_read_total",
				Help: "Total compressed bytes read from the block store backing files.",
			},
		),
		BlockCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "block_cache_hits_total",
				Help: "Total block cache hits.",
			},
		),
		BlockCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "block_cache_misses_total",
				Help: "Total block cache misses.",
			},
		),
		BlockCacheBytesInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "block_cache_bytes_in_use",
				Help: "Bytes currently resident in the block cache.",
			},
		),
		BlockCacheEvictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "block_cache_evicted_total",
				Help: "Total blocks evicted from the block cache (excludes pinned blocks).",
			},
		),
		PSSIterationsTotal: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pss_iterations_total",
				Help:    "Priority Spatial Search iteration count per query phase.",
				Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
			},
			[]string{"phase"},
		),
		PSSQueueOverflowTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pss_queue_overflow_total",
				Help: "Total times the bounded priority region queue hit capacity and dropped its worst entry.",
			},
		),
		DARDocumentsEmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dar_documents_emitted_total",
				Help: "Total documents emitted by the Document Assembler & Ranker.",
			},
		),
		DARSpamFilteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dar_spam_filtered_total",
				Help: "Total documents flagged and excluded as spam by the checksum spam filter.",
			},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_duration_seconds",
				Help:    "Query latency in seconds by phase.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"phase"},
		),
		QueryBudgetExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_budget_exhausted_total",
				Help: "Total times a query phase hit its max_it iteration ceiling.",
			},
			[]string{"phase"},
		),
		QueryInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "query_in_flight",
				Help: "Number of queries currently being processed.",
			},
		),
		ResultCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_hits_total",
				Help: "Total result-cache hits.",
			},
		),
		ResultCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_misses_total",
				Help: "Total result-cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CBSBlocksDecompressedTotal,
		m.CBSCorruptBlockTotal,
		m.CBSBytesReadTotal,
		m.BlockCacheHitsTotal,
		m.BlockCacheMissesTotal,
		m.BlockCacheBytesInUse,
		m.BlockCacheEvictedTotal,
		m.PSSIterationsTotal,
		m.PSSQueueOverflowTotal,
		m.DARDocumentsEmittedTotal,
		m.DARSpamFilteredTotal,
		m.QueryDuration,
		m.QueryBudgetExhausted,
		m.QueryInFlight,
		m.ResultCacheHitsTotal,
		m.ResultCacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
