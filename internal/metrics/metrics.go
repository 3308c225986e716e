// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestPassesTotal            *prometheus.CounterVec
	harvestRecordsTotal           prometheus.Counter
	harvestIndexSize              prometheus.Gauge
	harvestItemErrorsTotal        prometheus.Counter
	harvestExpansionsTotal        *prometheus.CounterVec
	harvestExpansionDuration      *prometheus.HistogramVec
	harvestCheckpointsTotal       *prometheus.CounterVec
	harvestFetchBytesTotal        *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	harvestRateLimitDelaysSeconds *prometheus.HistogramVec
	progressEventsDroppedTotal    *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every observer calls it.
func Init() {
	once.Do(func() {
		harvestPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_passes_total",
				Help: "Collection passes, labeled by result (new, empty, error, skipped).",
			},
			[]string{"result"},
		)

		harvestRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_records_total",
				Help: "Records inserted into the dedup index.",
			},
		)

		harvestIndexSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_index_size",
				Help: "Current number of records in the dedup index.",
			},
		)

		harvestItemErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_item_errors_total",
				Help: "Feed items that failed extraction.",
			},
		)

		harvestExpansionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_expansions_total",
				Help: "Expansion attempts, labeled by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		)

		harvestExpansionDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_expansion_duration_seconds",
				Help:    "Histogram of expansion latencies, labeled by backend.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"backend"},
		)

		harvestCheckpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_checkpoints_total",
				Help: "Checkpoint writes, labeled by sink and result.",
			},
			[]string{"sink", "result"},
		)

		harvestFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetch_bytes_total",
				Help: "Bytes downloaded by the direct-fetch backend, labeled by site.",
			},
			[]string{"site"},
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

		harvestRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		progressEventsDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_progress_events_dropped_total",
				Help: "Progress events dropped under backpressure, labeled by stage.",
			},
			[]string{"stage"},
		)
	})
}

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

// ObservePass records one collection pass and the resulting index size.
func ObservePass(result string, newRecords int, indexSize int) {
	Init()
	harvestPassesTotal.WithLabelValues(result).Inc()
	if newRecords > 0 {
		harvestRecordsTotal.Add(float64(newRecords))
	}
	harvestIndexSize.Set(float64(indexSize))
}

// ObserveItemError counts a feed item that failed extraction.
func ObserveItemError() {
	Init()
	harvestItemErrorsTotal.Inc()
}

// ObserveExpansion records the outcome and latency of one expansion.
func ObserveExpansion(backend, outcome string, duration time.Duration) {
	Init()
	harvestExpansionsTotal.WithLabelValues(backend, outcome).Inc()
	if duration > 0 {
		harvestExpansionDuration.WithLabelValues(backend).Observe(duration.Seconds())
	}
}

// ObserveCheckpoint counts one checkpoint write for a sink.
func ObserveCheckpoint(sink, result string) {
	Init()
	harvestCheckpointsTotal.WithLabelValues(sink, result).Inc()
}

// ObserveFetch records bytes downloaded for a permalink.
func ObserveFetch(rawURL string, bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		harvestFetchBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvestRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveProgressDropped counts a progress event the hub could not queue.
func ObserveProgressDropped(stage string) {
	Init()
	progressEventsDroppedTotal.WithLabelValues(stage).Inc()
}
