// Package metrics exposes Prometheus collectors for the archival service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal            *prometheus.CounterVec
	bytesStoredTotal      prometheus.Counter
	dedupHitsTotal        prometheus.Counter
	fetchDurationSeconds  *prometheus.HistogramVec
	rateLimitDelaySeconds *prometheus.HistogramVec
	sessionsTotal         *prometheus.CounterVec
	frontierPending       prometheus.Gauge
	activeWorkers         prometheus.Gauge
	httpRequestsTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarchive_pages_total",
				Help: "Total number of pages fetched, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		bytesStoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webarchive_bytes_stored_total",
				Help: "Total physical bytes written to the content store.",
			},
		)

		dedupHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webarchive_dedup_hits_total",
				Help: "Total puts that matched an existing content hash.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webarchive_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"host"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webarchive_rate_limit_delay_seconds",
				Help:    "Histogram of politeness wait durations, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webarchive_sessions_total",
				Help: "Total number of sessions finished, labeled by status.",
			},
			[]string{"status"},
		)

		frontierPending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webarchive_frontier_pending",
				Help: "Number of URLs currently awaiting dispatch.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webarchive_active_workers",
				Help: "Number of workers currently processing a fetch.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one terminal fetch outcome.
func ObserveFetch(host, outcome string, duration time.Duration) {
	pagesTotal.WithLabelValues(host, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveStore records content store accounting for a put.
func ObserveStore(storedBytes int64, deduplicated bool) {
	if deduplicated {
		dedupHitsTotal.Inc()
		return
	}
	if storedBytes > 0 {
		bytesStoredTotal.Add(float64(storedBytes))
	}
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveSession increments the session counter for the given status.
func ObserveSession(status string) {
	sessionsTotal.WithLabelValues(status).Inc()
}

// SetFrontierPending updates the pending URL gauge.
func SetFrontierPending(n int) {
	frontierPending.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP API request metrics.
func ObserveHTTPRequest(method string, code int) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
