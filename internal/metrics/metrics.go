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
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	recordsTotal               *prometheus.CounterVec
	fieldDiagnosticsTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeJobs                 prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total number of fetches, labeled by stage (search/detail), site and outcome.",
			},
			[]string{"stage", "site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Total number of response bytes fetched, labeled by stage.",
			},
			[]string{"stage"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by stage.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"stage"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Records leaving the pipeline, labeled by outcome (stored, duplicate, dropped, failed).",
			},
			[]string{"outcome"},
		)

		fieldDiagnosticsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_field_diagnostics_total",
				Help: "Values nulled during normalization, labeled by field.",
			},
			[]string{"field"},
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

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Total number of crawl jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_jobs",
				Help: "Number of crawl jobs currently running.",
			},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Time fetches spent waiting on the per-site rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"site"},
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
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one search or detail fetch.
func ObserveFetch(stage, rawURL, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(stage, SanitizeSite(rawURL), outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(stage).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
	}
}

// ObserveRecord counts a record outcome.
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDiagnostic counts a nulled field.
func ObserveDiagnostic(field string) {
	Init()
	fieldDiagnosticsTotal.WithLabelValues(field).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// ObserveRateLimitDelay records how long a fetch waited for a token.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(site).Observe(delay.Seconds())
}
