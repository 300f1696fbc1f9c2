// Package metrics exposes Prometheus collectors for the ingestion and
// classification pipeline.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Label values used by the pipeline.
const (
	ResultInserted  = "inserted"
	ResultDuplicate = "duplicate"

	OutcomeLabeled = "labeled"
	OutcomeFailed  = "failed"

	StatusPersisted = "persisted"
	StatusNothing   = "nothing_to_do"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

var (
	ingestArticlesTotal         *prometheus.CounterVec
	classifyItemsTotal          *prometheus.CounterVec
	classifyCallDurationSeconds prometheus.Histogram
	classifyRunsTotal           *prometheus.CounterVec
	classifyLastRunSampled      prometheus.Gauge
	rateLimitDelaySeconds       *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestArticlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factcheck_ingest_articles_total",
				Help: "Articles offered for ingest, labeled by result.",
			},
			[]string{"result"},
		)

		classifyItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factcheck_classify_items_total",
				Help: "Articles submitted for classification, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		classifyCallDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "factcheck_classify_call_duration_seconds",
				Help:    "Latency of single categorization calls.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		classifyRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "factcheck_classify_runs_total",
				Help: "Classification runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		classifyLastRunSampled = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "factcheck_classify_last_run_sampled",
				Help: "Number of articles sampled by the most recent run.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "factcheck_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveIngest records the result of one ingest batch.
func ObserveIngest(inserted, duplicates int) {
	Init()
	ingestArticlesTotal.WithLabelValues(ResultInserted).Add(float64(inserted))
	ingestArticlesTotal.WithLabelValues(ResultDuplicate).Add(float64(duplicates))
}

// ObserveClassification records one categorization call.
func ObserveClassification(outcome string, duration time.Duration) {
	Init()
	classifyItemsTotal.WithLabelValues(outcome).Inc()
	classifyCallDurationSeconds.Observe(duration.Seconds())
}

// ObserveRun records the end of a classification run.
func ObserveRun(status string, sampled int) {
	Init()
	classifyRunsTotal.WithLabelValues(status).Inc()
	classifyLastRunSampled.Set(float64(sampled))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the default registry to a Prometheus Pushgateway under job.
// Batch runs exit before a scrape would reach them.
func Push(ctx context.Context, gatewayURL, job string) error {
	Init()
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
