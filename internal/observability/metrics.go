package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Provider calls by op (geocode, weather) and status. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Provider latency. Watch for: p99 approaching the client timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Circuit breaker state per component: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Cache lookups by keyspace (city, latest, id, all) and result (hit, miss).
	// Hit rate = hit / (hit + miss).
	CacheLookupsTotal *prometheus.CounterVec

	// Cache errors by op (get, set, delete). Cache errors degrade to store access.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache latency by op and result.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Record store latency by op and result. Watch for: error results (fatal to requests).
	StoreOperationDurationSeconds *prometheus.HistogramVec

	// Observations persisted after a successful upstream fetch.
	ObservationsCreatedTotal prometheus.Counter

	// Concurrent cache misses for the same city key.
	CacheStampedeDetectedTotal prometheus.Counter

	// Fetches that joined an in-flight fetch for the same key (coalescing enabled).
	FetchCoalescedTotal prometheus.Counter

	// Event publishes by result (success, error).
	EventsPublishedTotal *prometheus.CounterVec

	// Collector runs by result and their duration.
	CollectorRunsTotal          *prometheus.CounterVec
	CollectorRunDurationSeconds prometheus.Histogram

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of weather provider calls",
		},
		[]string{"op", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Weather provider latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op", "status"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Cache lookups by keyspace and result (hit, miss)",
		},
		[]string{"keyspace", "result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache operation failures by op",
		},
		[]string{"op"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op", "result"},
	)
	StoreOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeOperationDurationSeconds",
			Help:    "Record store operation latency in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op", "result"},
	)
	ObservationsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "observationsCreatedTotal",
			Help: "Weather observations persisted after an upstream fetch",
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that overlapped another in-progress miss for the same city key",
		},
	)
	FetchCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchCoalescedTotal",
			Help: "Fetches that shared the result of an in-flight fetch for the same key",
		},
	)
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsPublishedTotal",
			Help: "Observation events published by result",
		},
		[]string{"result"},
	)
	CollectorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collectorRunsTotal",
			Help: "Scheduled collection runs by result",
		},
		[]string{"result"},
	)
	CollectorRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collectorRunDurationSeconds",
			Help:    "Duration of scheduled collection runs in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, CircuitBreakerState,
		CacheLookupsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		StoreOperationDurationSeconds, ObservationsCreatedTotal,
		CacheStampedeDetectedTotal, FetchCoalescedTotal,
		EventsPublishedTotal, CollectorRunsTotal, CollectorRunDurationSeconds,
		RateLimitDeniedTotal,
	)
}

// ObserveStoreOp records the duration of a store operation that started at start.
func ObserveStoreOp(op string, start time.Time, err error) {
	StoreOperationDurationSeconds.WithLabelValues(op, resultLabel(err)).Observe(time.Since(start).Seconds())
}

// ObserveCacheOp records the duration of a cache operation and counts failures.
func ObserveCacheOp(op string, start time.Time, err error) {
	CacheOperationDurationSeconds.WithLabelValues(op, resultLabel(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		CacheErrorsTotal.WithLabelValues(op).Inc()
	}
}

// KeyspaceLabel maps a cache key to a bounded label so city names never become label values.
func KeyspaceLabel(key string) string {
	switch {
	case key == "weather:all":
		return "all"
	case strings.HasPrefix(key, "weather:latest:"):
		return "latest"
	case strings.HasPrefix(key, "weather:id:"):
		return "id"
	case strings.HasPrefix(key, "weather:"):
		return "city"
	default:
		return "other"
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
