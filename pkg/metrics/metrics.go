// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	IndexQueriesTotal    *prometheus.CounterVec
	IndexQueryLatency    *prometheus.HistogramVec
	AuditEventsReturned  *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	LookupsDroppedTotal  prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		IndexQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_index_queries_total",
				Help: "Total queries sent to the audit index by operation and status (ok, error).",
			},
			[]string{"operation", "status"},
		),
		IndexQueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_index_query_latency_seconds",
				Help:    "Audit index query latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		AuditEventsReturned: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_events_returned",
				Help:    "Number of audit events returned per lookup.",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"view"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_hits_total",
				Help: "Total number of event-type catalog cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_misses_total",
				Help: "Total number of event-type catalog cache misses.",
			},
		),
		LookupsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_lookups_dropped_total",
				Help: "Lookup analytics events dropped because the buffer was full.",
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

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.IndexQueriesTotal,
		m.IndexQueryLatency,
		m.AuditEventsReturned,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.LookupsDroppedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
