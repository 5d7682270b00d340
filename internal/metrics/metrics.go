// Package metrics holds the Prometheus collectors of the filter service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors on a dedicated registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry       *prometheus.Registry
	Operations     *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	CacheLookups   *prometheus.CounterVec
	SkippedRecords prometheus.Counter
	Fallbacks      *prometheus.CounterVec
	BreakerState   *prometheus.GaugeVec
	RateLimited    prometheus.Counter
	ClientErrors   prometheus.Counter
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	operations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgfe_operations_total",
			Help: "Pipeline operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgfe_operation_duration_seconds",
			Help:    "Pipeline operation latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgfe_cache_lookups_total",
			Help: "Result cache lookups by kind and result.",
		},
		[]string{"kind", "result"},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgfe_skipped_records_total",
			Help: "Items dropped while resolving or formatting a page.",
		},
	)
	fallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgfe_fallback_queries_total",
			Help: "Simplified fallback queries by result.",
		},
		[]string{"result"},
	)
	breaker := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgfe_circuit_breaker_state",
			Help: "Catalog circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)
	rateLimited := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgfe_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
	)
	clientErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgfe_client_errors_total",
			Help: "Client-side script errors reported by storefronts.",
		},
	)

	registry.MustRegister(
		operations, duration, cacheLookups, skipped, fallbacks, breaker, rateLimited, clientErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		Registry:       registry,
		Operations:     operations,
		Duration:       duration,
		CacheLookups:   cacheLookups,
		SkippedRecords: skipped,
		Fallbacks:      fallbacks,
		BreakerState:   breaker,
		RateLimited:    rateLimited,
		ClientErrors:   clientErrors,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveOperation records the outcome and latency of a pipeline operation.
func (m *Metrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.Duration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncCache records a cache lookup result: hit, miss or error.
func (m *Metrics) IncCache(kind, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(kind, result).Inc()
}

// AddSkipped records items dropped from a page.
func (m *Metrics) AddSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SkippedRecords.Add(float64(n))
}

// IncFallback records a simplified fallback query result.
func (m *Metrics) IncFallback(result string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(result).Inc()
}

// SetBreakerState records the state of a circuit breaker.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(state)
}

// IncRateLimited records a rejected request.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// IncClientError records a reported script error.
func (m *Metrics) IncClientError() {
	if m == nil {
		return
	}
	m.ClientErrors.Inc()
}
