// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	QueriesTotal      *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CacheInvalidation *prometheus.CounterVec
	RetrievalAttempts *prometheus.HistogramVec
	RetrievalChunks   *prometheus.HistogramVec
	KeyResolutions    *prometheus.CounterVec
	OperationsTotal   *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	RunningOperations prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all engine metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragforge_queries_total",
				Help: "Total hybrid queries by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragforge_query_duration_seconds",
				Help:    "End-to-end hybrid query latency distribution.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"mode"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ragforge_cache_hits_total",
				Help: "Context cache hits.",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ragforge_cache_misses_total",
				Help: "Context cache misses.",
			},
		),
		CacheInvalidation: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragforge_cache_invalidations_total",
				Help: "Cache invalidations by reason.",
			},
			[]string{"reason"},
		),
		RetrievalAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragforge_retrieval_attempts",
				Help:    "Threshold-cascade attempts per retrieval.",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"provider"},
		),
		RetrievalChunks: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragforge_retrieval_chunks",
				Help:    "Chunks returned per retrieval.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
			[]string{"provider"},
		),
		KeyResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragforge_key_resolutions_total",
				Help: "Credential resolutions by provider and source.",
			},
			[]string{"provider", "source"},
		),
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragforge_operations_total",
				Help: "Reprocessing operations by terminal status.",
			},
			[]string{"status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ragforge_queue_depth",
				Help: "Queued operations per priority level.",
			},
			[]string{"priority"},
		),
		RunningOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ragforge_running_operations",
				Help: "Operations currently executing.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.QueriesTotal,
		m.QueryDuration,
		m.CacheHits,
		m.CacheMisses,
		m.CacheInvalidation,
		m.RetrievalAttempts,
		m.RetrievalChunks,
		m.KeyResolutions,
		m.OperationsTotal,
		m.QueueDepth,
		m.RunningOperations,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordQuery records a completed hybrid query.
func (m *Metrics) RecordQuery(mode string, outcome string, seconds float64) {
	m.QueriesTotal.WithLabelValues(mode, outcome).Inc()
	m.QueryDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordRetrieval records one adaptive retrieval outcome.
func (m *Metrics) RecordRetrieval(provider string, attempts, chunks int) {
	m.RetrievalAttempts.WithLabelValues(provider).Observe(float64(attempts))
	m.RetrievalChunks.WithLabelValues(provider).Observe(float64(chunks))
}
