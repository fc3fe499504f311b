package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes recorded by folio_queries_total.
const (
	outcomeAnswered = "answered"
	outcomeFallback = "fallback"
	outcomeError    = "error"
)

// Metrics holds the counters exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry
	queries  *prometheus.CounterVec
	chunks   prometheus.Counter
	docs     *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_queries_total",
			Help: "Questions answered, by outcome.",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folio_ingested_chunks_total",
			Help: "Chunks stored by ingestion requests.",
		}),
		docs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_ingested_documents_total",
			Help: "Documents processed by ingestion requests, by status.",
		}, []string{"status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "folio_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(m.queries, m.chunks, m.docs, m.latency)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
