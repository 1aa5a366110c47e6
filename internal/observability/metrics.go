// Package observability owns the Prometheus registry served on the worker's /metrics endpoint.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry together with the engine and ops collectors. All methods accept a
// nil receiver so that tests and tools can run the engine without instrumentation.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	postings     *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	ledgerWrites *prometheus.CounterVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics builds a private registry with runtime collectors and the back-office series.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_postings_total",
			Help: "Posting engine commands by document type, operation and outcome.",
		}, []string{"doc_type", "op", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_stock_rejections_total",
			Help: "Outflow documents rejected for insufficient stock.",
		}, []string{"doc_type"}),
		ledgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_ledger_writes_total",
			Help: "Customer ledger writes by operation (upsert, fallback, remove).",
		}, []string{"op"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_http_requests_total",
			Help: "Ops endpoint requests by route and status.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backoffice_http_request_duration_seconds",
			Help:    "Ops endpoint request duration per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.postings, m.rejections, m.ledgerWrites,
		m.requests, m.requestDuration,
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// Handler serves the registry. A nil Metrics answers 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registerer exposes the registry for collectors owned by other packages, such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}
