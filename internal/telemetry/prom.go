package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the oracle.
type Metrics struct {
	// Query pipeline metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// Provider fetch metrics
	ProviderFetches *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// Audit trail metrics
	AuditSubmissions *prometheus.CounterVec
	AuditQueueDepth  prometheus.Gauge

	// System metrics
	ActiveQueries prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates the oracle metrics and registers them with reg.
// A nil reg registers against the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_queries_total",
				Help: "Total queries processed, by outcome and consensus method",
			},
			[]string{"status", "method"},
		),

		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oracle_query_duration_seconds",
				Help:    "End-to-end query duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"method"},
		),

		ProviderFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_provider_fetches_total",
				Help: "Provider fetch attempts, by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oracle_provider_latency_ms",
				Help:    "Provider fetch latency in milliseconds",
				Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"provider"},
		),

		AuditSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_audit_submissions_total",
				Help: "Audit ledger submissions, by outcome",
			},
			[]string{"outcome"},
		),

		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oracle_audit_queue_depth",
				Help: "Audit records waiting for the next batch flush",
			},
		),

		ActiveQueries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oracle_active_queries",
				Help: "Queries currently in flight",
			},
		),
	}

	reg.MustRegister(
		m.QueriesTotal,
		m.QueryDuration,
		m.ProviderFetches,
		m.ProviderLatency,
		m.AuditSubmissions,
		m.AuditQueueDepth,
		m.ActiveQueries,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}

	return m
}

// QueryTimer tracks the duration of a single query.
type QueryTimer struct {
	metrics *Metrics
	method  string
	start   time.Time
}

// StartQueryTimer begins timing a query handled with the given method.
func (m *Metrics) StartQueryTimer(method string) *QueryTimer {
	m.ActiveQueries.Inc()
	return &QueryTimer{metrics: m, method: method, start: time.Now()}
}

// Stop completes the timing and records the outcome.
func (qt *QueryTimer) Stop(status string) {
	qt.metrics.ActiveQueries.Dec()
	qt.metrics.QueryDuration.WithLabelValues(qt.method).Observe(time.Since(qt.start).Seconds())
	qt.metrics.QueriesTotal.WithLabelValues(status, qt.method).Inc()
}

// RecordProviderFetch records one provider fetch attempt.
func (m *Metrics) RecordProviderFetch(provider, outcome string, latencyMs float64) {
	m.ProviderFetches.WithLabelValues(provider, outcome).Inc()
	if latencyMs > 0 {
		m.ProviderLatency.WithLabelValues(provider).Observe(latencyMs)
	}
}

// RecordAuditSubmission records one ledger submission outcome.
func (m *Metrics) RecordAuditSubmission(outcome string) {
	m.AuditSubmissions.WithLabelValues(outcome).Inc()
}

// SetAuditQueueDepth publishes the current audit backlog size.
func (m *Metrics) SetAuditQueueDepth(n int) {
	m.AuditQueueDepth.Set(float64(n))
}

// MetricsHandler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
