// Package observability provides Prometheus metrics and OpenTelemetry spans
// for redaction sessions, analyzer calls and exports. Labels carry category
// codes, states and error codes only, never document content.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the redaction pipeline.
type Metrics struct {
	// Session metrics
	SessionsTotal    *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	SessionsInFlight prometheus.Gauge
	SessionSeconds   *prometheus.HistogramVec
	FailuresTotal    *prometheus.CounterVec

	// Analyzer metrics
	AnalyzerRequestsTotal  *prometheus.CounterVec
	AnalyzerLatencySeconds *prometheus.HistogramVec

	// Outcome metrics
	EntitiesDetectedTotal *prometheus.CounterVec
	RiskScore             prometheus.Histogram
	UploadBytes           prometheus.Histogram

	// Export metrics
	ExportsTotal *prometheus.CounterVec
	ExportBytes  *prometheus.HistogramVec
}

// DefaultMetrics creates metrics registered with the default registry.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates a new set of metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_sessions_total",
				Help: "Processing sessions by final status",
			},
			[]string{"status", "mode"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_session_transitions_total",
				Help: "Session state transitions by target state",
			},
			[]string{"state"},
		),
		SessionsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "redact_sessions_in_flight",
				Help: "Sessions currently between Uploading and Done",
			},
		),
		SessionSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redact_session_seconds",
				Help:    "Wall time from Uploading to a terminal state",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_failures_total",
				Help: "Session and export failures by classified error code",
			},
			[]string{"code"},
		),

		AnalyzerRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_analyzer_requests_total",
				Help: "Requests to the Analysis Service by status class",
			},
			[]string{"endpoint", "status"},
		),
		AnalyzerLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redact_analyzer_latency_seconds",
				Help:    "Analysis Service round-trip latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),

		EntitiesDetectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_entities_detected_total",
				Help: "Detected PII entities by analyzer category",
			},
			[]string{"category"},
		),
		RiskScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "redact_risk_score",
				Help:    "Risk score of completed sessions",
				Buckets: []float64{0, 5, 10, 11, 15, 20, 25, 40, 60, 80, 100},
			},
		),
		UploadBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "redact_upload_bytes",
				Help:    "Size of staged documents submitted for analysis",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),

		ExportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_exports_total",
				Help: "Export artifacts built by format and status",
			},
			[]string{"format", "status"},
		),
		ExportBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redact_export_bytes",
				Help:    "Size of built export artifacts",
				Buckets: prometheus.ExponentialBuckets(256, 4, 9),
			},
			[]string{"format"},
		),
	}
}

// RecordTransition records a session entering state.
func (m *Metrics) RecordTransition(state string) {
	m.TransitionsTotal.WithLabelValues(state).Inc()
}

// RecordSessionStart records a session leaving Idle.
func (m *Metrics) RecordSessionStart(uploadBytes int64) {
	m.SessionsInFlight.Inc()
	m.UploadBytes.Observe(float64(uploadBytes))
}

// RecordSessionEnd records a session reaching Done or failing back to Idle.
func (m *Metrics) RecordSessionEnd(status, mode string, seconds float64) {
	m.SessionsInFlight.Dec()
	m.SessionsTotal.WithLabelValues(status, mode).Inc()
	m.SessionSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordFailure records a classified failure.
func (m *Metrics) RecordFailure(code string) {
	m.FailuresTotal.WithLabelValues(code).Inc()
}

// RecordAnalyzerRequest records one Analysis Service round trip.
func (m *Metrics) RecordAnalyzerRequest(endpoint, status string, seconds float64) {
	m.AnalyzerRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.AnalyzerLatencySeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordOutcome records the entity counts and risk score of a completed session.
func (m *Metrics) RecordOutcome(countsByCategory map[string]int, riskScore int) {
	for category, n := range countsByCategory {
		m.EntitiesDetectedTotal.WithLabelValues(category).Add(float64(n))
	}
	m.RiskScore.Observe(float64(riskScore))
}

// RecordExport records one export build.
func (m *Metrics) RecordExport(format, status string, size int) {
	m.ExportsTotal.WithLabelValues(format, status).Inc()
	if status == "ok" {
		m.ExportBytes.WithLabelValues(format).Observe(float64(size))
	}
}
