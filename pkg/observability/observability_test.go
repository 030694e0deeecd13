package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSessionStart(2048)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsInFlight))

	m.RecordTransition("uploading")
	m.RecordTransition("done")
	m.RecordSessionEnd("done", "full", 1.5)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.SessionsInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("done", "full")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("uploading")))
}

func TestMetrics_RecordOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordOutcome(map[string]int{"EMAIL": 2, "NAME": 1}, 15)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.EntitiesDetectedTotal.WithLabelValues("EMAIL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EntitiesDetectedTotal.WithLabelValues("NAME")))
}

func TestMetrics_RecordExportAndFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordExport("csv", "ok", 512)
	m.RecordExport("txt", "error", 0)
	m.RecordFailure("no_redacted_text")
	m.RecordAnalyzerRequest("analyze", "2xx", 0.3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ExportsTotal.WithLabelValues("csv", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ExportsTotal.WithLabelValues("txt", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FailuresTotal.WithLabelValues("no_redacted_text")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnalyzerRequestsTotal.WithLabelValues("analyze", "2xx")))
}

func TestTracer_NoopProvider(t *testing.T) {
	tr := NewTracerWithProvider(noop.NewTracerProvider())

	ctx, span := tr.StartSessionSpan(context.Background(), "s-1", "notes.txt", "text/plain", 10, "full")
	defer span.End()

	_, child := tr.StartAnalyzeSpan(ctx, "/analyze", []string{"EMAIL"})
	h := NewSpanHelper(child)
	h.SetHTTPStatus(500)
	h.RecordError(errors.New("boom"), "analyzer_failed")
	child.End()

	NewSpanHelper(span).SetOutcome(1, 15)
}
