package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for redaction operations.
	TracerName = "redact"
)

// Span attribute keys
const (
	AttrSessionID    = "session_id"
	AttrFileName     = "file_name"
	AttrMediaType    = "media_type"
	AttrFileSize     = "file_size"
	AttrMode         = "mode"
	AttrEnabledTypes = "enabled_types"
	AttrState        = "state"
	AttrHTTPStatus   = "http.status_code"
	AttrEndpoint     = "endpoint"
	AttrEntityCount  = "entity_count"
	AttrRiskScore    = "risk_score"
	AttrFormat       = "format"
	AttrErrorCode    = "error_code"
)

// Span names
const (
	SpanSession   = "redact.session"
	SpanAnalyze   = "redact.analyze"
	SpanNormalize = "redact.normalize"
	SpanExport    = "redact.export"
	SpanHealth    = "redact.analyzer_health"
)

// Tracer provides tracing for redaction operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider. Without a configured
// provider, spans are no-ops.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// NewTracerWithProvider creates a tracer from an explicit provider.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// StartSessionSpan starts the root span of a processing session.
func (t *Tracer) StartSessionSpan(ctx context.Context, sessionID, fileName, mediaType string, size int64, mode string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSession,
		trace.WithAttributes(
			attribute.String(AttrSessionID, sessionID),
			attribute.String(AttrFileName, fileName),
			attribute.String(AttrMediaType, mediaType),
			attribute.Int64(AttrFileSize, size),
			attribute.String(AttrMode, mode),
		),
	)
}

// StartAnalyzeSpan starts a span for a request to the Analysis Service.
func (t *Tracer) StartAnalyzeSpan(ctx context.Context, endpoint string, enabledTypes []string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAnalyze,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrEndpoint, endpoint),
			attribute.StringSlice(AttrEnabledTypes, enabledTypes),
		),
	)
}

// StartHealthSpan starts a span for an analyzer health probe.
func (t *Tracer) StartHealthSpan(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanHealth,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(AttrEndpoint, endpoint)),
	)
}

// StartNormalizeSpan starts a span for response normalization.
func (t *Tracer) StartNormalizeSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanNormalize)
}

// StartExportSpan starts a span for building one export artifact.
func (t *Tracer) StartExportSpan(ctx context.Context, format string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanExport,
		trace.WithAttributes(attribute.String(AttrFormat, format)),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetState records the session state reached.
func (h *SpanHelper) SetState(state string) {
	h.span.AddEvent("transition", trace.WithAttributes(attribute.String(AttrState, state)))
}

// SetHTTPStatus records the analyzer response status.
func (h *SpanHelper) SetHTTPStatus(code int) {
	h.span.SetAttributes(attribute.Int(AttrHTTPStatus, code))
}

// SetOutcome records the summary of a completed session.
func (h *SpanHelper) SetOutcome(entityCount, riskScore int) {
	h.span.SetAttributes(
		attribute.Int(AttrEntityCount, entityCount),
		attribute.Int(AttrRiskScore, riskScore),
	)
}

// RecordError marks the span failed with a classified error code.
func (h *SpanHelper) RecordError(err error, code string) {
	h.span.RecordError(err)
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(attribute.String(AttrErrorCode, code))
}

// SetOK marks the span successful.
func (h *SpanHelper) SetOK() {
	h.span.SetStatus(codes.Ok, "")
}
