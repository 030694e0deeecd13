// Package export turns a completed redaction.Outcome into report artifacts.
//
// Building is pure: Build reads the outcome and returns bytes, never touching
// the filesystem or a browser. Handing an artifact to the user is done
// separately by a Deliverer.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/observability"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

// Format identifies an export artifact type.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatPDF     Format = "pdf"
	FormatRawText Format = "txt"
)

// AllFormats lists every format in menu order.
var AllFormats = []Format{FormatCSV, FormatJSON, FormatPDF, FormatRawText}

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "pdf", "print", "html":
		return FormatPDF, nil
	case "txt", "text", "raw", "redacted":
		return FormatRawText, nil
	default:
		return "", &apperrors.ExportError{Reason: apperrors.ReasonUnknownFormat, Format: s}
	}
}

// Title returns the menu label for the format.
func (f Format) Title() string {
	switch f {
	case FormatJSON:
		return "JSON Export"
	case FormatCSV:
		return "CSV Report"
	case FormatPDF:
		return "PDF Summary"
	case FormatRawText:
		return "Redacted File"
	default:
		return string(f)
	}
}

// ContentType returns the MIME type of the format's payload.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPDF:
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Artifact is one built export. It is not retained after delivery.
type Artifact struct {
	Format Format
	Data   []byte
	// FileName is the suggested download name. The print document has none.
	FileName string
	// SourceName is the outcome's file name, used to derive fallback names.
	SourceName string
}

// ContentType returns the artifact's MIME type.
func (a *Artifact) ContentType() string {
	return a.Format.ContentType()
}

// SaveName returns FileName, or a derived name for artifacts without one.
func (a *Artifact) SaveName() string {
	if a.FileName != "" {
		return a.FileName
	}
	return a.SourceName + "_pii_report.html"
}

// Suggested artifact names.
func jsonName(o *redaction.Outcome) string { return o.FileName + "_pii_report.json" }
func csvName(o *redaction.Outcome) string  { return o.FileName + "_pii_report.csv" }
func textName(o *redaction.Outcome) string { return o.FileName + "_redacted.txt" }

// Exporter builds artifacts. The zero value is not usable; call New.
type Exporter struct {
	now     func() time.Time
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithClock sets the source of exported_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// WithMetrics enables export metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

// WithTracer overrides the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Exporter) { e.tracer = t }
}

// New creates an Exporter.
func New(opts ...Option) *Exporter {
	e := &Exporter{now: time.Now, tracer: observability.NewTracer()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultExporter = New()

// Build builds one artifact with the default exporter.
func Build(o *redaction.Outcome, f Format) (*Artifact, error) {
	return defaultExporter.Build(o, f)
}

// Build renders o in format f. The outcome is only read.
func (e *Exporter) Build(o *redaction.Outcome, f Format) (*Artifact, error) {
	return e.build(context.Background(), o, f)
}

func (e *Exporter) build(ctx context.Context, o *redaction.Outcome, f Format) (*Artifact, error) {
	_, span := e.tracer.StartExportSpan(ctx, string(f))
	defer span.End()
	spans := observability.NewSpanHelper(span)

	if o == nil {
		return nil, apperrors.ErrNoOutcome
	}

	exportedAt := e.now().UTC()
	var (
		data []byte
		name string
		err  error
	)
	switch f {
	case FormatJSON:
		data, err = buildJSON(o, exportedAt)
		name = jsonName(o)
	case FormatCSV:
		data = buildCSV(o, exportedAt)
		name = csvName(o)
	case FormatPDF:
		data, err = buildPrint(o, e.now())
	case FormatRawText:
		if !o.HasRedactedText() {
			err = &apperrors.ExportError{Reason: apperrors.ReasonNoRedactedTextAvailable, Format: string(f)}
			break
		}
		data = []byte(o.RedactedText)
		name = textName(o)
	default:
		err = &apperrors.ExportError{Reason: apperrors.ReasonUnknownFormat, Format: string(f)}
	}

	if err != nil {
		if !apperrors.IsExport(err) {
			err = &apperrors.ExportError{Format: string(f), Cause: err}
		}
		spans.RecordError(err, string(apperrors.Classify(err)))
		e.record(f, "error", 0)
		return nil, err
	}

	spans.SetOK()
	e.record(f, "ok", len(data))
	return &Artifact{Format: f, Data: data, FileName: name, SourceName: o.FileName}, nil
}

func (e *Exporter) record(f Format, status string, size int) {
	if e.metrics != nil {
		e.metrics.RecordExport(string(f), status, size)
	}
}

// WriteTo builds o in format f and writes it to w.
func (e *Exporter) WriteTo(w io.Writer, o *redaction.Outcome, f Format) (int64, error) {
	a, err := e.Build(o, f)
	if err != nil {
		return 0, err
	}
	return io.Copy(w, bytes.NewReader(a.Data))
}

// Result is one format's outcome from BuildAll.
type Result struct {
	Format   Format
	Artifact *Artifact
	Err      error
}

// BuildAll builds several formats concurrently from the same outcome. A
// failing format does not affect the others; its Result carries the error.
// The returned error is non-nil only when ctx ends first.
func (e *Exporter) BuildAll(ctx context.Context, o *redaction.Outcome, formats ...Format) ([]Result, error) {
	if len(formats) == 0 {
		formats = AllFormats
	}
	results := make([]Result, len(formats))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range formats {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := e.build(gctx, o, f)
			results[i] = Result{Format: f, Artifact: a, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building exports: %w", err)
	}
	return results, nil
}
