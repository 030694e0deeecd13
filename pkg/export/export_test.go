package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/observability"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

func testExporter() *Exporter {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func sampleOutcome() *redaction.Outcome {
	return &redaction.Outcome{
		FileName:      "notes.txt",
		FileSizeBytes: 2048,
		Entities: []redaction.PIIEntity{
			{Category: "EMAIL", OriginalValue: "a@b.com", MaskedValue: "[REDACTED_EMAIL]", Confidence: 0.95, OrdinalPosition: 1},
			{Category: "NAME", OriginalValue: `Asha "AJ" Rao`, MaskedValue: "[REDACTED_NAME]", Confidence: 0.95, OrdinalPosition: 2},
		},
		RiskScore:                 15,
		EntityCountsByCategory:    map[string]int{"EMAIL": 1, "NAME": 1},
		RedactedText:              "Contact [REDACTED_EMAIL] <b>[REDACTED_NAME]</b>",
		TokenCountRedacted:        47,
		TokenCountOriginal:        67,
		ProcessingDurationSeconds: 1.234,
		Mode:                      redaction.ModeFull,
	}
}

func TestBuildJSON(t *testing.T) {
	a, err := testExporter().Build(sampleOutcome(), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt_pii_report.json", a.FileName)
	assert.Equal(t, "application/json", a.ContentType())

	var got map[string]any
	require.NoError(t, json.Unmarshal(a.Data, &got))
	assert.Equal(t, "notes.txt", got["file_name"])
	assert.Equal(t, float64(15), got["risk_score"])
	assert.Equal(t, "Medium", got["risk_level"])
	assert.Equal(t, "1.23s", got["processing_time"])
	assert.Equal(t, "full", got["mode"])
	assert.Equal(t, "2026-03-04T05:06:07.890Z", got["exported_at"])
	assert.Equal(t, map[string]any{"EMAIL": float64(1), "NAME": float64(1)}, got["pii_summary"])

	entities := got["detected_entities"].([]any)
	require.Len(t, entities, 2)
	first := entities[0].(map[string]any)
	assert.Equal(t, "Email", first["type"])
	assert.Equal(t, "a@b.com", first["original_value"])
	assert.Equal(t, "[REDACTED_EMAIL]", first["redacted"])
	assert.Equal(t, 0.95, first["confidence"])

	assert.True(t, strings.HasPrefix(string(a.Data), "{\n  \"file_name\""))
}

func TestBuildJSON_RiskLevelFallback(t *testing.T) {
	tests := []struct {
		score int
		level redaction.RiskLevel
		want  string
	}{
		{0, "", "Low"},
		{10, "", "Low"},
		{11, "", "Medium"},
		{24, "", "Medium"},
		{25, "", "High"},
		{100, "", "High"},
		{5, "Critical", "Critical"},
		{90, "Low", "Low"},
	}
	for _, tt := range tests {
		o := sampleOutcome()
		o.RiskScore = tt.score
		o.RiskLevel = tt.level

		a, err := testExporter().Build(o, FormatJSON)
		require.NoError(t, err)

		var got struct {
			RiskLevel string `json:"risk_level"`
		}
		require.NoError(t, json.Unmarshal(a.Data, &got))
		assert.Equal(t, tt.want, got.RiskLevel, "score %d level %q", tt.score, tt.level)
	}
}

func TestBuildJSON_EmptyOutcome(t *testing.T) {
	o := &redaction.Outcome{FileName: "empty.txt"}
	a, err := testExporter().Build(o, FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, string(a.Data), `"pii_summary": {}`)
	assert.Contains(t, string(a.Data), `"detected_entities": []`)
	assert.Contains(t, string(a.Data), `"redacted_text": ""`)
}

func TestBuildCSV_RoundTrip(t *testing.T) {
	o := sampleOutcome()
	a, err := testExporter().Build(o, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt_pii_report.csv", a.FileName)

	text := string(a.Data)
	assert.True(t, strings.HasPrefix(text, csvHeader+"\n"))
	assert.Contains(t, text, `"Person","Asha ""AJ"" Rao","[REDACTED_NAME]",95%`)

	r := csv.NewReader(bytes.NewReader(a.Data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)

	// Header, entity rows, then the summary block.
	assert.Equal(t, []string{"Type", "Original Value", "Redacted Output", "Confidence"}, records[0])
	var rows [][]string
	for _, rec := range records[1:] {
		if len(rec) == 1 && rec[0] == "Summary" {
			break
		}
		rows = append(rows, rec)
	}
	require.Len(t, rows, o.EntityCount())
	assert.Equal(t, `Asha "AJ" Rao`, rows[1][1])
	assert.Equal(t, "95%", rows[1][3])

	summary := map[string]string{}
	for _, rec := range records[1+len(rows)+1:] {
		require.Len(t, rec, 2)
		summary[rec[0]] = rec[1]
	}
	assert.Equal(t, map[string]string{
		"File":            "notes.txt",
		"Risk Score":      "15",
		"Risk Level":      "Medium",
		"Total Entities":  "2",
		"Processing Time": "1.23s",
		"Exported At":     "2026-03-04T05:06:07.890Z",
	}, summary)
}

func TestBuildCSV_SummarySeparatedByBlankLine(t *testing.T) {
	a, err := testExporter().Build(sampleOutcome(), FormatCSV)
	require.NoError(t, err)
	assert.Contains(t, string(a.Data), "95%\n\nSummary\nFile,notes.txt\n")
}

func TestBuildCSV_QuotesSummaryFileName(t *testing.T) {
	o := sampleOutcome()
	o.FileName = "a,b.csv"
	a, err := testExporter().Build(o, FormatCSV)
	require.NoError(t, err)
	assert.Contains(t, string(a.Data), "File,\"a,b.csv\"\n")
}

func TestConfidencePercent(t *testing.T) {
	assert.Equal(t, "95%", ConfidencePercent(0.95))
	assert.Equal(t, "100%", ConfidencePercent(1))
	assert.Equal(t, "0%", ConfidencePercent(0))
	assert.Equal(t, "88%", ConfidencePercent(0.875))
}

func TestBuildPrint(t *testing.T) {
	o := sampleOutcome()
	o.Entities[0].OriginalValue = "<script>alert(1)</script>"

	a, err := testExporter().Build(o, FormatPDF)
	require.NoError(t, err)
	assert.Empty(t, a.FileName)
	assert.Equal(t, "notes.txt_pii_report.html", a.SaveName())

	html := string(a.Data)
	assert.Contains(t, html, "PII Redaction Report")
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, "&lt;script&gt;alert(1)&lt;/script&gt;")
	assert.Contains(t, html, `color:#f59e0b`)
	assert.Contains(t, html, "Risk Score (Medium)")
	assert.Contains(t, html, `<td class="original">Asha &#34;AJ&#34; Rao</td>`)
	assert.Contains(t, html, "2.0 KB")

	// Redacted text is escaped and markers become badges.
	assert.Contains(t, html, `Contact <span class="marker">[EMAIL]</span> &lt;b&gt;<span class="marker">[NAME]</span>&lt;/b&gt;`)
	assert.Contains(t, html, "window.print()")
}

func TestBuildPrint_NoRedactedText(t *testing.T) {
	o := sampleOutcome()
	o.RedactedText = ""
	a, err := testExporter().Build(o, FormatPDF)
	require.NoError(t, err)
	assert.NotContains(t, string(a.Data), "Redacted Text</h2>")
}

func TestRiskColor(t *testing.T) {
	assert.Equal(t, colorHigh, RiskColor(redaction.RiskHigh))
	assert.Equal(t, colorHigh, RiskColor("CRITICAL"))
	assert.Equal(t, colorMedium, RiskColor(redaction.RiskMedium))
	assert.Equal(t, colorLow, RiskColor(redaction.RiskLow))
	assert.Equal(t, colorLow, RiskColor(""))
}

func TestBuildRawText(t *testing.T) {
	o := sampleOutcome()
	a, err := testExporter().Build(o, FormatRawText)
	require.NoError(t, err)
	assert.Equal(t, o.RedactedText, string(a.Data))
	assert.Equal(t, "notes.txt_redacted.txt", a.FileName)

	o.RedactedText = ""
	_, err = testExporter().Build(o, FormatRawText)
	require.Error(t, err)
	assert.True(t, apperrors.IsExportReason(err, apperrors.ReasonNoRedactedTextAvailable))
	assert.Equal(t, apperrors.CodeNoRedactedText, apperrors.Classify(err))
}

func TestBuild_UnknownFormatAndNilOutcome(t *testing.T) {
	_, err := testExporter().Build(sampleOutcome(), Format("xml"))
	assert.True(t, apperrors.IsExportReason(err, apperrors.ReasonUnknownFormat))

	_, err = testExporter().Build(nil, FormatJSON)
	assert.ErrorIs(t, err, apperrors.ErrNoOutcome)
}

func TestBuild_DoesNotMutateOutcome(t *testing.T) {
	o := sampleOutcome()
	before := *o
	beforeEntities := append([]redaction.PIIEntity(nil), o.Entities...)

	results, err := testExporter().BuildAll(context.Background(), o)
	require.NoError(t, err)
	require.Len(t, results, len(AllFormats))
	for _, r := range results {
		assert.NoError(t, r.Err, r.Format)
	}

	assert.Equal(t, before.RiskLevel, o.RiskLevel)
	assert.Equal(t, before.RedactedText, o.RedactedText)
	assert.Equal(t, beforeEntities, o.Entities)
}

func TestBuildAll_IndependentFailures(t *testing.T) {
	o := sampleOutcome()
	o.RedactedText = ""

	results, err := testExporter().BuildAll(context.Background(), o, FormatJSON, FormatRawText, FormatCSV)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, FormatJSON, results[0].Format)
	assert.NoError(t, results[0].Err)
	assert.True(t, apperrors.IsExportReason(results[1].Err, apperrors.ReasonNoRedactedTextAvailable))
	assert.Nil(t, results[1].Artifact)
	assert.NoError(t, results[2].Err)
}

func TestBuildAll_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testExporter().BuildAll(ctx, sampleOutcome())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteTo(t *testing.T) {
	var buf bytes.Buffer
	n, err := testExporter().WriteTo(&buf, sampleOutcome(), FormatRawText)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	_, err = testExporter().WriteTo(io.Discard, &redaction.Outcome{}, FormatRawText)
	assert.Error(t, err)
}

func TestExportMetrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	e := New(WithMetrics(m))

	_, _ = e.Build(sampleOutcome(), FormatCSV)
	_, _ = e.Build(&redaction.Outcome{}, FormatRawText)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ExportsTotal.WithLabelValues("csv", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ExportsTotal.WithLabelValues("txt", "error")))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"json", FormatJSON},
		{"CSV", FormatCSV},
		{"pdf", FormatPDF},
		{"print", FormatPDF},
		{"txt", FormatRawText},
		{"redacted", FormatRawText},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := ParseFormat("docx")
	assert.True(t, apperrors.IsExportReason(err, apperrors.ReasonUnknownFormat))
}

func TestFileDeliverer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	a, err := testExporter().Build(sampleOutcome(), FormatCSV)
	require.NoError(t, err)

	path, err := FileDeliverer{Dir: dir}.Deliver(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.txt_pii_report.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, a.Data, data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPrintDeliverer(t *testing.T) {
	a, err := testExporter().Build(sampleOutcome(), FormatPDF)
	require.NoError(t, err)

	t.Run("opens rendered document", func(t *testing.T) {
		var opened string
		d := PrintDeliverer{TempDir: t.TempDir(), Open: func(ctx context.Context, path string) error {
			opened = path
			return nil
		}}
		path, err := d.Deliver(context.Background(), a)
		require.NoError(t, err)
		assert.Equal(t, path, opened)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, a.Data, data)
	})

	t.Run("popup blocked", func(t *testing.T) {
		d := PrintDeliverer{TempDir: t.TempDir(), Open: func(ctx context.Context, path string) error {
			return errors.New("no display")
		}}
		path, err := d.Deliver(context.Background(), a)
		require.Error(t, err)
		assert.True(t, apperrors.IsExportReason(err, apperrors.ReasonPopupBlocked))
		assert.Equal(t, apperrors.CodePopupBlocked, apperrors.Classify(err))
		assert.FileExists(t, path)
	})
}

func TestDelivererFor(t *testing.T) {
	assert.IsType(t, PrintDeliverer{}, DelivererFor(FormatPDF, "x"))
	assert.Equal(t, FileDeliverer{Dir: "x"}, DelivererFor(FormatJSON, "x"))
}
