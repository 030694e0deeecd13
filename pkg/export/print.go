package export

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"time"

	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

// Risk colors for the summary panel.
const (
	colorHigh   = "#ef4444"
	colorMedium = "#f59e0b"
	colorLow    = "#22c55e"
)

// RiskColor maps a risk level to its report color. Critical shares High's.
func RiskColor(level redaction.RiskLevel) string {
	switch level.Canonical() {
	case redaction.RiskHigh, redaction.RiskCritical:
		return colorHigh
	case redaction.RiskMedium:
		return colorMedium
	default:
		return colorLow
	}
}

var markerPattern = regexp.MustCompile(`\[REDACTED_(\w+)\]`)

// highlightMarkers escapes text and renders every [REDACTED_X] as an [X] badge.
func highlightMarkers(text string) template.HTML {
	escaped := template.HTMLEscapeString(text)
	return template.HTML(markerPattern.ReplaceAllString(escaped, `<span class="marker">[$1]</span>`))
}

type printEntity struct {
	Label      string
	Original   string
	Masked     string
	Confidence string
}

type printData struct {
	FileName       string
	SizeKB         string
	Mode           string
	Generated      string
	RiskScore      int
	RiskLevel      string
	RiskColor      string
	EntityCount    int
	ProcessingTime string
	Entities       []printEntity
	RedactedText   template.HTML
	HasRedacted    bool
}

var printTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html><head><meta charset="UTF-8"><title>PII Redaction Report: {{.FileName}}</title>
<style>
  body{font-family:Inter,Segoe UI,sans-serif;margin:40px;color:#1e293b;line-height:1.6;}
  h1{font-size:22px;margin-bottom:4px;} h2{font-size:16px;margin-top:32px;border-bottom:2px solid #e2e8f0;padding-bottom:6px;}
  .meta{color:#64748b;font-size:13px;}
  table{width:100%;border-collapse:collapse;font-size:13px;margin-top:12px;}
  th{text-align:left;padding:10px 12px;background:#f8fafc;border-bottom:2px solid #e2e8f0;font-weight:600;font-size:12px;text-transform:uppercase;color:#64748b;}
  td{padding:8px 12px;border-bottom:1px solid #e5e7eb;}
  td.original{color:#ef4444;text-decoration:line-through;font-family:monospace;}
  td.masked{color:#22c55e;font-family:monospace;}
  td.confidence{text-align:center;}
  .summary-grid{display:grid;grid-template-columns:1fr 1fr 1fr;gap:16px;margin-top:12px;}
  .summary-card{border:1px solid #e2e8f0;border-radius:8px;padding:16px;text-align:center;}
  .summary-card .num{font-size:28px;font-weight:700;} .summary-card .label{font-size:12px;color:#64748b;margin-top:4px;}
  .redacted-box{background:#f8fafc;border:1px solid #e2e8f0;border-radius:8px;padding:20px;font-family:JetBrains Mono,monospace;font-size:12px;white-space:pre-wrap;margin-top:12px;line-height:1.8;}
  .marker{background:#fee2e2;color:#dc2626;padding:2px 6px;border-radius:4px;font-size:11px;}
  .footer{margin-top:40px;padding-top:16px;border-top:1px solid #e2e8f0;font-size:11px;color:#94a3b8;text-align:center;}
  @media print{body{margin:20px;}}
</style></head><body>
<h1>PII Redaction Report</h1>
<p class="meta">File: <strong>{{.FileName}}</strong> · Size: {{.SizeKB}} KB · Mode: {{.Mode}} · Generated: {{.Generated}}</p>

<div class="summary-grid">
  <div class="summary-card"><div class="num risk" style="color:{{.RiskColor}}">{{.RiskScore}}</div><div class="label">Risk Score ({{.RiskLevel}})</div></div>
  <div class="summary-card"><div class="num" style="color:#0ea5e9">{{.EntityCount}}</div><div class="label">PII Entities Detected</div></div>
  <div class="summary-card"><div class="num" style="color:#22c55e">{{.ProcessingTime}}</div><div class="label">Processing Time</div></div>
</div>

<h2>Detected PII Entities</h2>
<table><thead><tr><th>Type</th><th>Original Value</th><th>Redacted Output</th><th style="text-align:center;">Confidence</th></tr></thead><tbody>
{{- range .Entities}}
<tr><td>{{.Label}}</td><td class="original">{{.Original}}</td><td class="masked">{{.Masked}}</td><td class="confidence">{{.Confidence}}</td></tr>
{{- end}}
</tbody></table>
{{if .HasRedacted}}
<h2>Redacted Text</h2><div class="redacted-box">{{.RedactedText}}</div>
{{end}}
<div class="footer">AI PII Redactor · Compliance Report · GDPR / DPDP Act Ready</div>
<script>window.addEventListener("load",function(){setTimeout(function(){window.print();},400);});</script>
</body></html>
`))

// buildPrint renders the self-contained print document.
func buildPrint(o *redaction.Outcome, generated time.Time) ([]byte, error) {
	level := o.EffectiveRiskLevel()
	data := printData{
		FileName:       o.FileName,
		SizeKB:         fmt.Sprintf("%.1f", float64(o.FileSizeBytes)/1024),
		Mode:           string(o.Mode),
		Generated:      generated.Format("2006-01-02 15:04:05 MST"),
		RiskScore:      o.RiskScore,
		RiskLevel:      string(level),
		RiskColor:      RiskColor(level),
		EntityCount:    o.EntityCount(),
		ProcessingTime: o.ProcessingTime(),
		HasRedacted:    o.HasRedactedText(),
		RedactedText:   highlightMarkers(o.RedactedText),
	}
	for _, e := range o.Entities {
		data.Entities = append(data.Entities, printEntity{
			Label:      e.DisplayLabel(),
			Original:   e.OriginalValue,
			Masked:     e.MaskedValue,
			Confidence: ConfidencePercent(e.Confidence),
		})
	}

	var buf bytes.Buffer
	if err := printTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering print report: %w", err)
	}
	return buf.Bytes(), nil
}
