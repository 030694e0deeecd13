package export

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

const csvHeader = "Type,Original Value,Redacted Output,Confidence"

// buildCSV writes the entity table followed by a summary block. Entity text
// columns are always quoted while confidence is left bare ("95%"), a mix
// encoding/csv cannot produce, so rows are assembled by hand.
func buildCSV(o *redaction.Outcome, exportedAt time.Time) []byte {
	var b strings.Builder
	b.WriteString(csvHeader)
	b.WriteByte('\n')

	for i, e := range o.Entities {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(quoteAlways(e.DisplayLabel()))
		b.WriteByte(',')
		b.WriteString(quoteAlways(e.OriginalValue))
		b.WriteByte(',')
		b.WriteString(quoteAlways(e.MaskedValue))
		b.WriteByte(',')
		b.WriteString(ConfidencePercent(e.Confidence))
	}

	b.WriteString("\n\nSummary\n")
	summary := [][2]string{
		{"File", o.FileName},
		{"Risk Score", strconv.Itoa(o.RiskScore)},
		{"Risk Level", string(o.EffectiveRiskLevel())},
		{"Total Entities", strconv.Itoa(o.EntityCount())},
		{"Processing Time", o.ProcessingTime()},
		{"Exported At", exportedAt.UTC().Format(timestampLayout)},
	}
	for _, row := range summary {
		b.WriteString(row[0])
		b.WriteByte(',')
		b.WriteString(quoteIfNeeded(row[1]))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// ConfidencePercent renders a 0-1 confidence as a rounded percentage.
func ConfidencePercent(c float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(c*100)))
}

func quoteAlways(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") || strings.HasPrefix(s, " ") {
		return quoteAlways(s)
	}
	return s
}
