package export

import (
	"encoding/json"
	"time"

	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

// timestampLayout matches ISO-8601 with milliseconds in UTC.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type jsonEntity struct {
	Type          string  `json:"type"`
	OriginalValue string  `json:"original_value"`
	Redacted      string  `json:"redacted"`
	Confidence    float64 `json:"confidence"`
}

type jsonReport struct {
	FileName         string         `json:"file_name"`
	RiskScore        int            `json:"risk_score"`
	RiskLevel        string         `json:"risk_level"`
	PIISummary       map[string]int `json:"pii_summary"`
	DetectedEntities []jsonEntity   `json:"detected_entities"`
	RedactedText     string         `json:"redacted_text"`
	ProcessingTime   string         `json:"processing_time"`
	Mode             string         `json:"mode"`
	ExportedAt       string         `json:"exported_at"`
}

func buildJSON(o *redaction.Outcome, exportedAt time.Time) ([]byte, error) {
	summary := o.EntityCountsByCategory
	if summary == nil {
		summary = map[string]int{}
	}

	entities := make([]jsonEntity, len(o.Entities))
	for i, e := range o.Entities {
		entities[i] = jsonEntity{
			Type:          e.DisplayLabel(),
			OriginalValue: e.OriginalValue,
			Redacted:      e.MaskedValue,
			Confidence:    e.Confidence,
		}
	}

	report := jsonReport{
		FileName:         o.FileName,
		RiskScore:        o.RiskScore,
		RiskLevel:        string(o.EffectiveRiskLevel()),
		PIISummary:       summary,
		DetectedEntities: entities,
		RedactedText:     o.RedactedText,
		ProcessingTime:   o.ProcessingTime(),
		Mode:             string(o.Mode),
		ExportedAt:       exportedAt.UTC().Format(timestampLayout),
	}
	return json.MarshalIndent(report, "", "  ")
}
