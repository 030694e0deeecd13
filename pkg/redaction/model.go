// Package redaction defines the shared domain model for a redaction session:
// the normalized outcome, its entities, redaction modes, risk levels and the
// category tables used to talk to the Analysis Service.
package redaction

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf16"
)

// Mode selects how the user wants detected values replaced. It is recorded on
// the outcome and exported; the Analysis Service is not told about it.
type Mode string

const (
	ModeFull      Mode = "full"
	ModeMask      Mode = "mask"
	ModeSynthetic Mode = "synthetic"
)

// DefaultMode is the mode used when none is configured.
const DefaultMode = ModeFull

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFull, ModeMask, ModeSynthetic:
		return m, nil
	case "":
		return DefaultMode, nil
	default:
		return "", fmt.Errorf("invalid mode %q (must be full, mask, or synthetic)", s)
	}
}

// Label returns the human-readable name of the mode.
func (m Mode) Label() string {
	switch m {
	case ModeFull:
		return "Full Redaction"
	case ModeMask:
		return "Masking"
	case ModeSynthetic:
		return "Synthetic Replace"
	default:
		return string(m)
	}
}

// DefaultConfidence is the placeholder confidence assigned to every entity.
// The analyzer reports no per-entity confidence; this is provisional and
// carries no signal.
const DefaultConfidence = 0.95

// PIIEntity is one detection reported by the analyzer.
type PIIEntity struct {
	// Category is the analyzer's code (EMAIL, NAME, ...), never the display label.
	Category      string  `json:"category" yaml:"category"`
	OriginalValue string  `json:"original_value" yaml:"original_value"`
	MaskedValue   string  `json:"masked_value" yaml:"masked_value"`
	Confidence    float64 `json:"confidence" yaml:"confidence"`
	// OrdinalPosition is the 1-based position in the analyzer's response,
	// not a location in the document.
	OrdinalPosition int `json:"ordinal_position" yaml:"ordinal_position"`
}

// DisplayLabel returns the presentation label for the entity's category.
func (e PIIEntity) DisplayLabel() string {
	return DisplayLabel(e.Category)
}

// MaskFor returns the placeholder the analyzer substitutes for a category.
func MaskFor(category string) string {
	return "[REDACTED_" + category + "]"
}

// Outcome is the normalized result of one completed session. It is built
// once and treated as read-only by every consumer.
type Outcome struct {
	FileName      string      `json:"file_name" yaml:"file_name"`
	FileSizeBytes int64       `json:"file_size_bytes" yaml:"file_size_bytes"`
	Entities      []PIIEntity `json:"entities" yaml:"entities"`
	RiskScore     int         `json:"risk_score" yaml:"risk_score"`
	// RiskLevel is the analyzer-supplied level, or "" when absent.
	RiskLevel              RiskLevel      `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	EntityCountsByCategory map[string]int `json:"entity_counts_by_category" yaml:"entity_counts_by_category"`
	// RedactedText is "" when the outcome has no redacted text.
	RedactedText              string  `json:"redacted_text,omitempty" yaml:"redacted_text,omitempty"`
	TokenCountOriginal        int     `json:"token_count_original" yaml:"token_count_original"`
	TokenCountRedacted        int     `json:"token_count_redacted" yaml:"token_count_redacted"`
	ProcessingDurationSeconds float64 `json:"processing_duration_seconds" yaml:"processing_duration_seconds"`
	Mode                      Mode    `json:"mode" yaml:"mode"`
}

// EffectiveRiskLevel returns the analyzer's level when present, otherwise the
// level derived from the score.
func (o *Outcome) EffectiveRiskLevel() RiskLevel {
	if o.RiskLevel != "" {
		return o.RiskLevel
	}
	return DeriveRiskLevel(o.RiskScore)
}

// HasRedactedText reports whether the outcome carries redacted text.
func (o *Outcome) HasRedactedText() bool {
	return o.RedactedText != ""
}

// EntityCount returns the number of detected entities.
func (o *Outcome) EntityCount() int {
	return len(o.Entities)
}

// ProcessingTime renders the duration the way reports show it, e.g. "1.23s".
func (o *Outcome) ProcessingTime() string {
	return fmt.Sprintf("%.2fs", o.ProcessingDurationSeconds)
}

// TokenReductionPercent returns the rounded share of tokens removed by
// redaction, or 0 when there were no original tokens.
func (o *Outcome) TokenReductionPercent() int {
	if o.TokenCountOriginal == 0 {
		return 0
	}
	diff := float64(o.TokenCountOriginal-o.TokenCountRedacted) / float64(o.TokenCountOriginal) * 100
	return int(math.Floor(diff + 0.5))
}

// TextLength returns the length of s in UTF-16 code units, the unit the
// token heuristic has always been computed in.
func TextLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}
