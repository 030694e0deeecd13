package redaction

import "strings"

// RiskLevel is the categorical severity of an outcome.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Risk thresholds. A score at or above the threshold takes the level.
const (
	HighRiskThreshold   = 25
	MediumRiskThreshold = 11
)

// DeriveRiskLevel maps a 0-100 score to a level. This is the single rule used
// wherever a level is missing: exports, print colors and the CLI. Critical is
// never derived; it only appears when the analyzer supplies it.
func DeriveRiskLevel(score int) RiskLevel {
	switch {
	case score >= HighRiskThreshold:
		return RiskHigh
	case score >= MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// IsElevated reports whether the level is High or Critical.
func (l RiskLevel) IsElevated() bool {
	switch l.Canonical() {
	case RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// Canonical returns the level with conventional capitalization ("HIGH" ->
// "High"). Unrecognized values are returned unchanged.
func (l RiskLevel) Canonical() RiskLevel {
	switch strings.ToLower(string(l)) {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	case "critical":
		return RiskCritical
	default:
		return l
	}
}
