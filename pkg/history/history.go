// Package history records finished processing sessions in PostgreSQL. A run
// row stores counts, risk and timing only; entity values and document text
// are never persisted.
package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/redact-cli/pkg/orchestrator"
)

// Status is the terminal status of a recorded run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one recorded session.
type Run struct {
	ID                uuid.UUID      `json:"id" yaml:"id"`
	SessionID         string         `json:"session_id" yaml:"session_id"`
	FileName          string         `json:"file_name" yaml:"file_name"`
	FileFingerprint   string         `json:"file_fingerprint" yaml:"file_fingerprint"`
	FileSize          int64          `json:"file_size" yaml:"file_size"`
	MediaType         string         `json:"media_type" yaml:"media_type"`
	Mode              string         `json:"mode" yaml:"mode"`
	Status            Status         `json:"status" yaml:"status"`
	FailureCode       string         `json:"failure_code,omitempty" yaml:"failure_code,omitempty"`
	FailureMessage    string         `json:"failure_message,omitempty" yaml:"failure_message,omitempty"`
	RiskScore         int            `json:"risk_score" yaml:"risk_score"`
	RiskLevel         string         `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	EntityCount       int            `json:"entity_count" yaml:"entity_count"`
	CategoryCounts    map[string]int `json:"category_counts" yaml:"category_counts"`
	TokensOriginal    int            `json:"tokens_original" yaml:"tokens_original"`
	TokensRedacted    int            `json:"tokens_redacted" yaml:"tokens_redacted"`
	ProcessingSeconds float64        `json:"processing_seconds" yaml:"processing_seconds"`
	CreatedAt         time.Time      `json:"created_at" yaml:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	Status    *Status
	RiskLevel string
	// NameSearch matches file names case-insensitively.
	NameSearch string
	Since      *time.Time
	Limit      int
	Offset     int
}

// RunFromSession builds the run for a terminal snapshot. It reports false
// for snapshots that do not end a session.
func RunFromSession(s orchestrator.Session) (*Run, bool) {
	if s.ID == "" {
		return nil, false
	}

	run := &Run{
		ID:              uuid.New(),
		SessionID:       s.ID,
		FileName:        s.FileName,
		FileFingerprint: s.FileFingerprint,
		FileSize:        s.FileSize,
		MediaType:       s.MediaType,
		Mode:            string(s.Mode),
		CategoryCounts:  map[string]int{},
		CreatedAt:       s.UpdatedAt,
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	switch {
	case s.State == orchestrator.StateDone && s.Outcome != nil:
		o := s.Outcome
		run.Status = StatusCompleted
		run.Mode = string(o.Mode)
		run.RiskScore = o.RiskScore
		run.RiskLevel = string(o.EffectiveRiskLevel())
		run.EntityCount = o.EntityCount()
		for k, v := range o.EntityCountsByCategory {
			run.CategoryCounts[k] = v
		}
		run.TokensOriginal = o.TokenCountOriginal
		run.TokensRedacted = o.TokenCountRedacted
		run.ProcessingSeconds = o.ProcessingDurationSeconds
	case s.State == orchestrator.StateIdle && s.Failure != nil:
		run.Status = StatusFailed
		run.FailureCode = string(s.Failure.Code)
		run.FailureMessage = s.Failure.Message
		run.ProcessingSeconds = s.Elapsed().Seconds()
	default:
		return nil, false
	}
	return run, true
}
