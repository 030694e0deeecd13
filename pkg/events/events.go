// Package events publishes processing-session lifecycle events to Redis.
// Events carry identifiers, states and counts only; original values and
// document text are never published.
package events

import (
	"time"

	"github.com/otherjamesbrown/redact-cli/pkg/orchestrator"
)

// Redis channels for session events
const (
	ChannelTransition = "events.redaction.transition"
	ChannelCompleted  = "events.redaction.completed"
	ChannelFailed     = "events.redaction.failed"
)

// Event types
const (
	TypeTransition = "redaction.transition"
	TypeCompleted  = "redaction.completed"
	TypeFailed     = "redaction.failed"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with sensible defaults.
func NewBaseEvent(eventType, sessionID string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Source:    "redact",
		Version:   "1.0",
	}
}

// TransitionEvent is published on every state change.
type TransitionEvent struct {
	BaseEvent

	State    string `json:"state"`
	Progress int    `json:"progress"`
	Label    string `json:"label"`
	FileName string `json:"file_name"`
}

// CompletedEvent is published when a session reaches Done.
type CompletedEvent struct {
	BaseEvent

	FileName          string         `json:"file_name"`
	FileFingerprint   string         `json:"file_fingerprint"`
	FileSizeBytes     int64          `json:"file_size_bytes"`
	Mode              string         `json:"mode"`
	EntityCount       int            `json:"entity_count"`
	CategoryCounts    map[string]int `json:"category_counts"`
	RiskScore         int            `json:"risk_score"`
	RiskLevel         string         `json:"risk_level"`
	TokensOriginal    int            `json:"tokens_original"`
	TokensRedacted    int            `json:"tokens_redacted"`
	ProcessingSeconds float64        `json:"processing_seconds"`
}

// FailedEvent is published when a session falls back to Idle.
type FailedEvent struct {
	BaseEvent

	FileName   string `json:"file_name"`
	FailedFrom string `json:"failed_from"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Envelope pairs an event with its channel.
type Envelope struct {
	Channel string
	Event   any
}

// FromSession maps a session snapshot to the events it implies. Every
// transition yields a TransitionEvent; Done and failures add a terminal event.
func FromSession(s orchestrator.Session) []Envelope {
	if s.ID == "" {
		return nil
	}

	out := []Envelope{{
		Channel: ChannelTransition,
		Event: TransitionEvent{
			BaseEvent: NewBaseEvent(TypeTransition, s.ID),
			State:     string(s.State),
			Progress:  s.Progress,
			Label:     s.State.Label(),
			FileName:  s.FileName,
		},
	}}

	switch {
	case s.State == orchestrator.StateDone && s.Outcome != nil:
		o := s.Outcome
		out = append(out, Envelope{
			Channel: ChannelCompleted,
			Event: CompletedEvent{
				BaseEvent:         NewBaseEvent(TypeCompleted, s.ID),
				FileName:          o.FileName,
				FileFingerprint:   s.FileFingerprint,
				FileSizeBytes:     o.FileSizeBytes,
				Mode:              string(o.Mode),
				EntityCount:       o.EntityCount(),
				CategoryCounts:    o.EntityCountsByCategory,
				RiskScore:         o.RiskScore,
				RiskLevel:         string(o.EffectiveRiskLevel()),
				TokensOriginal:    o.TokenCountOriginal,
				TokensRedacted:    o.TokenCountRedacted,
				ProcessingSeconds: o.ProcessingDurationSeconds,
			},
		})
	case s.State == orchestrator.StateIdle && s.Failure != nil:
		out = append(out, Envelope{
			Channel: ChannelFailed,
			Event: FailedEvent{
				BaseEvent:  NewBaseEvent(TypeFailed, s.ID),
				FileName:   s.FileName,
				FailedFrom: string(s.Failure.State),
				Code:       string(s.Failure.Code),
				Message:    s.Failure.Message,
			},
		})
	}
	return out
}
