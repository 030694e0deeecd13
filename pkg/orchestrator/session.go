package orchestrator

import (
	"errors"
	"fmt"
	"time"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

// State is a processing session's position in the pipeline.
type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StateAnalyzing State = "analyzing"
	StateRedacting State = "redacting"
	StateDone      State = "done"
)

// Progress returns the checkpoint percentage reached on entering s.
func (s State) Progress() int {
	switch s {
	case StateUploading:
		return 10
	case StateAnalyzing:
		return 40
	case StateRedacting:
		return 80
	case StateDone:
		return 100
	default:
		return 0
	}
}

// Label returns the status line shown while in s.
func (s State) Label() string {
	switch s {
	case StateUploading:
		return "Uploading securely..."
	case StateAnalyzing:
		return "AI analysis in progress..."
	case StateRedacting:
		return "Applying redactions..."
	case StateDone:
		return "Processing complete"
	default:
		return "Ready"
	}
}

// InFlight reports whether s is between Idle and Done.
func (s State) InFlight() bool {
	switch s {
	case StateUploading, StateAnalyzing, StateRedacting:
		return true
	default:
		return false
	}
}

// Failure explains why a session returned to Idle.
type Failure struct {
	Code    apperrors.ErrorCode `json:"code" yaml:"code"`
	Message string              `json:"message" yaml:"message"`
	// State is where the session was when it failed.
	State State `json:"state" yaml:"state"`
	Err   error `json:"-" yaml:"-"`
}

// Session is an immutable snapshot of one processing session. Every
// transition produces a new value.
type Session struct {
	ID              string         `json:"id" yaml:"id"`
	State           State          `json:"state" yaml:"state"`
	Progress        int            `json:"progress" yaml:"progress"`
	StartedAt       time.Time      `json:"started_at" yaml:"started_at"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"updated_at"`
	FileName        string         `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	MediaType       string         `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	FileSize        int64          `json:"file_size,omitempty" yaml:"file_size,omitempty"`
	FileFingerprint string         `json:"file_fingerprint,omitempty" yaml:"file_fingerprint,omitempty"`
	Mode            redaction.Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
	EnabledTypes    []string       `json:"enabled_types,omitempty" yaml:"enabled_types,omitempty"`
	// Failure is set only on the Idle snapshot that ends a failed run.
	Failure *Failure `json:"failure,omitempty" yaml:"failure,omitempty"`
	// Outcome is set only in Done.
	Outcome *redaction.Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}

// Elapsed returns the time since the session left Idle, as of UpdatedAt.
func (s Session) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.UpdatedAt.Sub(s.StartedAt)
}

// Message returns the notification shown for a terminal snapshot.
func (s Session) Message() string {
	switch {
	case s.State == StateDone && s.Outcome != nil:
		return SuccessMessage(s.Outcome)
	case s.Failure != nil:
		return s.Failure.Message
	default:
		return s.State.Label()
	}
}

// SuccessMessage is the completion notice for an outcome.
func SuccessMessage(o *redaction.Outcome) string {
	return fmt.Sprintf("Redaction complete: %d PII entities found", o.EntityCount())
}

// defaultFailureMessage is shown when an error carries no detail of its own.
const defaultFailureMessage = "Failed to analyze file"

// FailureMessage returns the user-facing text for a failed run.
func FailureMessage(err error) string {
	var ae *apperrors.AnalysisError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ae) && ae.StatusCode != 0 && ae.Detail != "":
		return ae.Detail
	case apperrors.Classify(err) == apperrors.CodeCancelled:
		return "Processing cancelled"
	case apperrors.Classify(err) == apperrors.CodeTimeout:
		return "Analysis timed out"
	case apperrors.Classify(err) == apperrors.CodeAnalyzerUnreachable:
		return "Analysis Service is unreachable"
	default:
		return defaultFailureMessage
	}
}
