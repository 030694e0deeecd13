package api

import (
	"errors"
	"net/http"
	"time"

	apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
	"github.com/otherjamesbrown/redact-cli/pkg/export"
	"github.com/otherjamesbrown/redact-cli/pkg/orchestrator"
	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

var errMissingInput = errors.New("file or text is required")

// StatusFor maps an error to the HTTP status the front reports it with.
func StatusFor(err error) int {
	var ve *apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		switch ve.Reason {
		case apperrors.ReasonFileTooLarge:
			return http.StatusRequestEntityTooLarge
		case apperrors.ReasonUnsupportedType:
			return http.StatusUnsupportedMediaType
		default:
			return http.StatusBadRequest
		}
	case errors.Is(err, errMissingInput):
		return http.StatusBadRequest
	case apperrors.IsExportReason(err, apperrors.ReasonUnknownFormat):
		return http.StatusBadRequest
	case apperrors.IsExportReason(err, apperrors.ReasonNoRedactedTextAvailable):
		return http.StatusNotFound
	case apperrors.IsSessionBusy(err):
		return http.StatusConflict
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsInvalidState(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type failureView struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	FromState string `json:"from_state"`
}

type entityView struct {
	Type            string  `json:"type"`
	Label           string  `json:"label"`
	OriginalValue   string  `json:"original_value"`
	MaskedValue     string  `json:"masked_value"`
	Confidence      float64 `json:"confidence"`
	OrdinalPosition int     `json:"ordinal_position"`
}

type outcomeView struct {
	FileName              string         `json:"file_name"`
	FileSizeBytes         int64          `json:"file_size_bytes"`
	EntityCount           int            `json:"entity_count"`
	RiskScore             int            `json:"risk_score"`
	RiskLevel             string         `json:"risk_level"`
	RiskColor             string         `json:"risk_color"`
	CategoryCounts        map[string]int `json:"category_counts"`
	TokensOriginal        int            `json:"tokens_original"`
	TokensRedacted        int            `json:"tokens_redacted"`
	TokenReductionPercent int            `json:"token_reduction_percent"`
	ProcessingTime        string         `json:"processing_time"`
	Mode                  string         `json:"mode"`
	Entities              []entityView   `json:"entities"`
	RedactedText          string         `json:"redacted_text"`
}

type sessionView struct {
	ID             string       `json:"id,omitempty"`
	State          string       `json:"state"`
	Progress       int          `json:"progress"`
	Label          string       `json:"label"`
	Message        string       `json:"message"`
	FileName       string       `json:"file_name,omitempty"`
	MediaType      string       `json:"media_type,omitempty"`
	FileSize       int64        `json:"file_size,omitempty"`
	Mode           string       `json:"mode,omitempty"`
	EnabledTypes   []string     `json:"enabled_types,omitempty"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	ElapsedSeconds float64      `json:"elapsed_seconds"`
	Failure        *failureView `json:"failure,omitempty"`
	Outcome        *outcomeView `json:"outcome,omitempty"`
}

func newSessionView(s orchestrator.Session) sessionView {
	v := sessionView{
		ID:             s.ID,
		State:          string(s.State),
		Progress:       s.Progress,
		Label:          s.State.Label(),
		Message:        s.Message(),
		FileName:       s.FileName,
		MediaType:      s.MediaType,
		FileSize:       s.FileSize,
		Mode:           string(s.Mode),
		EnabledTypes:   s.EnabledTypes,
		ElapsedSeconds: s.Elapsed().Seconds(),
	}
	if !s.StartedAt.IsZero() {
		started := s.StartedAt
		v.StartedAt = &started
	}
	if s.Failure != nil {
		v.Failure = &failureView{
			Code:      string(s.Failure.Code),
			Message:   s.Failure.Message,
			FromState: string(s.Failure.State),
		}
	}
	if s.State == orchestrator.StateDone && s.Outcome != nil {
		v.Outcome = newOutcomeView(s.Outcome)
	}
	return v
}

func newOutcomeView(o *redaction.Outcome) *outcomeView {
	level := o.EffectiveRiskLevel()
	v := &outcomeView{
		FileName:              o.FileName,
		FileSizeBytes:         o.FileSizeBytes,
		EntityCount:           o.EntityCount(),
		RiskScore:             o.RiskScore,
		RiskLevel:             string(level),
		RiskColor:             export.RiskColor(level),
		CategoryCounts:        o.EntityCountsByCategory,
		TokensOriginal:        o.TokenCountOriginal,
		TokensRedacted:        o.TokenCountRedacted,
		TokenReductionPercent: o.TokenReductionPercent(),
		ProcessingTime:        o.ProcessingTime(),
		Mode:                  string(o.Mode),
		Entities:              make([]entityView, 0, len(o.Entities)),
		RedactedText:          o.RedactedText,
	}
	if v.CategoryCounts == nil {
		v.CategoryCounts = map[string]int{}
	}
	for _, e := range o.Entities {
		v.Entities = append(v.Entities, entityView{
			Type:            e.Category,
			Label:           e.DisplayLabel(),
			OriginalValue:   e.OriginalValue,
			MaskedValue:     e.MaskedValue,
			Confidence:      e.Confidence,
			OrdinalPosition: e.OrdinalPosition,
		})
	}
	return v
}
