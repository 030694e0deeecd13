package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationReason identifies why a candidate file was rejected at intake.
type ValidationReason string

const (
	ReasonFileTooLarge    ValidationReason = "file_too_large"
	ReasonUnsupportedType ValidationReason = "unsupported_type"
	ReasonEmptyContent    ValidationReason = "empty_content"
)

// ValidationError is raised before staging and blocks entry to the pipeline.
type ValidationError struct {
	Reason    ValidationReason
	FileName  string
	MediaType string
	Size      int64
	Limit     int64
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonFileTooLarge:
		return fmt.Sprintf("file size exceeds %dMB limit: %s is %d bytes", e.Limit/(1024*1024), e.FileName, e.Size)
	case ReasonUnsupportedType:
		if e.MediaType == "" {
			return fmt.Sprintf("unsupported file type: %s", e.FileName)
		}
		return fmt.Sprintf("unsupported file type: %s (%s)", e.FileName, e.MediaType)
	case ReasonEmptyContent:
		return fmt.Sprintf("content is empty: %s", e.FileName)
	default:
		return fmt.Sprintf("validation failed: %s", e.FileName)
	}
}

// Is makes a *ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// AnalysisError is a non-success outcome of the single request to the
// Analysis Service. StatusCode is 0 when the request never produced a
// response (connection refused, DNS failure, timeout).
type AnalysisError struct {
	StatusCode int
	Detail     string
	Cause      error
}

func (e *AnalysisError) Error() string {
	if e.StatusCode == 0 {
		if e.Cause != nil {
			return fmt.Sprintf("analysis request failed: %v", e.Cause)
		}
		return "analysis request failed: " + e.Detail
	}
	return fmt.Sprintf("analysis failed (HTTP %d): %s", e.StatusCode, e.Detail)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// MalformedResponseError is a success response that failed schema validation.
type MalformedResponseError struct {
	Field string
	Cause error
}

func (e *MalformedResponseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed analyzer response: %v", e.Cause)
	}
	if e.Cause == nil {
		return fmt.Sprintf("malformed analyzer response: field %q is missing or invalid", e.Field)
	}
	return fmt.Sprintf("malformed analyzer response: field %q: %v", e.Field, e.Cause)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}

// ExportReason identifies why a single export action failed.
type ExportReason string

const (
	ReasonNoRedactedTextAvailable ExportReason = "no_redacted_text_available"
	ReasonPopupBlocked            ExportReason = "popup_blocked"
	ReasonUnknownFormat           ExportReason = "unknown_format"
)

// ExportError is scoped to one export action and never affects session state.
type ExportError struct {
	Reason ExportReason
	Format string
	Cause  error
}

func (e *ExportError) Error() string {
	var msg string
	switch e.Reason {
	case ReasonNoRedactedTextAvailable:
		msg = "no redacted text available"
	case ReasonPopupBlocked:
		msg = "pop-up blocked: could not open a rendering surface for the print report"
	case ReasonUnknownFormat:
		msg = fmt.Sprintf("unknown export format %q", e.Format)
	default:
		msg = "export failed"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ExportError) Unwrap() error {
	return e.Cause
}

// IsAnalysis reports whether err carries an *AnalysisError.
func IsAnalysis(err error) bool {
	var ae *AnalysisError
	return errors.As(err, &ae)
}

// IsMalformed reports whether err carries a *MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}

// IsExport reports whether err carries an *ExportError.
func IsExport(err error) bool {
	var ee *ExportError
	return errors.As(err, &ee)
}

// IsExportReason reports whether err carries an *ExportError with the given reason.
func IsExportReason(err error, reason ExportReason) bool {
	var ee *ExportError
	return errors.As(err, &ee) && ee.Reason == reason
}

// IsValidationReason reports whether err carries a *ValidationError with the given reason.
func IsValidationReason(err error, reason ValidationReason) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Reason == reason
}

// StatusText returns a fallback detail for a status code with no usable body.
func StatusText(code int) string {
	return fmt.Sprintf("HTTP %d", code)
}

// IsClientStatus reports whether code is a 4xx response.
func IsClientStatus(code int) bool {
	return code >= http.StatusBadRequest && code < http.StatusInternalServerError
}
