package errors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"sentinel", ErrValidation, true},
		{"structured", &ValidationError{Reason: ReasonFileTooLarge}, true},
		{"wrapped structured", fmt.Errorf("stage: %w", &ValidationError{Reason: ReasonUnsupportedType}), true},
		{"analysis error", &AnalysisError{StatusCode: 500}, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionSentinels(t *testing.T) {
	assert.True(t, IsInvalidState(ErrSessionBusy))
	assert.True(t, IsSessionBusy(fmt.Errorf("run: %w", ErrSessionBusy)))
	assert.True(t, IsNotFound(ErrNoOutcome))
	assert.True(t, IsInvalidState(ErrNoStagedFile))
	assert.False(t, IsSessionBusy(ErrInvalidState))
}

func TestValidationError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "too large",
			err:  &ValidationError{Reason: ReasonFileTooLarge, FileName: "big.pdf", Size: 6 << 20, Limit: 5 << 20},
			want: "file size exceeds 5MB limit: big.pdf is 6291456 bytes",
		},
		{
			name: "unsupported with type",
			err:  &ValidationError{Reason: ReasonUnsupportedType, FileName: "a.exe", MediaType: "application/x-msdownload"},
			want: "unsupported file type: a.exe (application/x-msdownload)",
		},
		{
			name: "unsupported without type",
			err:  &ValidationError{Reason: ReasonUnsupportedType, FileName: "a"},
			want: "unsupported file type: a",
		},
		{
			name: "empty",
			err:  &ValidationError{Reason: ReasonEmptyContent, FileName: "raw_text"},
			want: "content is empty: raw_text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAnalysisError_Message(t *testing.T) {
	err := &AnalysisError{StatusCode: 500, Detail: "internal error"}
	assert.Equal(t, "analysis failed (HTTP 500): internal error", err.Error())

	cause := errors.New("connection refused")
	transport := &AnalysisError{Cause: cause}
	assert.Equal(t, "analysis request failed: connection refused", transport.Error())
	assert.ErrorIs(t, transport, cause)
}

func TestExportError_Predicates(t *testing.T) {
	err := fmt.Errorf("export txt: %w", &ExportError{Reason: ReasonNoRedactedTextAvailable, Format: "txt"})

	assert.True(t, IsExport(err))
	assert.True(t, IsExportReason(err, ReasonNoRedactedTextAvailable))
	assert.False(t, IsExportReason(err, ReasonPopupBlocked))
	assert.Contains(t, err.Error(), "no redacted text available")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"too large", &ValidationError{Reason: ReasonFileTooLarge}, CodeFileTooLarge},
		{"unsupported", &ValidationError{Reason: ReasonUnsupportedType}, CodeUnsupportedType},
		{"empty", &ValidationError{Reason: ReasonEmptyContent}, CodeEmptyContent},
		{"malformed", &MalformedResponseError{Field: "redacted_text"}, CodeMalformedResponse},
		{"server error", &AnalysisError{StatusCode: 500, Detail: "internal error"}, CodeAnalyzerFailed},
		{"bad request", &AnalysisError{StatusCode: 400, Detail: "Uploaded file is empty."}, CodeAnalyzerRejected},
		{"unprocessable", &AnalysisError{StatusCode: 422}, CodeAnalyzerRejected},
		{"rate limited", &AnalysisError{StatusCode: 429}, CodeRateLimit},
		{"forbidden", &AnalysisError{StatusCode: 403}, CodeUnauthorized},
		{"payload too large", &AnalysisError{StatusCode: 413}, CodeFileTooLarge},
		{"unsupported media", &AnalysisError{StatusCode: 415}, CodeUnsupportedType},
		{"unreachable", &AnalysisError{Cause: &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}}, CodeAnalyzerUnreachable},
		{"transport deadline", &AnalysisError{Cause: context.DeadlineExceeded}, CodeTimeout},
		{"cancelled", fmt.Errorf("run: %w", context.Canceled), CodeCancelled},
		{"busy", ErrSessionBusy, CodeSessionBusy},
		{"popup", &ExportError{Reason: ReasonPopupBlocked}, CodePopupBlocked},
		{"no text", &ExportError{Reason: ReasonNoRedactedTextAvailable}, CodeNoRedactedText},
		{"unknown format", &ExportError{Reason: ReasonUnknownFormat, Format: "xml"}, CodeUnknownFormat},
		{"unauthorized", ErrUnauthorized, CodeUnauthorized},
		{"other", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
