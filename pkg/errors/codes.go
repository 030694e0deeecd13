package errors

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrorCode represents a classified failure, used for metric labels,
// history records and CLI hints.
type ErrorCode string

const (
	CodeFileTooLarge        ErrorCode = "file_too_large"
	CodeUnsupportedType     ErrorCode = "unsupported_type"
	CodeEmptyContent        ErrorCode = "empty_content"
	CodeAnalyzerRejected    ErrorCode = "analyzer_rejected"
	CodeAnalyzerFailed      ErrorCode = "analyzer_failed"
	CodeAnalyzerUnreachable ErrorCode = "analyzer_unreachable"
	CodeRateLimit           ErrorCode = "rate_limit"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeMalformedResponse   ErrorCode = "malformed_response"
	CodeNoRedactedText      ErrorCode = "no_redacted_text"
	CodePopupBlocked        ErrorCode = "popup_blocked"
	CodeUnknownFormat       ErrorCode = "unknown_format"
	CodeSessionBusy         ErrorCode = "session_busy"
	CodeTimeout             ErrorCode = "timeout"
	CodeCancelled           ErrorCode = "cancelled"
	CodeInternal            ErrorCode = "internal"
)

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata. Retryable marks
// failures a user-initiated rerun may fix; nothing retries automatically.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeFileTooLarge: {
		Code:            CodeFileTooLarge,
		Retryable:       false,
		Description:     "File exceeds the 5MB upload limit",
		SuggestedAction: "Split the document or export a smaller excerpt before scanning",
	},
	CodeUnsupportedType: {
		Code:            CodeUnsupportedType,
		Retryable:       false,
		Description:     "File type is not accepted (text, CSV, PDF, PNG, JPEG, JSON only)",
		SuggestedAction: "Convert the document to one of the accepted formats",
	},
	CodeEmptyContent: {
		Code:            CodeEmptyContent,
		Retryable:       false,
		Description:     "Document or text is empty",
		SuggestedAction: "Verify the source file has content",
	},
	CodeAnalyzerRejected: {
		Code:            CodeAnalyzerRejected,
		Retryable:       false,
		Description:     "Analysis service rejected the document",
		SuggestedAction: "Read the service detail above; the document may be unreadable or unsupported",
	},
	CodeAnalyzerFailed: {
		Code:            CodeAnalyzerFailed,
		Retryable:       true,
		Description:     "Analysis service failed while processing the document",
		SuggestedAction: "Check service health: redact health, then rerun the scan",
	},
	CodeAnalyzerUnreachable: {
		Code:            CodeAnalyzerUnreachable,
		Retryable:       true,
		Description:     "Analysis service could not be reached",
		SuggestedAction: "Verify analyzer_url: redact config show, then redact health",
	},
	CodeRateLimit: {
		Code:            CodeRateLimit,
		Retryable:       true,
		Description:     "Analysis service rate limit exceeded",
		SuggestedAction: "Wait a moment and rerun the scan",
	},
	CodeUnauthorized: {
		Code:            CodeUnauthorized,
		Retryable:       false,
		Description:     "Analysis service refused the credentials",
		SuggestedAction: "Store a valid token: redact auth set-token",
	},
	CodeMalformedResponse: {
		Code:            CodeMalformedResponse,
		Retryable:       false,
		Description:     "Analysis service returned a response missing required fields",
		SuggestedAction: "Check the analyzer version matches the expected response contract",
	},
	CodeNoRedactedText: {
		Code:            CodeNoRedactedText,
		Retryable:       false,
		Description:     "Outcome has no redacted text to export",
		SuggestedAction: "Use the JSON or CSV report instead",
	},
	CodePopupBlocked: {
		Code:            CodePopupBlocked,
		Retryable:       true,
		Description:     "Print report could not be opened",
		SuggestedAction: "Allow the browser to open, or export with --out to save the HTML report",
	},
	CodeUnknownFormat: {
		Code:            CodeUnknownFormat,
		Retryable:       false,
		Description:     "Export format is not recognized",
		SuggestedAction: "Use one of: json, csv, pdf, txt",
	},
	CodeSessionBusy: {
		Code:            CodeSessionBusy,
		Retryable:       true,
		Description:     "A processing session is already in flight",
		SuggestedAction: "Wait for the current session to finish or cancel it",
	},
	CodeTimeout: {
		Code:            CodeTimeout,
		Retryable:       true,
		Description:     "Operation exceeded time limit",
		SuggestedAction: "Raise the timeout: redact --timeout 5m, or redact config set timeout 5m",
	},
	CodeCancelled: {
		Code:            CodeCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by user or system",
		SuggestedAction: "Check if cancellation was intentional",
	},
	CodeInternal: {
		Code:            CodeInternal,
		Retryable:       false,
		Description:     "Unclassified error",
		SuggestedAction: "Rerun with --debug and check the log output",
	},
}

// Classify maps err to an ErrorCode. It returns "" for a nil error.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		switch ve.Reason {
		case ReasonFileTooLarge:
			return CodeFileTooLarge
		case ReasonUnsupportedType:
			return CodeUnsupportedType
		case ReasonEmptyContent:
			return CodeEmptyContent
		}
	}

	var ee *ExportError
	if errors.As(err, &ee) {
		switch ee.Reason {
		case ReasonNoRedactedTextAvailable:
			return CodeNoRedactedText
		case ReasonPopupBlocked:
			return CodePopupBlocked
		case ReasonUnknownFormat:
			return CodeUnknownFormat
		}
	}

	var me *MalformedResponseError
	if errors.As(err, &me) {
		return CodeMalformedResponse
	}

	if errors.Is(err, ErrSessionBusy) {
		return CodeSessionBusy
	}

	// Context errors take priority over transport failures they caused.
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}

	var ae *AnalysisError
	if errors.As(err, &ae) {
		return classifyStatus(ae)
	}

	if errors.Is(err, ErrUnauthorized) {
		return CodeUnauthorized
	}

	return CodeInternal
}

func classifyStatus(ae *AnalysisError) ErrorCode {
	switch {
	case ae.StatusCode == 0:
		lower := strings.ToLower(ae.Error())
		if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline") {
			return CodeTimeout
		}
		return CodeAnalyzerUnreachable
	case ae.StatusCode == http.StatusTooManyRequests:
		return CodeRateLimit
	case ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden:
		return CodeUnauthorized
	case ae.StatusCode == http.StatusRequestEntityTooLarge:
		return CodeFileTooLarge
	case ae.StatusCode == http.StatusUnsupportedMediaType:
		return CodeUnsupportedType
	case IsClientStatus(ae.StatusCode):
		return CodeAnalyzerRejected
	default:
		return CodeAnalyzerFailed
	}
}

// IsRetryable returns true if the given error code represents a failure a
// fresh user-initiated run may resolve.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Rerun with --debug and check the log output"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
