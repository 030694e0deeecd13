// Package errors provides the error taxonomy for the redact CLI.
//
// Sentinel errors cover generic conditions (not found, invalid state) and are
// checked with errors.Is. Structured errors (ValidationError, AnalysisError,
// MalformedResponseError, ExportError) carry the detail needed to render a
// user-visible notification and are checked with errors.As or the Is* helpers.
//
// Usage:
//
//	import apperrors "github.com/otherjamesbrown/redact-cli/pkg/errors"
//
//	if apperrors.IsValidation(err) {
//	    // reject before staging
//	}
package errors

import (
	"errors"
	"fmt"
)

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates the request lacks valid authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")
)

// Session errors.
var (
	// ErrSessionBusy is returned when a run is requested while another is in flight.
	ErrSessionBusy = fmt.Errorf("%w: a processing session is already in flight", ErrInvalidState)

	// ErrNoOutcome is returned when an export is requested before a session completed.
	ErrNoOutcome = fmt.Errorf("%w: no redaction outcome available", ErrNotFound)

	// ErrNoStagedFile is returned when a run is requested with nothing staged.
	ErrNoStagedFile = fmt.Errorf("%w: no file staged", ErrInvalidState)
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
// A *ValidationError matches as well.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnauthorized reports whether any error in err's chain is ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsSessionBusy reports whether any error in err's chain is ErrSessionBusy.
func IsSessionBusy(err error) bool {
	return errors.Is(err, ErrSessionBusy)
}
