package proof

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/proofstamp/internal/fingerprint"
)

// ErrorCode categorizes failures so callers can choose user-facing messaging
// and retry policy.
type ErrorCode string

const (
	// ErrCodeValidation: malformed fingerprint, oversized content, missing
	// owner. Rejected before any ledger interaction.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConflict: the fingerprint is already anchored. Not retried.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeSubmissionRejected: the ledger refused the operation. Not
	// retried automatically, since a blind retry could double-submit.
	ErrCodeSubmissionRejected ErrorCode = "SUBMISSION_REJECTED"

	// ErrCodeTimeout: confirmation did not arrive in time. The operation may
	// still confirm later.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeUnavailable: the ledger endpoint could not be reached.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"

	// ErrCodeIndexWrite: the ledger confirmed but the local write failed.
	// The anchor is visible only through the ledger-only path until
	// reconciled.
	ErrCodeIndexWrite ErrorCode = "INDEX_WRITE_FAILURE"

	// ErrCodeNotFound: a lookup that requires an existing record found none.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// ConflictInfo carries enough of the existing record to explain a conflict.
type ConflictInfo struct {
	OwnerID          string    `json:"owner_id,omitempty"`
	OwnerDisplayName string    `json:"owner_display_name"`
	RecordedAt       time.Time `json:"recorded_at,omitzero"`
	Pending          bool      `json:"pending,omitempty"`
}

// Error is the single error type returned across package boundaries.
type Error struct {
	Code        ErrorCode
	Message     string
	Fingerprint fingerprint.Fingerprint

	// Existing is set for ErrCodeConflict.
	Existing *ConflictInfo

	// Receipt is set for ErrCodeIndexWrite so the caller can reconcile.
	Receipt *Receipt

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if !e.Fingerprint.IsZero() {
		msg = fmt.Sprintf("%s (fingerprint=%s)", msg, e.Fingerprint)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func IsValidation(err error) bool  { return CodeOf(err) == ErrCodeValidation }
func IsConflict(err error) bool    { return CodeOf(err) == ErrCodeConflict }
func IsRejected(err error) bool    { return CodeOf(err) == ErrCodeSubmissionRejected }
func IsTimeout(err error) bool     { return CodeOf(err) == ErrCodeTimeout }
func IsUnavailable(err error) bool { return CodeOf(err) == ErrCodeUnavailable }
func IsIndexWrite(err error) bool  { return CodeOf(err) == ErrCodeIndexWrite }
func IsNotFound(err error) bool    { return CodeOf(err) == ErrCodeNotFound }

// Retryable reports whether the caller may retry err with backoff. Only
// failures that leave no local state behind qualify.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// ConflictOf returns the conflict details carried by err, if any.
func ConflictOf(err error) (*ConflictInfo, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Code == ErrCodeConflict && pe.Existing != nil {
		return pe.Existing, true
	}
	return nil, false
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message}
}

// NewConflictError creates a conflict error for fp against an existing record.
func NewConflictError(fp fingerprint.Fingerprint, existing ConflictInfo) *Error {
	msg := fmt.Sprintf("already anchored by %s", existing.OwnerDisplayName)
	if existing.Pending {
		msg = "anchor already in progress"
	}
	return &Error{
		Code:        ErrCodeConflict,
		Message:     msg,
		Fingerprint: fp,
		Existing:    &existing,
	}
}

// NewRejectedError wraps a ledger refusal.
func NewRejectedError(fp fingerprint.Fingerprint, message string, err error) *Error {
	return &Error{Code: ErrCodeSubmissionRejected, Message: message, Fingerprint: fp, Err: err}
}

// NewTimeoutError wraps a confirmation timeout.
func NewTimeoutError(fp fingerprint.Fingerprint, message string, err error) *Error {
	return &Error{Code: ErrCodeTimeout, Message: message, Fingerprint: fp, Err: err}
}

// NewUnavailableError wraps a transport failure.
func NewUnavailableError(message string, err error) *Error {
	return &Error{Code: ErrCodeUnavailable, Message: message, Err: err}
}

// NewIndexWriteError records a confirmed anchor that could not be persisted.
func NewIndexWriteError(fp fingerprint.Fingerprint, rc Receipt, err error) *Error {
	return &Error{
		Code:        ErrCodeIndexWrite,
		Message:     fmt.Sprintf("ledger confirmed tx %s but index write failed", rc.TxRef),
		Fingerprint: fp,
		Receipt:     &rc,
		Err:         err,
	}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(fp fingerprint.Fingerprint, message string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: message, Fingerprint: fp}
}
