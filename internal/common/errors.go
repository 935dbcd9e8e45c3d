package common

import (
	"errors"
	"fmt"
)

// Kind classifies an application error. Only KindAuthenticationFailure and
// KindQuotaExceeded abort a whole extraction job; the other kinds are isolated
// to the single message being processed.
type Kind string

const (
	KindAuthenticationFailure Kind = "AUTHENTICATION_FAILURE"
	KindProviderUnavailable   Kind = "PROVIDER_UNAVAILABLE"
	KindExtractionFailure     Kind = "EXTRACTION_FAILURE"
	KindQuotaExceeded         Kind = "QUOTA_EXCEEDED"
	KindPersistenceConflict   Kind = "PERSISTENCE_CONFLICT"
	KindMalformedContent      Kind = "MALFORMED_CONTENT"
	KindNotFound              Kind = "NOT_FOUND"
	KindInvalidInput          Kind = "INVALID_INPUT"
	KindInternal              Kind = "INTERNAL"
)

// AppError represents application-specific errors
type AppError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError builds an AppError with the given kind.
func NewAppError(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or KindInternal when err is not an
// AppError.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsRetryable reports whether a single-message error is worth one more
// attempt before counting the message as rejected.
func IsRetryable(err error) bool {
	return KindOf(err) == KindProviderUnavailable
}

// IsFatal reports whether err must abort the whole job.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindAuthenticationFailure, KindQuotaExceeded:
		return true
	}
	return false
}

// Common sentinel errors
var (
	ErrNotFound              = errors.New("resource not found")
	ErrSourceAccountNotFound = errors.New("source account not found")
	ErrSourceAccountInactive = errors.New("source account inactive")
)

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
