package domain

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors for validation failures.
var (
	ErrEmptyQuestion = errors.New("question must not be empty")
	ErrEmptyAnswer   = errors.New("answer must not be empty")
	ErrEmptyQuery    = errors.New("query must not be empty")
	ErrTextTooLong   = errors.New("text exceeds maximum length")
	ErrTopOutOfRange = errors.New("top out of range")
)

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Wrapped)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Wrapped: wrapped}
}

// IsValidation reports whether err is a validation failure. Validation
// errors map to a client error and are never retried.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err looks like a transient backend failure
// worth a bounded retry: connection-level gRPC failures from the vector
// store, or network-level failures reaching the embedding provider.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
