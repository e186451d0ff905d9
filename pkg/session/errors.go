package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session does not exist
	ErrNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when MaxSessions sessions are active
	ErrTooManySessions = errors.New("too many active sessions")

	// ErrShuttingDown is returned by Create after Shutdown
	ErrShuttingDown = errors.New("session manager is shutting down")
)

// ValidationError wraps validation errors with field context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
