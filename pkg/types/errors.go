package types

import (
	"errors"
	"fmt"
)

// ARCHITECTURAL DISCOVERY: One error taxonomy shared by every layer so the
// HTTP and WebSocket boundaries can map outcomes with errors.Is
var (
	ErrValidation         = errors.New("validation failed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrProposalNotFound   = errors.New("proposal not found")
	ErrNotApproved        = errors.New("proposal is not approved")
	ErrAlreadyPromoted    = errors.New("proposal has already been promoted")
	ErrSessionNotActive   = errors.New("session is not active")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrInvalidParticipant = errors.New("participant ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrContentTooLarge    = errors.New("message content exceeds 4KB limit")
	ErrInvalidContent     = errors.New("message content must be valid UTF-8")
)

// ValidationError reports a blank or malformed required field
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError for field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is makes every ValidationError match ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
