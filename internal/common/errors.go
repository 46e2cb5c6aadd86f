// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound = errors.New("not found")

	// Source errors.
	ErrSourceFetch      = errors.New("source fetch failed")
	ErrSourceRateLimit  = errors.New("source rate limit exceeded")
	ErrSourceConfigured = errors.New("source not configured")

	// Matching errors.
	ErrNoMatch        = errors.New("no strategy matched")
	ErrEmptySnapshot  = errors.New("catalog snapshot is empty")
	ErrRunInProgress  = errors.New("a sync run is already in progress")
	ErrInvalidDateArg = errors.New("invalid date")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}
