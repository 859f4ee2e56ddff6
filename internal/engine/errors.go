package engine

import (
	"errors"
	"fmt"
)

var (
	ErrRevisionBudgetExceeded = errors.New("revision budget exceeded")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrSessionExpired         = errors.New("session expired")
)

// InvalidTransitionError reports a disallowed status change. Unknown
// statuses and terminal-state repeats take the same shape.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Entity, e.From, e.To)
}

// InvalidInputError reports a request rejected before any state change.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidInput(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}
