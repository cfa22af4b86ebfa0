package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the domain services and storage layer.
var (
	// ErrNotFound signals the requested entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrConflict signals an optimistic-concurrency loss. Callers should
	// re-read the entity and retry.
	ErrConflict = errors.New("version conflict")
	// ErrDuplicateKey signals a uniqueness violation. Retrying with the
	// same input will fail again.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrAlreadyMember signals the user is already on the project.
	ErrAlreadyMember = errors.New("already a member")
	// ErrForbidden signals the actor's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports malformed input. It is never retryable as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a status edge the workflow does not allow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// TransientError wraps a collaborator timeout or unavailability. The whole
// operation is safe to retry.
type TransientError struct {
	Err error
}

func (e TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a definitive collaborator rejection. Retrying will
// not help.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable as a whole operation.
func IsTransient(err error) bool {
	var te TransientError
	return errors.As(err, &te)
}
