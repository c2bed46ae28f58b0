package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for recoverable conditions.
var (
	// ErrNoAvailableWorker signals that dispatch found no claimable worker.
	// The alert stays open; the condition is recoverable.
	ErrNoAvailableWorker = errors.New("no available workers found")

	// ErrNoData signals an analytics query that matched zero readings.
	ErrNoData = errors.New("no data found for the specified parameters")
)

// ValidationError reports malformed or out-of-enum input. Caller's fault,
// no retry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an absent alert, manhole, or worker.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// NotFound builds a NotFoundError for an entity kind and identifier.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// StateError reports a transition that violates lifecycle preconditions.
type StateError struct {
	Message string
}

func (e *StateError) Error() string { return e.Message }

// Statef builds a StateError.
func Statef(format string, args ...any) error {
	return &StateError{Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage collaborator failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it already carries
// taxonomy meaning.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsState reports whether err is a StateError.
func IsState(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
