package veloql

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested item does not exist.
	ErrNotFound = errors.New("veloql: item not found")

	// ErrAccessDenied is returned when a permission check rejects an operation.
	ErrAccessDenied = errors.New("veloql: access denied")

	// ErrInvalidInput is returned when a request payload cannot be
	// interpreted, e.g. an association given both as id and inline object.
	ErrInvalidInput = errors.New("veloql: invalid input")

	// ErrOperationDisabled is returned when an operation was disabled for an
	// entity by configuration.
	ErrOperationDisabled = errors.New("veloql: operation disabled")
)

// NotFoundError represents an error when an item is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("veloql: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("veloql: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// AccessDeniedError represents a rejected permission check.
type AccessDeniedError struct {
	Entity string // Entity type
	Op     Op     // Operation that was denied
	Err    error  // Decision returned by the policy
}

// Error returns the error string.
func (e *AccessDeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("veloql: access denied for %s on %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("veloql: access denied for %s on %s", e.Op, e.Entity)
}

// Is reports whether the target error matches ErrAccessDenied.
func (e *AccessDeniedError) Is(err error) bool {
	return err == ErrAccessDenied
}

// Unwrap returns the policy decision.
func (e *AccessDeniedError) Unwrap() error {
	return e.Err
}

// NewAccessDeniedError returns a new AccessDeniedError.
func NewAccessDeniedError(entity string, op Op, err error) *AccessDeniedError {
	return &AccessDeniedError{Entity: entity, Op: op, Err: err}
}

// IsAccessDenied returns true if the error is an AccessDeniedError.
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	var e *AccessDeniedError
	return errors.As(err, &e) || errors.Is(err, ErrAccessDenied)
}

// InputError reports a payload that cannot be interpreted for an entity.
type InputError struct {
	Entity string
	Field  string
	Msg    string
}

// Error returns the error string.
func (e *InputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("veloql: invalid input for %s.%s: %s", e.Entity, e.Field, e.Msg)
	}
	return fmt.Sprintf("veloql: invalid input for %s: %s", e.Entity, e.Msg)
}

// Is reports whether the target error matches ErrInvalidInput.
func (e *InputError) Is(err error) bool {
	return err == ErrInvalidInput
}

// NewInputError returns a new InputError.
func NewInputError(entity, field, format string, args ...any) *InputError {
	return &InputError{Entity: entity, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ViolationsError carries validation violations where an operation must fail
// instead of returning them as a value, e.g. nested creates.
type ViolationsError struct {
	Entity     string
	Violations []Violation
}

// Error returns the error string.
func (e *ViolationsError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("veloql: %s is invalid: %s", e.Entity, strings.Join(msgs, "; "))
}

// IsViolations returns true if the error is a ViolationsError.
func IsViolations(err error) bool {
	if err == nil {
		return false
	}
	var e *ViolationsError
	return errors.As(err, &e)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "veloql: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("veloql: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// QueryError wraps a read error with additional context.
type QueryError struct {
	Entity string // Entity type being queried
	Op     string // Operation (e.g., "findById", "findByFilter")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("veloql: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("veloql: querying %s: %v", e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// MutationError wraps a write error with additional context.
type MutationError struct {
	Entity string // Entity type being mutated
	Op     string // Operation (e.g., "create", "update", "delete")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("veloql: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}
