package bulk

import (
	"fmt"
)

// ErrorKind classifies engine errors.
type ErrorKind string

const (
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindInvalidState  ErrorKind = "invalid_state"
	ErrorKindBatchTooLarge ErrorKind = "batch_too_large"
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindPermanent     ErrorKind = "permanent"
	ErrorKindInternal      ErrorKind = "internal"
	ErrorKindCancelled     ErrorKind = "cancelled"
)

// Error is the engine's error type. Control-surface errors (validation,
// not-found, invalid-state) carry no item; per-item errors carry the item id
// they belong to.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	ItemID    string    `json:"item_id,omitempty"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "unknown bulk error"
	}
	if e.ItemID != "" {
		return fmt.Sprintf("[%s] item %s: %s", e.Kind, e.ItemID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches two engine errors by kind, so errors.Is(err, ErrOperationNotFound)
// holds for any not_found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewValidationError creates a bad-request error, rejected before an
// operation is created.
func NewValidationError(message string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message}
}

// NewTransientError marks an item failure as retryable. Classification is
// the mutation function's responsibility, not the engine's.
func NewTransientError(itemID, message string, cause error) *Error {
	return &Error{Kind: ErrorKindTransient, ItemID: itemID, Message: message, Cause: cause, Retryable: true}
}

// NewPermanentError marks an item failure as final: recorded, never retried.
func NewPermanentError(itemID, message string, cause error) *Error {
	return &Error{Kind: ErrorKindPermanent, ItemID: itemID, Message: message, Cause: cause}
}

// NewInternalError wraps an engine-side fault (including recovered panics)
// so it surfaces as a per-item failure instead of crashing the scheduler.
func NewInternalError(itemID, message string, cause error) *Error {
	return &Error{Kind: ErrorKindInternal, ItemID: itemID, Message: message, Cause: cause}
}

// IsRetryable reports whether an item error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if bErr, ok := err.(*Error); ok {
		return bErr.Retryable
	}
	return false
}

// KindOf returns the classification of an error. Unclassified errors from a
// mutation function count as permanent.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if bErr, ok := err.(*Error); ok {
		return bErr.Kind
	}
	return ErrorKindPermanent
}

// Common engine errors.
var (
	// ErrOperationNotFound is returned for an unknown operation id or one
	// owned by a different caller; the two cases are indistinguishable so
	// operation ids stay unguessable.
	ErrOperationNotFound = &Error{
		Kind:    ErrorKindNotFound,
		Message: "operation not found",
	}

	// ErrInvalidStateTransition is returned when a transition out of a
	// terminal state is attempted.
	ErrInvalidStateTransition = &Error{
		Kind:    ErrorKindInvalidState,
		Message: "operation is in a terminal state",
	}

	// ErrBatchTooLarge is returned when an item set exceeds the configured
	// maximum batch size.
	ErrBatchTooLarge = &Error{
		Kind:    ErrorKindBatchTooLarge,
		Message: "item set exceeds maximum batch size",
	}

	// ErrItemAlreadyProcessed guards against re-entrant processing of one
	// item within an operation.
	ErrItemAlreadyProcessed = &Error{
		Kind:    ErrorKindInvalidState,
		Message: "item already reached a terminal state",
	}
)
