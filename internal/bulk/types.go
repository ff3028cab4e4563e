package bulk

import (
	"context"
	"time"
)

// ActionKind identifies what a bulk operation does to each item.
type ActionKind string

// Built-in action kinds. The set is extensible: any kind registered with a
// Registry is accepted at operation creation.
const (
	ActionSetStatus   ActionKind = "set_status"
	ActionAddComment  ActionKind = "add_comment"
	ActionReassign    ActionKind = "reassign"
	ActionUpdateField ActionKind = "update_field"
	ActionDelete      ActionKind = "delete"
)

// MutationFunc applies one action to one work item. It is supplied by the
// caller per action kind and treated as opaque by the engine. Transient
// failures are signalled with NewTransientError and retried; every other
// error is recorded as a permanent per-item failure.
type MutationFunc func(ctx context.Context, itemID string, params map[string]any) error

// Event types delivered to subscribers.
type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventProgress EventType = "progress"
	EventTerminal EventType = "terminal"
)

// Event is one message on a subscription stream. A subscriber receives a
// snapshot on attach, then progress deltas, then exactly one terminal event.
type Event struct {
	Type EventType `json:"type"`
	OperationStatus
}

// OperationSummary is the compact view returned on creation and in listings.
type OperationSummary struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Action     ActionKind `json:"action"`
	Status     Status     `json:"status"`
	TotalItems int        `json:"total_items"`
	CreatedAt  time.Time  `json:"created_at"`
}

// OperationStatus is the full aggregate view of one operation.
type OperationStatus struct {
	ID                 string      `json:"id"`
	OwnerID            string      `json:"owner_id"`
	Action             ActionKind  `json:"action"`
	Status             Status      `json:"status"`
	Total              int         `json:"total"`
	Processed          int         `json:"processed"`
	Succeeded          int         `json:"succeeded"`
	Failed             int         `json:"failed"`
	ProgressPercentage float64     `json:"progress_percentage"`
	Errors             []ItemError `json:"errors,omitempty"`
	ErrorsOmitted      int         `json:"errors_omitted,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	StartedAt          *time.Time  `json:"started_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
}

// ItemError is the sanitized per-item failure detail exposed to callers:
// an error kind plus a safe message, never downstream stack traces.
type ItemError struct {
	ItemID  string    `json:"item_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ItemOutcome is the terminal result of running one item.
type ItemOutcome struct {
	ItemID   string
	State    ItemState
	ErrKind  ErrorKind
	ErrMsg   string
	Attempts int
}

// ListFilter narrows and pages a listing of operations.
type ListFilter struct {
	Status Status
	Page   int
	Limit  int
}

// ListResult is one page of operation summaries ordered by creation time
// descending.
type ListResult struct {
	Items   []OperationSummary `json:"items"`
	Total   int                `json:"total"`
	HasMore bool               `json:"has_more"`
}

// RetryConfig defines retry behavior for transient item failures.
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration.
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Backoff returns the delay before the given retry. The first retry waits
// InitialDelay; each subsequent retry multiplies the previous delay, capped
// at MaxDelay.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}
