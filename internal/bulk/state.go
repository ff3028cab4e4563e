package bulk

import (
	"sync"
	"time"
)

// Status is the operation lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s names a known status. Used to validate filters.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// ItemState is the per-item lifecycle state.
type ItemState string

const (
	ItemPending    ItemState = "pending"
	ItemProcessing ItemState = "processing"
	ItemSucceeded  ItemState = "succeeded"
	ItemFailed     ItemState = "failed"
	ItemSkipped    ItemState = "skipped"
)

// Terminal reports whether the item has reached a final state.
func (s ItemState) Terminal() bool {
	switch s {
	case ItemSucceeded, ItemFailed, ItemSkipped:
		return true
	}
	return false
}

// Item is one unit of work within an operation. Items are exclusively owned
// by their operation and keyed (operationID, itemID) in the store.
type Item struct {
	OperationID string     `json:"operation_id"`
	ID          string     `json:"id"`
	State       ItemState  `json:"state"`
	Attempts    int        `json:"attempts"`
	ErrKind     ErrorKind  `json:"error_kind,omitempty"`
	ErrMessage  string     `json:"error_message,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Operation is the authoritative record of one bulk operation. All counter
// mutations go through its mutex; once a terminal state is reached the
// counters are frozen.
type Operation struct {
	mu sync.Mutex

	id      string
	ownerID string
	action  ActionKind
	params  map[string]any
	itemIDs []string

	// apply is resolved from the registry once at creation and carried on
	// the record; it is never looked up again per item.
	apply MutationFunc

	status    Status
	total     int
	processed int
	succeeded int
	failed    int

	errs        []ItemError
	errsOmitted int
	errorCap    int

	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time

	cancelRequested bool
	done            chan struct{}
}

// NewOperation creates an operation in state pending. The item set is fixed
// at creation and cannot be added to later.
func NewOperation(id, ownerID string, action ActionKind, apply MutationFunc, itemIDs []string, params map[string]any, errorCap int) *Operation {
	ids := make([]string, len(itemIDs))
	copy(ids, itemIDs)

	if errorCap <= 0 {
		errorCap = DefaultErrorCap
	}

	return &Operation{
		id:        id,
		ownerID:   ownerID,
		action:    action,
		params:    params,
		itemIDs:   ids,
		apply:     apply,
		status:    StatusPending,
		total:     len(ids),
		errorCap:  errorCap,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the operation identifier.
func (o *Operation) ID() string { return o.id }

// OwnerID returns the identity that created the operation.
func (o *Operation) OwnerID() string { return o.ownerID }

// Action returns the operation's action kind.
func (o *Operation) Action() ActionKind { return o.action }

// Params returns the opaque action parameters.
func (o *Operation) Params() map[string]any { return o.params }

// Apply returns the mutation function resolved at creation.
func (o *Operation) Apply() MutationFunc { return o.apply }

// ItemIDs returns the recorded dispatch order of the item set.
func (o *Operation) ItemIDs() []string {
	ids := make([]string, len(o.itemIDs))
	copy(ids, o.itemIDs)
	return ids
}

// Done is closed when the operation reaches a terminal state.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Status returns the current lifecycle state.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Start transitions pending -> in_progress. Triggered exactly once, when the
// scheduler accepts the operation for dispatch.
func (o *Operation) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != StatusPending {
		return ErrInvalidStateTransition
	}
	o.status = StatusInProgress
	now := time.Now()
	o.startedAt = &now
	return nil
}

// CompleteItem folds one terminal item outcome into the counters and returns
// the aggregate snapshot observed immediately after the update. Callers
// broadcast that snapshot, so readers never see an event without its counter
// update. Returns ErrInvalidStateTransition if the operation is already
// terminal (counters are frozen).
func (o *Operation) CompleteItem(outcome ItemOutcome) (OperationStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status.Terminal() {
		return o.snapshotLocked(), ErrInvalidStateTransition
	}

	o.processed++
	switch outcome.State {
	case ItemSucceeded:
		o.succeeded++
	case ItemFailed:
		o.failed++
		if len(o.errs) < o.errorCap {
			o.errs = append(o.errs, ItemError{
				ItemID:  outcome.ItemID,
				Kind:    outcome.ErrKind,
				Message: outcome.ErrMsg,
			})
		} else {
			o.errsOmitted++
		}
	}

	return o.snapshotLocked(), nil
}

// RequestCancel sets the cancellation flag. Idempotent and safe after the
// operation has finished: the returned status is the operation's actual
// state, and changed reports whether the flag was newly set.
func (o *Operation) RequestCancel() (status Status, changed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status.Terminal() || o.cancelRequested {
		return o.status, false
	}
	o.cancelRequested = true
	return o.status, true
}

// CancelRequested reports whether cancellation has been requested. The
// scheduler checks this before every dispatch decision.
func (o *Operation) CancelRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelRequested
}

// Finalize resolves the single terminal decision for a drained operation:
// cancelled if cancellation was requested by that moment, completed
// otherwise. Exactly one terminal state wins even when a cancel request
// races the last item's completion.
func (o *Operation) Finalize() (Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status.Terminal() {
		return o.status, ErrInvalidStateTransition
	}

	if o.cancelRequested {
		o.status = StatusCancelled
	} else {
		o.status = StatusCompleted
	}
	now := time.Now()
	o.completedAt = &now
	close(o.done)
	return o.status, nil
}

// Fail transitions a non-terminal operation to failed. Reserved for
// structural errors detected before or during dispatch setup; individual
// item failures never trigger it.
func (o *Operation) Fail() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status.Terminal() {
		return ErrInvalidStateTransition
	}
	o.status = StatusFailed
	now := time.Now()
	o.completedAt = &now
	close(o.done)
	return nil
}

// Snapshot returns the current aggregate view.
func (o *Operation) Snapshot() OperationStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Summary returns the compact listing view.
func (o *Operation) Summary() OperationSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OperationSummary{
		ID:         o.id,
		OwnerID:    o.ownerID,
		Action:     o.action,
		Status:     o.status,
		TotalItems: o.total,
		CreatedAt:  o.createdAt,
	}
}

// CreatedAt returns the creation timestamp.
func (o *Operation) CreatedAt() time.Time { return o.createdAt }

// CompletedAt returns the terminal timestamp, nil while non-terminal.
func (o *Operation) CompletedAt() *time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completedAt
}

func (o *Operation) snapshotLocked() OperationStatus {
	pct := 0.0
	if o.total > 0 {
		pct = float64(o.processed) / float64(o.total) * 100
	}

	errs := make([]ItemError, len(o.errs))
	copy(errs, o.errs)

	return OperationStatus{
		ID:                 o.id,
		OwnerID:            o.ownerID,
		Action:             o.action,
		Status:             o.status,
		Total:              o.total,
		Processed:          o.processed,
		Succeeded:          o.succeeded,
		Failed:             o.failed,
		ProgressPercentage: pct,
		Errors:             errs,
		ErrorsOmitted:      o.errsOmitted,
		CreatedAt:          o.createdAt,
		StartedAt:          o.startedAt,
		CompletedAt:        o.completedAt,
	}
}
