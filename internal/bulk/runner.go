package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Runner executes one item at a time: it drives the operation's mutation
// function with bounded retry on transient failures, converts any fault
// (including panics) into a failed outcome, and records the result so that
// the store update and the progress event are observed together.
type Runner struct {
	store       Store
	broadcaster *Broadcaster
	retry       RetryConfig
	logger      *slog.Logger
	metrics     *Metrics
}

// NewRunner creates an item task runner.
func NewRunner(store Store, broadcaster *Broadcaster, retry RetryConfig, logger *slog.Logger, metrics *Metrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:       store,
		broadcaster: broadcaster,
		retry:       retry,
		logger:      logger.With(slog.String("component", "runner")),
		metrics:     metrics,
	}
}

// Run processes one item to a terminal outcome. A fault in the mutation
// function never propagates to the caller; the scheduler loop survives any
// item.
func (r *Runner) Run(ctx context.Context, op *Operation, itemID string) {
	if err := r.store.BeginItem(op.ID(), itemID); err != nil {
		// Re-entrant processing is forbidden; leave the earlier outcome alone.
		r.logger.WarnContext(ctx, "item_dispatch_rejected",
			slog.String("operation_id", op.ID()),
			slog.String("item_id", itemID),
			slog.String("error", err.Error()))
		return
	}

	start := time.Now()
	outcome := r.execute(ctx, op, itemID)
	duration := time.Since(start)

	if err := r.store.FinishItem(op.ID(), itemID, outcome.State, outcome.ErrKind, outcome.ErrMsg); err != nil {
		r.logger.ErrorContext(ctx, "item_finish_failed",
			slog.String("operation_id", op.ID()),
			slog.String("item_id", itemID),
			slog.String("error", err.Error()))
		return
	}

	// The broadcaster applies the counter update and emits the event as one
	// serialized step; readers never see one without the other.
	status, err := r.broadcaster.PublishItemOutcome(op, outcome)
	if err != nil {
		r.logger.WarnContext(ctx, "item_outcome_after_terminal",
			slog.String("operation_id", op.ID()),
			slog.String("item_id", itemID))
		return
	}

	r.metrics.RecordItemOutcome(ctx, op.Action(), outcome.State, duration)

	if outcome.State == ItemFailed {
		r.logger.InfoContext(ctx, "item_failed",
			slog.String("operation_id", op.ID()),
			slog.String("item_id", itemID),
			slog.String("error_kind", string(outcome.ErrKind)),
			slog.Int("attempts", outcome.Attempts),
			slog.Int("processed", status.Processed))
	} else {
		r.logger.DebugContext(ctx, "item_succeeded",
			slog.String("operation_id", op.ID()),
			slog.String("item_id", itemID),
			slog.Int("attempts", outcome.Attempts),
			slog.Int("processed", status.Processed))
	}
}

// execute runs the mutation function with retry on transient failures.
func (r *Runner) execute(ctx context.Context, op *Operation, itemID string) ItemOutcome {
	maxAttempts := r.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if n, err := r.store.RecordItemAttempt(op.ID(), itemID); err == nil {
			attempts = n
		}

		err := r.invoke(ctx, op, itemID)
		if err == nil {
			return ItemOutcome{ItemID: itemID, State: ItemSucceeded, Attempts: attempts}
		}
		lastErr = err

		if !IsRetryable(err) || attempt >= maxAttempts {
			break
		}

		delay := r.retry.Backoff(attempt)
		r.logger.DebugContext(ctx, "item_retry",
			slog.String("operation_id", op.ID()),
			slog.String("item_id", itemID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return r.failedOutcome(ctx, itemID, attempts,
				NewInternalError(itemID, "retry interrupted by shutdown", ctx.Err()))
		}
	}

	return r.failedOutcome(ctx, itemID, attempts, lastErr)
}

// invoke calls the mutation function, converting a panic into an internal
// error so one item can never take down the scheduler.
func (r *Runner) invoke(ctx context.Context, op *Operation, itemID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = NewInternalError(itemID, "mutation function panicked", fmt.Errorf("%v", rec))
			r.logger.ErrorContext(ctx, "item_panic_recovered",
				slog.String("operation_id", op.ID()),
				slog.String("item_id", itemID),
				slog.Any("panic", rec))
		}
	}()
	return op.Apply()(ctx, itemID, op.Params())
}

// failedOutcome builds the recorded failure. Callers see a sanitized kind
// plus message; the full cause is logged server-side only.
func (r *Runner) failedOutcome(ctx context.Context, itemID string, attempts int, err error) ItemOutcome {
	kind := KindOf(err)
	if kind == ErrorKindTransient {
		// Retries exhausted; the recorded failure is no longer retryable.
		kind = ErrorKindPermanent
	}

	msg := "item processing failed"
	if bErr, ok := err.(*Error); ok && bErr.Message != "" {
		msg = bErr.Message
	}

	if cause := fmt.Sprintf("%v", err); cause != msg {
		r.logger.DebugContext(ctx, "item_failure_detail",
			slog.String("item_id", itemID),
			slog.String("detail", cause))
	}

	return ItemOutcome{
		ItemID:   itemID,
		State:    ItemFailed,
		ErrKind:  kind,
		ErrMsg:   msg,
		Attempts: attempts,
	}
}
