package bulk

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

// Scheduler drives one operation's items through the Runner with bounded
// parallelism. Items are offered for dispatch in the operation's recorded
// order; completion order is unordered and tolerated by the store and the
// broadcaster. One item's failure never aborts its siblings.
type Scheduler struct {
	store       Store
	broadcaster *Broadcaster
	runner      *Runner
	workers     int64
	softTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics
}

// NewScheduler creates a scheduler.
func NewScheduler(store Store, broadcaster *Broadcaster, runner *Runner, cfg *Config, logger *slog.Logger, metrics *Metrics) *Scheduler {
	if cfg == nil {
		cfg = NewConfig()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:       store,
		broadcaster: broadcaster,
		runner:      runner,
		workers:     int64(workers),
		softTimeout: cfg.SoftTimeout,
		logger:      logger.With(slog.String("component", "scheduler")),
		metrics:     metrics,
	}
}

// Dispatch runs one operation to a terminal state. It blocks until the
// terminal event has been broadcast; the manager invokes it on its own
// goroutine per operation.
func (s *Scheduler) Dispatch(ctx context.Context, op *Operation) {
	logger := s.logger.With(slog.String("operation_id", op.ID()))

	if err := op.Start(); err != nil {
		logger.ErrorContext(ctx, "dispatch_rejected", slog.String("error", err.Error()))
		return
	}
	logger.InfoContext(ctx, "dispatch_started",
		slog.String("action", string(op.Action())),
		slog.Int("total_items", len(op.ItemIDs())))
	s.broadcaster.PublishProgress(op)

	// A soft timeout reuses the cooperative cancellation path: in-flight
	// items drain, no new items start.
	if s.softTimeout > 0 {
		timer := time.AfterFunc(s.softTimeout, func() {
			if _, changed := op.RequestCancel(); changed {
				logger.Warn("operation_soft_timeout",
					slog.Duration("timeout", s.softTimeout))
			}
		})
		defer timer.Stop()
	}

	sem := semaphore.NewWeighted(s.workers)
	dispatched := 0

	for _, itemID := range op.ItemIDs() {
		if op.CancelRequested() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// Process shutdown: treat like a cancel request so the
			// operation still reaches a deterministic terminal state.
			op.RequestCancel()
			break
		}

		dispatched++
		go func(id string) {
			defer sem.Release(1)
			s.runner.Run(ctx, op, id)
		}(itemID)
	}

	// Drain in-flight items. No new item starts after this point.
	if err := sem.Acquire(context.Background(), s.workers); err == nil {
		sem.Release(s.workers)
	}

	if skipped, err := s.store.SkipPendingItems(op.ID()); err == nil && skipped > 0 {
		logger.InfoContext(ctx, "items_skipped", slog.Int("skipped", skipped))
	}

	terminal, err := op.Finalize()
	if err != nil {
		// Already terminal (e.g. structurally failed); broadcast as-is.
		terminal = op.Status()
	}

	s.broadcaster.PublishTerminal(op)
	s.metrics.RecordOperationFinished(ctx, op.Action(), terminal)

	st := op.Snapshot()
	logger.InfoContext(ctx, "dispatch_finished",
		slog.String("status", string(terminal)),
		slog.Int("dispatched", dispatched),
		slog.Int("processed", st.Processed),
		slog.Int("succeeded", st.Succeeded),
		slog.Int("failed", st.Failed))
}
