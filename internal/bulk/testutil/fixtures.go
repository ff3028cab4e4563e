// Package testutil provides fixtures, mock mutations and assertions for
// engine tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bulkhub/internal/bulk"
)

// CreateTestConfig returns a config tuned for fast tests: short retry
// delays and a small worker pool.
func CreateTestConfig() *bulk.Config {
	return bulk.NewConfigBuilder().
		WithWorkers(4).
		WithMaxBatchSize(200).
		WithErrorCap(10).
		WithRetry(bulk.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2.0,
		}).
		WithSubscriberBuffer(256).
		Build()
}

// CreateTestRegistry returns a registry with a mutation per action kind
// backed by the given recorder.
func CreateTestRegistry(rec *MutationRecorder) *bulk.Registry {
	registry := bulk.NewRegistry()
	registry.Register(bulk.ActionSetStatus, rec.Mutation())
	registry.Register(bulk.ActionAddComment, rec.Mutation())
	registry.Register(bulk.ActionReassign, rec.Mutation())
	return registry
}

// CreateTestManager wires a manager over an in-memory store with the test
// config and a registry driven by rec.
func CreateTestManager(rec *MutationRecorder) *bulk.Manager {
	return bulk.NewManager(bulk.NewMemoryStore(), CreateTestRegistry(rec), CreateTestConfig(), DiscardLogger(), nil)
}

// ItemIDs generates n sequential item ids ("item-001", ...).
func ItemIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = itemID(i + 1)
	}
	return ids
}

func itemID(n int) string {
	digits := []byte{'0', '0', '0'}
	for i := 2; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return "item-" + string(digits)
}

// MutationRecorder is a configurable mutation function for tests. It counts
// invocations per item and can be told to fail specific items, block until
// released, or inject delays.
type MutationRecorder struct {
	mu       sync.Mutex
	calls    map[string]int
	failWith map[string]error
	delay    time.Duration

	started atomic.Int64
	release chan struct{}
	gate    chan struct{}
}

// NewMutationRecorder returns a recorder whose mutation always succeeds.
func NewMutationRecorder() *MutationRecorder {
	return &MutationRecorder{
		calls:    make(map[string]int),
		failWith: make(map[string]error),
	}
}

// FailItem makes the mutation return err every time itemID is processed.
func (r *MutationRecorder) FailItem(itemID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith[itemID] = err
}

// FailItemOnce makes the mutation return err on the first attempt for
// itemID and succeed afterwards.
func (r *MutationRecorder) FailItemOnce(itemID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith[itemID] = &onceError{err: err}
}

// WithDelay makes every invocation take at least d.
func (r *MutationRecorder) WithDelay(d time.Duration) *MutationRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
	return r
}

// Gate makes every invocation block until Release is called. Useful for
// cancelling an operation while items are in flight.
func (r *MutationRecorder) Gate() *MutationRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release = make(chan struct{})
	return r
}

// Release unblocks all gated invocations, current and future.
func (r *MutationRecorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.release != nil {
		close(r.release)
		r.release = nil
	}
}

// Started reports how many invocations have begun.
func (r *MutationRecorder) Started() int {
	return int(r.started.Load())
}

// Calls returns the number of completed invocations for itemID.
func (r *MutationRecorder) Calls(itemID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[itemID]
}

// TotalCalls returns the number of completed invocations across all items.
func (r *MutationRecorder) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

// Mutation returns the bulk.MutationFunc backed by this recorder.
func (r *MutationRecorder) Mutation() bulk.MutationFunc {
	return func(ctx context.Context, itemID string, params map[string]any) error {
		r.started.Add(1)

		r.mu.Lock()
		release := r.release
		delay := r.delay
		r.mu.Unlock()

		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls[itemID]++
		if err, ok := r.failWith[itemID]; ok {
			if once, isOnce := err.(*onceError); isOnce {
				if !once.fired {
					once.fired = true
					return once.err
				}
				return nil
			}
			return err
		}
		return nil
	}
}

type onceError struct {
	err   error
	fired bool
}

func (e *onceError) Error() string { return e.err.Error() }
