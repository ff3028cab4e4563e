package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"bulkhub/internal/bulk"
)

// DiscardLogger returns an slog.Logger that writes nowhere.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// AssertOperationStatus verifies the operation's aggregate state.
func AssertOperationStatus(t *testing.T, status bulk.OperationStatus, expected bulk.Status) {
	t.Helper()
	if status.Status != expected {
		t.Errorf("operation %s status = %v, want %v", status.ID, status.Status, expected)
	}
}

// AssertCounters verifies the processed/succeeded/failed counters and the
// invariant processed == succeeded + failed.
func AssertCounters(t *testing.T, status bulk.OperationStatus, processed, succeeded, failed int) {
	t.Helper()
	if status.Processed != processed {
		t.Errorf("processed = %d, want %d", status.Processed, processed)
	}
	if status.Succeeded != succeeded {
		t.Errorf("succeeded = %d, want %d", status.Succeeded, succeeded)
	}
	if status.Failed != failed {
		t.Errorf("failed = %d, want %d", status.Failed, failed)
	}
	AssertCounterInvariants(t, status)
}

// AssertCounterInvariants verifies the structural counter rules that must
// hold for any snapshot, regardless of state.
func AssertCounterInvariants(t *testing.T, status bulk.OperationStatus) {
	t.Helper()
	if status.Processed != status.Succeeded+status.Failed {
		t.Errorf("processed = %d, want succeeded(%d) + failed(%d)",
			status.Processed, status.Succeeded, status.Failed)
	}
	if status.Processed > status.Total {
		t.Errorf("processed = %d exceeds total %d", status.Processed, status.Total)
	}
}

// WaitForTerminal polls the manager until the operation reaches a terminal
// state, failing the test after timeout.
func WaitForTerminal(t *testing.T, m *bulk.Manager, operationID, ownerID string, timeout time.Duration) bulk.OperationStatus {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		status, err := m.Get(context.Background(), operationID, ownerID)
		if err != nil {
			t.Fatalf("get operation %s: %v", operationID, err)
		}
		if status.Status.Terminal() {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("operation %s still %s after %v", operationID, status.Status, timeout)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// CollectEvents drains a subscription until a terminal event or timeout,
// returning everything received in order.
func CollectEvents(t *testing.T, sub *bulk.Subscription, timeout time.Duration) []bulk.Event {
	t.Helper()
	var events []bulk.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Type == bulk.EventTerminal {
				return events
			}
		case <-deadline:
			t.Fatalf("no terminal event after %v (got %d events)", timeout, len(events))
		}
	}
}
