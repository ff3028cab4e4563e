package bulk_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"bulkhub/internal/bulk"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := bulk.NewTransientError("item-1", "downstream unavailable", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is does not reach the cause")
	}
	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap = %v, want %v", unwrapped, cause)
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("create: %w", &bulk.Error{
		Kind:    bulk.ErrorKindBatchTooLarge,
		Message: "item set of 2000 exceeds maximum batch size 1000",
	})

	if !errors.Is(err, bulk.ErrBatchTooLarge) {
		t.Error("wrapped batch-size error does not match ErrBatchTooLarge")
	}
	if errors.Is(err, bulk.ErrOperationNotFound) {
		t.Error("batch-size error matches ErrOperationNotFound")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"transient", bulk.NewTransientError("item-1", "timeout", nil), true},
		{"permanent", bulk.NewPermanentError("item-1", "item deleted", nil), false},
		{"internal", bulk.NewInternalError("item-1", "panic recovered", nil), false},
		{"validation", bulk.NewValidationError("bad input"), false},
		{"wrapped transient", fmt.Errorf("run: %w", bulk.NewTransientError("item-1", "timeout", nil)), true},
		{"unclassified", errors.New("something odd"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bulk.IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bulk.ErrorKind
	}{
		{"transient", bulk.NewTransientError("item-1", "timeout", nil), bulk.ErrorKindTransient},
		{"validation", bulk.NewValidationError("bad"), bulk.ErrorKindValidation},
		// Unclassified mutation errors are treated as permanent: retrying
		// an unknown failure risks repeating a non-idempotent side effect.
		{"unclassified", errors.New("boom"), bulk.ErrorKindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bulk.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessageIncludesItem(t *testing.T) {
	err := bulk.NewPermanentError("item-7", "item deleted", nil)
	msg := err.Error()
	if msg == "" {
		t.Fatal("empty error message")
	}
	if want := "item-7"; !strings.Contains(msg, want) {
		t.Errorf("error message %q does not mention %q", msg, want)
	}
}
