package bulk_test

import (
	"context"
	"errors"
	"testing"

	"bulkhub/internal/bulk"
)

func noopMutation(ctx context.Context, itemID string, params map[string]any) error {
	return nil
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	registry := bulk.NewRegistry()

	if err := registry.Register(bulk.ActionSetStatus, noopMutation); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !registry.Has(bulk.ActionSetStatus) {
		t.Error("Has = false after Register")
	}
	if _, err := registry.Resolve(bulk.ActionSetStatus); err != nil {
		t.Errorf("Resolve: %v", err)
	}
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	tests := []struct {
		name string
		kind bulk.ActionKind
		fn   bulk.MutationFunc
	}{
		{"empty kind", "", noopMutation},
		{"nil mutation", bulk.ActionSetStatus, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := bulk.NewRegistry().Register(tt.kind, tt.fn); err == nil {
				t.Error("Register succeeded, want error")
			}
		})
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	registry := bulk.NewRegistry()
	registry.Register(bulk.ActionSetStatus, noopMutation)

	if err := registry.Register(bulk.ActionSetStatus, noopMutation); err == nil {
		t.Error("duplicate Register succeeded, want error")
	}
	if registry.Count() != 1 {
		t.Errorf("Count = %d, want 1", registry.Count())
	}
}

func TestRegistryResolveUnknownKind(t *testing.T) {
	_, err := bulk.NewRegistry().Resolve("exfiltrate")

	var bErr *bulk.Error
	if !errors.As(err, &bErr) {
		t.Fatalf("Resolve unknown = %T, want *bulk.Error", err)
	}
	if bErr.Kind != bulk.ErrorKindValidation {
		t.Errorf("error kind = %v, want validation", bErr.Kind)
	}
}

func TestRegistryKindsPreservesOrder(t *testing.T) {
	registry := bulk.NewRegistry()
	registry.Register(bulk.ActionReassign, noopMutation)
	registry.Register(bulk.ActionSetStatus, noopMutation)
	registry.Register(bulk.ActionDelete, noopMutation)

	kinds := registry.Kinds()
	want := []bulk.ActionKind{bulk.ActionReassign, bulk.ActionSetStatus, bulk.ActionDelete}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}
