package bulk_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"bulkhub/internal/bulk"
)

func storeWithOperation(t *testing.T, id, owner string, itemIDs ...string) *bulk.MemoryStore {
	t.Helper()
	store := bulk.NewMemoryStore()
	op := bulk.NewOperation(id, owner, bulk.ActionSetStatus, nil, itemIDs, nil, 10)
	if err := store.CreateOperation(op); err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	return store
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := storeWithOperation(t, "op-1", "owner-1", "a", "b")

	op, err := store.Operation("op-1")
	if err != nil {
		t.Fatalf("Operation: %v", err)
	}
	if op.OwnerID() != "owner-1" {
		t.Errorf("OwnerID = %s, want owner-1", op.OwnerID())
	}

	items, err := store.Items("op-1")
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.State != bulk.ItemPending {
			t.Errorf("item %s state = %v, want pending", it.ID, it.State)
		}
	}
}

func TestMemoryStoreOwnership(t *testing.T) {
	store := storeWithOperation(t, "op-1", "owner-1", "a")

	tests := []struct {
		name  string
		id    string
		owner string
	}{
		{"unknown operation", "op-missing", "owner-1"},
		{"foreign owner", "op-1", "owner-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Both cases must be indistinguishable to the caller.
			_, err := store.OperationForOwner(tt.id, tt.owner)
			if !errors.Is(err, bulk.ErrOperationNotFound) {
				t.Errorf("OperationForOwner = %v, want ErrOperationNotFound", err)
			}
		})
	}

	if _, err := store.OperationForOwner("op-1", "owner-1"); err != nil {
		t.Errorf("OperationForOwner with matching owner: %v", err)
	}
}

func TestMemoryStoreBeginItem(t *testing.T) {
	store := storeWithOperation(t, "op-1", "owner-1", "a")

	if err := store.BeginItem("op-1", "a"); err != nil {
		t.Fatalf("BeginItem: %v", err)
	}
	if err := store.BeginItem("op-1", "a"); !errors.Is(err, bulk.ErrItemAlreadyProcessed) {
		t.Errorf("second BeginItem = %v, want ErrItemAlreadyProcessed", err)
	}

	item, err := store.Item("op-1", "a")
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if item.State != bulk.ItemProcessing {
		t.Errorf("item state = %v, want processing", item.State)
	}
}

func TestMemoryStoreFinishItemOnce(t *testing.T) {
	store := storeWithOperation(t, "op-1", "owner-1", "a")
	store.BeginItem("op-1", "a")

	if err := store.FinishItem("op-1", "a", bulk.ItemSucceeded, "", ""); err != nil {
		t.Fatalf("FinishItem: %v", err)
	}
	if err := store.FinishItem("op-1", "a", bulk.ItemFailed, bulk.ErrorKindPermanent, "late"); !errors.Is(err, bulk.ErrItemAlreadyProcessed) {
		t.Errorf("second FinishItem = %v, want ErrItemAlreadyProcessed", err)
	}

	item, _ := store.Item("op-1", "a")
	if item.State != bulk.ItemSucceeded {
		t.Errorf("item state after duplicate finish = %v, want succeeded", item.State)
	}
	if item.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestMemoryStoreSkipPendingItems(t *testing.T) {
	store := storeWithOperation(t, "op-1", "owner-1", "a", "b", "c")
	store.BeginItem("op-1", "a")
	store.FinishItem("op-1", "a", bulk.ItemSucceeded, "", "")

	skipped, err := store.SkipPendingItems("op-1")
	if err != nil {
		t.Fatalf("SkipPendingItems: %v", err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}

	item, _ := store.Item("op-1", "b")
	if item.State != bulk.ItemSkipped {
		t.Errorf("item b state = %v, want skipped", item.State)
	}
	item, _ = store.Item("op-1", "a")
	if item.State != bulk.ItemSucceeded {
		t.Errorf("item a state = %v, want succeeded (must not be skipped)", item.State)
	}
}

func TestMemoryStoreList(t *testing.T) {
	store := bulk.NewMemoryStore()
	for i := 0; i < 5; i++ {
		op := bulk.NewOperation(fmt.Sprintf("op-%d", i), "owner-1", bulk.ActionSetStatus, nil, []string{"a"}, nil, 10)
		if i >= 3 {
			op.Start()
		}
		store.CreateOperation(op)
		time.Sleep(time.Millisecond)
	}
	other := bulk.NewOperation("op-other", "owner-2", bulk.ActionSetStatus, nil, []string{"a"}, nil, 10)
	store.CreateOperation(other)

	result, err := store.List("owner-1", bulk.ListFilter{Page: 1, Limit: 3})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Total != 5 {
		t.Errorf("Total = %d, want 5", result.Total)
	}
	if len(result.Items) != 3 {
		t.Errorf("page size = %d, want 3", len(result.Items))
	}
	if !result.HasMore {
		t.Error("HasMore = false, want true")
	}
	// Newest first.
	if result.Items[0].ID != "op-4" {
		t.Errorf("first item = %s, want op-4", result.Items[0].ID)
	}

	result, err = store.List("owner-1", bulk.ListFilter{Status: bulk.StatusInProgress, Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List with filter: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("filtered Total = %d, want 2", result.Total)
	}

	result, _ = store.List("owner-1", bulk.ListFilter{Page: 2, Limit: 3})
	if len(result.Items) != 2 || result.HasMore {
		t.Errorf("page 2 = %d items, HasMore=%v; want 2 items, HasMore=false", len(result.Items), result.HasMore)
	}
}

func TestMemoryStoreCleanupTerminal(t *testing.T) {
	store := bulk.NewMemoryStore()

	done := bulk.NewOperation("op-done", "owner-1", bulk.ActionSetStatus, nil, []string{"a"}, nil, 10)
	done.Start()
	done.Finalize()
	store.CreateOperation(done)

	running := bulk.NewOperation("op-running", "owner-1", bulk.ActionSetStatus, nil, []string{"a"}, nil, 10)
	running.Start()
	store.CreateOperation(running)

	if removed := store.CleanupTerminal(0); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := store.Operation("op-done"); !errors.Is(err, bulk.ErrOperationNotFound) {
		t.Errorf("terminal operation still present: %v", err)
	}
	if _, err := store.Operation("op-running"); err != nil {
		t.Errorf("running operation evicted: %v", err)
	}
}
