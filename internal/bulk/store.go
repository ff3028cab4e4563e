package bulk

import (
	"sort"
	"sync"
	"time"
)

// Store is the single source of truth for operations and their items. It is
// an explicit instance passed to every component; the engine keeps no global
// registry of active operations.
type Store interface {
	// CreateOperation stores a new operation and one pending item record
	// per item id.
	CreateOperation(op *Operation) error

	// Operation returns an operation by id.
	Operation(id string) (*Operation, error)

	// OperationForOwner returns an operation only if it belongs to ownerID.
	// A foreign or unknown id is ErrOperationNotFound either way.
	OperationForOwner(id, ownerID string) (*Operation, error)

	// List returns one page of the owner's operations ordered by creation
	// time descending.
	List(ownerID string, filter ListFilter) (ListResult, error)

	// Item returns a copy of one item record.
	Item(operationID, itemID string) (Item, error)

	// Items returns copies of all item records for an operation, in the
	// operation's recorded order.
	Items(operationID string) ([]Item, error)

	// BeginItem transitions an item pending -> processing and returns the
	// attempt number. Re-entrant processing of an item that already left
	// pending is rejected with ErrItemAlreadyProcessed.
	BeginItem(operationID, itemID string) error

	// RecordItemAttempt increments and returns the item's attempt counter.
	RecordItemAttempt(operationID, itemID string) (int, error)

	// FinishItem transitions a processing item into a terminal state. An
	// item transitions at most once; a second call is rejected.
	FinishItem(operationID, itemID string, state ItemState, errKind ErrorKind, errMsg string) error

	// SkipPendingItems marks every still-pending item skipped. Used when an
	// operation is cancelled before all items were dispatched.
	SkipPendingItems(operationID string) (int, error)

	// CleanupTerminal removes operations (and their items) that reached a
	// terminal state more than maxAge ago. Returns the number removed.
	CleanupTerminal(maxAge time.Duration) int
}

// MemoryStore is the in-memory Store implementation. Item records are keyed
// (operationID, itemID).
type MemoryStore struct {
	mu    sync.RWMutex
	ops   map[string]*Operation
	items map[string]map[string]*Item
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops:   make(map[string]*Operation),
		items: make(map[string]map[string]*Item),
	}
}

// CreateOperation stores a new operation and its pending items.
func (s *MemoryStore) CreateOperation(op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ops[op.ID()]; exists {
		return NewValidationError("operation id already exists")
	}

	items := make(map[string]*Item, len(op.ItemIDs()))
	for _, itemID := range op.ItemIDs() {
		items[itemID] = &Item{
			OperationID: op.ID(),
			ID:          itemID,
			State:       ItemPending,
		}
	}

	s.ops[op.ID()] = op
	s.items[op.ID()] = items
	return nil
}

// Operation returns an operation by id.
func (s *MemoryStore) Operation(id string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, exists := s.ops[id]
	if !exists {
		return nil, ErrOperationNotFound
	}
	return op, nil
}

// OperationForOwner returns an operation only if it belongs to ownerID.
func (s *MemoryStore) OperationForOwner(id, ownerID string) (*Operation, error) {
	op, err := s.Operation(id)
	if err != nil {
		return nil, err
	}
	if op.OwnerID() != ownerID {
		return nil, ErrOperationNotFound
	}
	return op, nil
}

// List returns one page of the owner's operations, newest first.
func (s *MemoryStore) List(ownerID string, filter ListFilter) (ListResult, error) {
	s.mu.RLock()
	matched := make([]*Operation, 0)
	for _, op := range s.ops {
		if op.OwnerID() != ownerID {
			continue
		}
		if filter.Status != "" && op.Status() != filter.Status {
			continue
		}
		matched = append(matched, op)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt().After(matched[j].CreatedAt())
	})

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	start := (page - 1) * limit
	end := start + limit
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}

	items := make([]OperationSummary, 0, end-start)
	for _, op := range matched[start:end] {
		items = append(items, op.Summary())
	}

	return ListResult{
		Items:   items,
		Total:   len(matched),
		HasMore: end < len(matched),
	}, nil
}

// Item returns a copy of one item record.
func (s *MemoryStore) Item(operationID, itemID string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, err := s.itemLocked(operationID, itemID)
	if err != nil {
		return Item{}, err
	}
	return *item, nil
}

// Items returns copies of all item records in recorded order.
func (s *MemoryStore) Items(operationID string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, exists := s.ops[operationID]
	if !exists {
		return nil, ErrOperationNotFound
	}

	items := make([]Item, 0, len(s.items[operationID]))
	for _, itemID := range op.ItemIDs() {
		if item, ok := s.items[operationID][itemID]; ok {
			items = append(items, *item)
		}
	}
	return items, nil
}

// BeginItem transitions an item pending -> processing.
func (s *MemoryStore) BeginItem(operationID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.itemLocked(operationID, itemID)
	if err != nil {
		return err
	}
	if item.State != ItemPending {
		return ErrItemAlreadyProcessed
	}
	item.State = ItemProcessing
	return nil
}

// RecordItemAttempt increments and returns the item's attempt counter.
func (s *MemoryStore) RecordItemAttempt(operationID, itemID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.itemLocked(operationID, itemID)
	if err != nil {
		return 0, err
	}
	item.Attempts++
	return item.Attempts, nil
}

// FinishItem transitions a processing item into a terminal state.
func (s *MemoryStore) FinishItem(operationID, itemID string, state ItemState, errKind ErrorKind, errMsg string) error {
	if !state.Terminal() {
		return NewValidationError("finish requires a terminal item state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.itemLocked(operationID, itemID)
	if err != nil {
		return err
	}
	if item.State.Terminal() {
		return ErrItemAlreadyProcessed
	}

	item.State = state
	item.ErrKind = errKind
	item.ErrMessage = errMsg
	now := time.Now()
	item.CompletedAt = &now
	return nil
}

// SkipPendingItems marks every still-pending item skipped.
func (s *MemoryStore) SkipPendingItems(operationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, exists := s.items[operationID]
	if !exists {
		return 0, ErrOperationNotFound
	}

	skipped := 0
	now := time.Now()
	for _, item := range items {
		if item.State == ItemPending {
			item.State = ItemSkipped
			item.CompletedAt = &now
			skipped++
		}
	}
	return skipped, nil
}

// CleanupTerminal removes terminal operations older than maxAge.
func (s *MemoryStore) CleanupTerminal(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, op := range s.ops {
		if !op.Status().Terminal() {
			continue
		}
		if completed := op.CompletedAt(); completed != nil && completed.Before(cutoff) {
			delete(s.ops, id)
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) itemLocked(operationID, itemID string) (*Item, error) {
	items, exists := s.items[operationID]
	if !exists {
		return nil, ErrOperationNotFound
	}
	item, exists := items[itemID]
	if !exists {
		return nil, ErrOperationNotFound
	}
	return item, nil
}
