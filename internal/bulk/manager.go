package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager is the engine's public entry point. It validates and creates
// operations, starts their schedulers, and answers status, list, cancel and
// subscribe queries. Authentication, rate limiting and quotas are external
// policy layers wrapping these methods.
type Manager struct {
	store       Store
	registry    *Registry
	config      *Config
	broadcaster *Broadcaster
	scheduler   *Scheduler
	logger      *slog.Logger
	metrics     *Metrics

	// baseCtx outlives any request context: an operation keeps running
	// after its creating HTTP request returns.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager wires the engine together with dependency injection.
func NewManager(store Store, registry *Registry, config *Config, logger *slog.Logger, metrics *Metrics) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	broadcaster := NewBroadcaster(config.SubscriberBuffer, logger)
	runner := NewRunner(store, broadcaster, config.Retry, logger, metrics)
	scheduler := NewScheduler(store, broadcaster, runner, config, logger, metrics)

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:       store,
		registry:    registry,
		config:      config,
		broadcaster: broadcaster,
		scheduler:   scheduler,
		logger:      logger.With(slog.String("component", "bulk.manager")),
		metrics:     metrics,
		baseCtx:     baseCtx,
		cancel:      cancel,
	}
}

// RegisterAction registers a mutation function for an action kind.
func (m *Manager) RegisterAction(kind ActionKind, fn MutationFunc) error {
	return m.registry.Register(kind, fn)
}

// ActionKinds returns the registered action kinds.
func (m *Manager) ActionKinds() []ActionKind {
	return m.registry.Kinds()
}

// Create validates the request, stores the operation in state pending, and
// starts its scheduler asynchronously. The call returns before any item is
// processed; per-item failures are never raised here.
func (m *Manager) Create(ctx context.Context, ownerID string, itemIDs []string, action ActionKind, params map[string]any) (OperationSummary, error) {
	if ownerID == "" {
		return OperationSummary{}, NewValidationError("owner id is required")
	}

	items := dedupeItemIDs(itemIDs)
	if len(items) == 0 {
		return OperationSummary{}, NewValidationError("operation requires at least one item")
	}
	if len(items) > m.config.MaxBatchSize {
		return OperationSummary{}, &Error{
			Kind:    ErrorKindBatchTooLarge,
			Message: fmt.Sprintf("item set of %d exceeds maximum batch size %d", len(items), m.config.MaxBatchSize),
		}
	}

	apply, err := m.registry.Resolve(action)
	if err != nil {
		return OperationSummary{}, err
	}

	op := NewOperation(uuid.NewString(), ownerID, action, apply, items, params, m.config.ErrorCap)
	if err := m.store.CreateOperation(op); err != nil {
		return OperationSummary{}, err
	}

	m.metrics.RecordOperationCreated(ctx, action, len(items))
	m.logger.InfoContext(ctx, "operation_created",
		slog.String("operation_id", op.ID()),
		slog.String("owner_id", ownerID),
		slog.String("action", string(action)),
		slog.Int("total_items", len(items)))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.scheduler.Dispatch(m.baseCtx, op)
	}()

	return op.Summary(), nil
}

// Get returns the operation's current aggregate snapshot. An unknown id or
// one owned by a different caller both yield ErrOperationNotFound.
func (m *Manager) Get(ctx context.Context, operationID, ownerID string) (OperationStatus, error) {
	op, err := m.store.OperationForOwner(operationID, ownerID)
	if err != nil {
		return OperationStatus{}, err
	}
	return op.Snapshot(), nil
}

// Items returns the per-item records of an operation.
func (m *Manager) Items(ctx context.Context, operationID, ownerID string) ([]Item, error) {
	if _, err := m.store.OperationForOwner(operationID, ownerID); err != nil {
		return nil, err
	}
	return m.store.Items(operationID)
}

// Cancel requests cooperative cancellation. Idempotent: repeating the call,
// or cancelling an operation that already finished, is a no-op that returns
// the operation's actual state. In-flight items drain; no new item is
// dispatched after the request is acknowledged.
func (m *Manager) Cancel(ctx context.Context, operationID, ownerID string) (OperationStatus, error) {
	op, err := m.store.OperationForOwner(operationID, ownerID)
	if err != nil {
		return OperationStatus{}, err
	}

	status, changed := op.RequestCancel()
	if changed {
		m.logger.InfoContext(ctx, "operation_cancel_requested",
			slog.String("operation_id", operationID),
			slog.String("status", string(status)))
	}
	return op.Snapshot(), nil
}

// List returns one page of the owner's operations, newest first.
func (m *Manager) List(ctx context.Context, ownerID string, filter ListFilter) (ListResult, error) {
	if ownerID == "" {
		return ListResult{}, NewValidationError("owner id is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return ListResult{}, NewValidationError(fmt.Sprintf("invalid status filter: %s", filter.Status))
	}
	return m.store.List(ownerID, filter)
}

// Subscribe attaches a live observer after an ownership check. The first
// event is always a fresh snapshot.
func (m *Manager) Subscribe(ctx context.Context, operationID, ownerID string) (*Subscription, error) {
	op, err := m.store.OperationForOwner(operationID, ownerID)
	if err != nil {
		return nil, err
	}
	return m.broadcaster.Subscribe(op), nil
}

// Unsubscribe detaches an observer. Never blocks item processing.
func (m *Manager) Unsubscribe(sub *Subscription) {
	m.broadcaster.Unsubscribe(sub)
}

// CleanupTerminal applies the retention policy: terminal operations older
// than maxAge are evicted. Returns the number removed.
func (m *Manager) CleanupTerminal(maxAge time.Duration) int {
	return m.store.CleanupTerminal(maxAge)
}

// Shutdown requests cancellation of all running operations and waits for
// their schedulers to finish, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.broadcaster.Stop()
		m.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("engine shutdown timed out")
		return fmt.Errorf("timeout waiting for operations to drain")
	}
}

// dedupeItemIDs drops blank and repeated ids, preserving first-seen order.
func dedupeItemIDs(itemIDs []string) []string {
	seen := make(map[string]bool, len(itemIDs))
	out := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
