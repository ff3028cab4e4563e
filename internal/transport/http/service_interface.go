package http

import (
	"context"

	"bulkhub/internal/bulk"
)

// OperationService is the engine surface the HTTP layer depends on.
// *bulk.Manager satisfies it; tests substitute mocks.
type OperationService interface {
	Create(ctx context.Context, ownerID string, itemIDs []string, action bulk.ActionKind, params map[string]any) (bulk.OperationSummary, error)
	Get(ctx context.Context, operationID, ownerID string) (bulk.OperationStatus, error)
	Items(ctx context.Context, operationID, ownerID string) ([]bulk.Item, error)
	Cancel(ctx context.Context, operationID, ownerID string) (bulk.OperationStatus, error)
	List(ctx context.Context, ownerID string, filter bulk.ListFilter) (bulk.ListResult, error)
	ActionKinds() []bulk.ActionKind
}
