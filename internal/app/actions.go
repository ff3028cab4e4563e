package app

import (
	"context"
	"fmt"
	"log/slog"

	"bulkhub/internal/bulk"
)

// registerBuiltinActions installs the default action kinds. Each mutation
// validates its parameters up front so a misconfigured request fails per
// item with a permanent error instead of silently succeeding. The mutation
// bodies are the integration point for a real item backend; here they log
// the applied change.
func registerBuiltinActions(m *bulk.Manager, logger *slog.Logger) error {
	actions := map[bulk.ActionKind]bulk.MutationFunc{
		bulk.ActionSetStatus:   requireParam("status", applyLogged(logger, "status set")),
		bulk.ActionAddComment:  requireParam("comment", applyLogged(logger, "comment added")),
		bulk.ActionReassign:    requireParam("assignee", applyLogged(logger, "item reassigned")),
		bulk.ActionUpdateField: requireParam("field", applyLogged(logger, "field updated")),
		bulk.ActionDelete:      applyLogged(logger, "item deleted"),
	}
	for kind, fn := range actions {
		if err := m.RegisterAction(kind, fn); err != nil {
			return fmt.Errorf("failed to register action %q: %w", kind, err)
		}
	}
	return nil
}

// requireParam rejects an item with a permanent error when the named
// parameter is absent or empty.
func requireParam(name string, next bulk.MutationFunc) bulk.MutationFunc {
	return func(ctx context.Context, itemID string, params map[string]any) error {
		v, ok := params[name]
		if !ok {
			return bulk.NewPermanentError(itemID, fmt.Sprintf("missing required parameter %q", name), nil)
		}
		if s, isString := v.(string); isString && s == "" {
			return bulk.NewPermanentError(itemID, fmt.Sprintf("parameter %q must not be empty", name), nil)
		}
		return next(ctx, itemID, params)
	}
}

func applyLogged(logger *slog.Logger, message string) bulk.MutationFunc {
	return func(ctx context.Context, itemID string, params map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.DebugContext(ctx, message, slog.String("item_id", itemID))
		return nil
	}
}
