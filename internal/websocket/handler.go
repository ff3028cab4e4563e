package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"bulkhub/internal/bulk"
	"bulkhub/internal/config"
	apierrors "bulkhub/internal/errors"
	"bulkhub/internal/middleware"
)

// OperationSubscriber is the slice of the operation manager the
// WebSocket endpoint needs. *bulk.Manager satisfies it.
type OperationSubscriber interface {
	Subscribe(ctx context.Context, operationID, ownerID string) (*bulk.Subscription, error)
	Unsubscribe(sub *bulk.Subscription)
}

// Handler upgrades HTTP requests to WebSocket connections that stream
// progress events for a single operation.
type Handler struct {
	manager  OperationSubscriber
	upgrader websocket.Upgrader
	opts     ClientOptions
	errors   *apierrors.ErrorHandler
	logger   *slog.Logger
}

// NewHandler creates a WebSocket handler. Origins are checked against
// the configured allow list; an empty list rejects all cross-origin
// upgrades.
func NewHandler(manager OperationSubscriber, cfg *config.Config, errHandler *apierrors.ErrorHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(cfg.Security.AllowedOrigins))
	for _, origin := range cfg.Security.AllowedOrigins {
		allowed[origin] = true
	}
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return allowed[origin]
			},
		},
		opts: ClientOptions{
			WriteWait:  cfg.WebSocket.WriteWait,
			PongWait:   cfg.WebSocket.PongWait,
			PingPeriod: cfg.WebSocket.PingPeriod,
		},
		errors: errHandler,
		logger: logger,
	}
}

// ServeHTTP handles GET /ws/operations/{id} and GET /ws?operation_id=.
// The subscription is taken before the upgrade so a missing or foreign
// operation still gets a regular problem+json response.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	operationID := chi.URLParam(r, "id")
	if operationID == "" {
		operationID = r.URL.Query().Get("operation_id")
	}
	ownerID := middleware.GetOwnerID(r.Context())

	sub, err := h.manager.Subscribe(r.Context(), operationID, ownerID)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own response; just release the subscription.
		h.manager.Unsubscribe(sub)
		h.logger.Warn("websocket upgrade failed",
			slog.String("operation_id", operationID),
			slog.String("error", err.Error()))
		return
	}

	h.logger.Debug("websocket subscriber connected",
		slog.String("operation_id", operationID),
		slog.String("owner_id", ownerID))

	client := NewClient(WrapConnection(conn), sub, h.manager.Unsubscribe, h.opts, h.logger)
	go client.Run()
}
