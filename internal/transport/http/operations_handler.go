// Package http provides the HTTP transport for the bulk operation API.
package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bulkhub/internal/bulk"
	apierrors "bulkhub/internal/errors"
	"bulkhub/internal/middleware"
)

// OperationsHandler handles the bulk operation HTTP endpoints.
type OperationsHandler struct {
	service  OperationService
	errors   *apierrors.ErrorHandler
	logger   *slog.Logger
	validate *validator.Validate
}

// NewOperationsHandler creates a new operations handler.
func NewOperationsHandler(service OperationService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *OperationsHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}

	return &OperationsHandler{
		service:  service,
		errors:   errorHandler,
		logger:   logger.With(slog.String("handler", "operations")),
		validate: validator.New(),
	}
}

// CreateOperationRequest is the body of POST /api/operations.
type CreateOperationRequest struct {
	Action  string         `json:"action" validate:"required,max=64"`
	ItemIDs []string       `json:"item_ids" validate:"required,min=1,dive,max=256"`
	Params  map[string]any `json:"params,omitempty"`
}

// Bind implements the render.Binder interface.
func (req *CreateOperationRequest) Bind(r *http.Request) error {
	return nil
}

// OperationResponse wraps an accepted operation summary.
type OperationResponse struct {
	bulk.OperationSummary
}

// Render implements the render.Renderer interface.
func (resp *OperationResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusAccepted)
	return nil
}

// Routes returns a chi router for the operation endpoints.
func (h *OperationsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Timeout(60*time.Second, h.logger))

	r.Get("/actions", h.ListActions)
	r.Post("/", h.CreateOperation)
	r.Get("/", h.ListOperations)
	r.Get("/{id}", h.GetOperation)
	r.Get("/{id}/items", h.GetOperationItems)
	r.Post("/{id}/cancel", h.CancelOperation)

	return r
}

// CreateOperation handles POST /api/operations. It returns 202 Accepted
// with the pending operation; item processing happens asynchronously.
func (h *OperationsHandler) CreateOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("operations-handler")

	ctx, span := tracer.Start(ctx, "operations_handler.create",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/operations"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	data := &CreateOperationRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, bulk.NewValidationError("request body is not valid JSON"))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, bulk.NewValidationError(err.Error()))
		return
	}

	ownerID := middleware.GetOwnerID(ctx)
	summary, err := h.service.Create(ctx, ownerID, data.ItemIDs, bulk.ActionKind(data.Action), data.Params)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("operation.id", summary.ID),
		attribute.String("operation.action", string(summary.Action)),
		attribute.Int("operation.total_items", summary.TotalItems),
	)

	h.logger.InfoContext(ctx, "operation accepted",
		slog.String("operation_id", summary.ID),
		slog.String("action", string(summary.Action)),
		slog.Int("total_items", summary.TotalItems))

	render.Render(w, r, &OperationResponse{OperationSummary: summary})
}

// GetOperation handles GET /api/operations/{id}.
func (h *OperationsHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operationID := chi.URLParam(r, "id")

	status, err := h.service.Get(ctx, operationID, middleware.GetOwnerID(ctx))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, status)
}

// GetOperationItems handles GET /api/operations/{id}/items.
func (h *OperationsHandler) GetOperationItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operationID := chi.URLParam(r, "id")

	items, err := h.service.Items(ctx, operationID, middleware.GetOwnerID(ctx))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]any{
		"operation_id": operationID,
		"items":        items,
	})
}

// CancelOperation handles POST /api/operations/{id}/cancel. The call is
// idempotent and returns the operation's actual state; a 200 response does
// not mean the operation is already cancelled, only that the request was
// acknowledged.
func (h *OperationsHandler) CancelOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	operationID := chi.URLParam(r, "id")
	tracer := otel.Tracer("operations-handler")

	ctx, span := tracer.Start(ctx, "operations_handler.cancel",
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	status, err := h.service.Cancel(ctx, operationID, middleware.GetOwnerID(ctx))
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "operation cancel acknowledged",
		slog.String("operation_id", operationID),
		slog.String("status", string(status.Status)))

	render.JSON(w, r, status)
}

// ListOperations handles GET /api/operations with status, page and limit
// query parameters.
func (h *OperationsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := bulk.ListFilter{
		Status: bulk.Status(r.URL.Query().Get("status")),
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", bulk.DefaultPageLimit),
	}

	result, err := h.service.List(ctx, middleware.GetOwnerID(ctx), filter)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, result)
}

// ListActions handles GET /api/operations/actions.
func (h *OperationsHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"actions": h.service.ActionKinds(),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
