package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"bulkhub/internal/infrastructure"
)

// HealthHandler handles liveness and version endpoints.
type HealthHandler struct {
	startedAt time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startedAt: time.Now()}
}

// HealthCheck handles GET /healthz.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":  "ok",
		"service": infrastructure.ServiceName,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Version handles GET /api/version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"service": infrastructure.ServiceName,
		"version": infrastructure.ServiceVersion,
	})
}
