package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the health-check and status endpoints.
type HealthHandler struct {
	mode       string
	strategies []string
	startedAt  time.Time
	clients    func() int
	logger     *slog.Logger
}

// NewHealthHandler creates a HealthHandler. clients reports connected
// WebSocket clients and may be nil.
func NewHealthHandler(mode string, strategies []string, clients func() int, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:       mode,
		strategies: strategies,
		startedAt:  time.Now().UTC(),
		clients:    clients,
		logger:     logger,
	}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus responds with the run mode, the strategy chain and uptime.
// GET /api/status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	clients := 0
	if h.clients != nil {
		clients = h.clients()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"strategies":     h.strategies,
		"started_at":     h.startedAt.Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"ws_clients":     clients,
	})
}
