package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the liveness endpoint. It reports process health
// only; the agent's own status lives under /api/agent/status.
type HealthHandler struct {
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{startedAt: time.Now().UTC(), logger: logger}
}

// HealthCheck responds with the service name and process uptime.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "cryptoagent",
		"uptime_seconds": int64(now.Sub(h.startedAt).Seconds()),
		"timestamp":      now.Format(time.RFC3339),
	})
}
