package handler

import (
	"log/slog"
	"net/http"
	"time"

	"cryptoagent/internal/domain"
)

// AuditHandler serves the agent's audit trail.
type AuditHandler struct {
	agentID string
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewAuditHandler creates an AuditHandler for one agent's trail.
func NewAuditHandler(agentID string, audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		agentID: agentID,
		audit:   audit,
		logger:  logger,
	}
}

type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type listAuditResponse struct {
	Entries []auditEntryView `json:"entries"`
}

// List returns the most recent audit entries, newest first.
// GET /api/agent/audit?limit=N
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, "limit", 100, 500)

	entries, err := h.audit.List(r.Context(), h.agentID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit entries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	resp := listAuditResponse{Entries: []auditEntryView{}}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, auditEntryView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
