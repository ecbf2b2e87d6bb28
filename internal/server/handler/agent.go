package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cryptoagent/internal/domain"
)

// stopTimeout bounds how long the stop endpoint waits for the agent's
// shutdown sequence before giving up on the request.
const stopTimeout = 30 * time.Second

// AgentRunner controls the agent's background lifecycle.
type AgentRunner interface {
	Start() error
	Stop(ctx context.Context) error
	Running() bool
}

// AgentService is the orchestrator surface the control API drives.
type AgentService interface {
	StatusSnapshot() map[string]any
	ForceTrade(ctx context.Context, symbol string, action domain.TradeAction, quantity float64, price *float64) error
	ApplyConfigUpdate(upd domain.AgentConfigUpdate) (domain.AgentConfig, error)
}

// AgentHandler serves the agent lifecycle and control HTTP endpoints.
type AgentHandler struct {
	runner AgentRunner
	agent  AgentService
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler over the given runner and service.
func NewAgentHandler(runner AgentRunner, agent AgentService, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		runner: runner,
		agent:  agent,
		logger: logger,
	}
}

// Status returns the aggregated component status of the agent.
// GET /api/agent/status
func (h *AgentHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agent.StatusSnapshot())
}

// Start launches the agent's autonomous loop in the background.
// POST /api/agent/start
func (h *AgentHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Start(); err != nil {
		if errors.Is(err, domain.ErrAgentRunning) {
			writeError(w, http.StatusConflict, "agent already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: agent start failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start agent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// Stop shuts the running agent down and waits for it to finish.
// POST /api/agent/stop
func (h *AgentHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()

	if err := h.runner.Stop(ctx); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: agent stop failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to stop agent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// updateConfigRequest is the wire shape of a partial configuration change.
// Absent fields keep their current values.
type updateConfigRequest struct {
	RiskLevel                *string  `json:"risk_level"`
	MaxPositions             *int     `json:"max_positions"`
	RebalanceIntervalSeconds *int64   `json:"rebalance_interval_seconds"`
	MonitorSymbols           []string `json:"monitor_symbols"`
	PriceAlertThreshold      *float64 `json:"price_alert_threshold"`
}

// configResponse mirrors the effective agent configuration back to the client.
type configResponse struct {
	RiskLevel                string   `json:"risk_level"`
	MaxPositions             int      `json:"max_positions"`
	RebalanceIntervalSeconds int64    `json:"rebalance_interval_seconds"`
	MonitorSymbols           []string `json:"monitor_symbols"`
	PriceAlertThreshold      float64  `json:"price_alert_threshold"`
}

func newConfigResponse(cfg domain.AgentConfig) configResponse {
	symbols := cfg.MonitorSymbols
	if symbols == nil {
		symbols = []string{}
	}
	return configResponse{
		RiskLevel:                string(cfg.RiskLevel),
		MaxPositions:             cfg.MaxPositions,
		RebalanceIntervalSeconds: int64(cfg.RebalanceInterval / time.Second),
		MonitorSymbols:           symbols,
		PriceAlertThreshold:      cfg.PriceAlertThreshold,
	}
}

// UpdateConfig applies a partial runtime configuration change. An invalid
// field rejects the whole request with a 400; nothing is applied.
// PUT /api/agent/config
func (h *AgentHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	upd := domain.AgentConfigUpdate{
		MaxPositions:        req.MaxPositions,
		MonitorSymbols:      req.MonitorSymbols,
		PriceAlertThreshold: req.PriceAlertThreshold,
	}
	if req.RiskLevel != nil {
		level := domain.RiskLevel(*req.RiskLevel)
		upd.RiskLevel = &level
	}
	if req.RebalanceIntervalSeconds != nil {
		interval := time.Duration(*req.RebalanceIntervalSeconds) * time.Second
		upd.RebalanceInterval = &interval
	}

	cfg, err := h.agent.ApplyConfigUpdate(upd)
	if err != nil {
		// Every ApplyConfigUpdate failure is a validation failure.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newConfigResponse(cfg))
}

// forceTradeRequest is the wire shape of a manual trade.
type forceTradeRequest struct {
	Symbol   string   `json:"symbol"`
	Action   string   `json:"action"`
	Quantity float64  `json:"quantity"`
	Price    *float64 `json:"price"`
}

// Trade executes a manual trade outside the decision engine.
// POST /api/agent/trade
func (h *AgentHandler) Trade(w http.ResponseWriter, r *http.Request) {
	var req forceTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	err := h.agent.ForceTrade(r.Context(), req.Symbol, domain.TradeAction(req.Action), req.Quantity, req.Price)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, "action must be buy or sell")
		return
	case errors.Is(err, domain.ErrInsufficientCash), errors.Is(err, domain.ErrNoPosition):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		h.logger.ErrorContext(r.Context(), "handler: force trade failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to execute trade")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "executed",
		"symbol": req.Symbol,
		"action": req.Action,
	})
}
