package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRunner struct {
	mu       sync.Mutex
	running  bool
	startErr error
	stopErr  error
	stops    int
}

func (s *stubRunner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

func (s *stubRunner) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.stopErr != nil {
		return s.stopErr
	}
	s.running = false
	return nil
}

func (s *stubRunner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

type forceTradeCall struct {
	symbol   string
	action   domain.TradeAction
	quantity float64
	price    *float64
}

type stubAgent struct {
	mu       sync.Mutex
	status   map[string]any
	forceErr error
	trades   []forceTradeCall
	cfgOut   domain.AgentConfig
	cfgErr   error
	updates  []domain.AgentConfigUpdate
}

func (s *stubAgent) StatusSnapshot() map[string]any {
	return s.status
}

func (s *stubAgent) ForceTrade(ctx context.Context, symbol string, action domain.TradeAction, quantity float64, price *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceErr != nil {
		return s.forceErr
	}
	s.trades = append(s.trades, forceTradeCall{symbol: symbol, action: action, quantity: quantity, price: price})
	return nil
}

func (s *stubAgent) ApplyConfigUpdate(upd domain.AgentConfigUpdate) (domain.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfgErr != nil {
		return domain.AgentConfig{}, s.cfgErr
	}
	s.updates = append(s.updates, upd)
	return s.cfgOut, nil
}

func newAgentHandler(runner *stubRunner, agent *stubAgent) *AgentHandler {
	return NewAgentHandler(runner, agent, testLogger())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAgentStatus(t *testing.T) {
	agent := &stubAgent{status: map[string]any{"agent_id": "agent_1", "running": true}}
	h := newAgentHandler(&stubRunner{}, agent)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/agent/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "agent_1", body["agent_id"])
	assert.Equal(t, true, body["running"])
}

func TestAgentStart(t *testing.T) {
	runner := &stubRunner{}
	h := newAgentHandler(runner, &stubAgent{})

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/agent/start", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, runner.Running())
}

func TestAgentStartAlreadyRunning(t *testing.T) {
	runner := &stubRunner{startErr: fmt.Errorf("supervisor: start: %w", domain.ErrAgentRunning)}
	h := newAgentHandler(runner, &stubAgent{})

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/agent/start", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "already running")
}

func TestAgentStop(t *testing.T) {
	runner := &stubRunner{running: true}
	h := newAgentHandler(runner, &stubAgent{})

	rec := httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/agent/stop", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, runner.Running())
	assert.Equal(t, 1, runner.stops)
}

func TestUpdateConfigInvalidRiskLevel(t *testing.T) {
	agent := &stubAgent{cfgErr: fmt.Errorf("agent: update config: risk level %q: %w", "yolo", domain.ErrInvalidRiskLevel)}
	h := newAgentHandler(&stubRunner{}, agent)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/agent/config", strings.NewReader(`{"risk_level":"yolo"}`))
	h.UpdateConfig(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateConfigMalformedBody(t *testing.T) {
	h := newAgentHandler(&stubRunner{}, &stubAgent{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/agent/config", strings.NewReader(`{not json`))
	h.UpdateConfig(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateConfigApplied(t *testing.T) {
	agent := &stubAgent{cfgOut: domain.AgentConfig{
		RiskLevel:           domain.RiskAggressive,
		MaxPositions:        10,
		RebalanceInterval:   30 * time.Minute,
		MonitorSymbols:      []string{"BTCUSDT"},
		PriceAlertThreshold: 3.5,
	}}
	h := newAgentHandler(&stubRunner{}, agent)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/agent/config", strings.NewReader(
		`{"risk_level":"aggressive","rebalance_interval_seconds":1800,"monitor_symbols":["BTCUSDT"],"price_alert_threshold":3.5}`,
	))
	h.UpdateConfig(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, agent.updates, 1)
	upd := agent.updates[0]
	require.NotNil(t, upd.RiskLevel)
	assert.Equal(t, domain.RiskAggressive, *upd.RiskLevel)
	require.NotNil(t, upd.RebalanceInterval)
	assert.Equal(t, 30*time.Minute, *upd.RebalanceInterval)
	assert.Equal(t, []string{"BTCUSDT"}, upd.MonitorSymbols)
	assert.Nil(t, upd.MaxPositions)

	body := decodeBody(t, rec)
	assert.Equal(t, "aggressive", body["risk_level"])
	assert.Equal(t, float64(1800), body["rebalance_interval_seconds"])
}

func TestTradeValidation(t *testing.T) {
	h := newAgentHandler(&stubRunner{}, &stubAgent{})

	cases := []struct {
		name string
		body string
	}{
		{"missing symbol", `{"action":"buy","quantity":1}`},
		{"zero quantity", `{"symbol":"BTCUSDT","action":"buy","quantity":0}`},
		{"negative quantity", `{"symbol":"BTCUSDT","action":"sell","quantity":-2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/agent/trade", strings.NewReader(tc.body))
			h.Trade(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestTradeInvalidAction(t *testing.T) {
	agent := &stubAgent{forceErr: fmt.Errorf("agent: force trade %q: %w", "hold", domain.ErrInvalidAction)}
	h := newAgentHandler(&stubRunner{}, agent)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/trade", strings.NewReader(
		`{"symbol":"BTCUSDT","action":"hold","quantity":1}`,
	))
	h.Trade(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradeInsufficientCash(t *testing.T) {
	agent := &stubAgent{forceErr: fmt.Errorf("state: apply trade: %w", domain.ErrInsufficientCash)}
	h := newAgentHandler(&stubRunner{}, agent)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/trade", strings.NewReader(
		`{"symbol":"BTCUSDT","action":"buy","quantity":100,"price":50000}`,
	))
	h.Trade(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTradeExecuted(t *testing.T) {
	agent := &stubAgent{}
	h := newAgentHandler(&stubRunner{}, agent)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/trade", strings.NewReader(
		`{"symbol":"ETHUSDT","action":"buy","quantity":0.5,"price":2000}`,
	))
	h.Trade(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, agent.trades, 1)
	call := agent.trades[0]
	assert.Equal(t, "ETHUSDT", call.symbol)
	assert.Equal(t, domain.TradeActionBuy, call.action)
	assert.Equal(t, 0.5, call.quantity)
	require.NotNil(t, call.price)
	assert.Equal(t, 2000.0, *call.price)

	body := decodeBody(t, rec)
	assert.Equal(t, "executed", body["status"])
}
