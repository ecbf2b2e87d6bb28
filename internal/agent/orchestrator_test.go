package agent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoagent/internal/domain"
	"cryptoagent/internal/monitor"
	"cryptoagent/internal/scheduler"
	"cryptoagent/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu    sync.Mutex
	snaps map[string]*domain.AgentSnapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]*domain.AgentSnapshot)}
}

func (m *memStore) Load(ctx context.Context, agentID string) (*domain.AgentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[agentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

func (m *memStore) Save(ctx context.Context, snap *domain.AgentSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.AgentID] = snap
	return nil
}

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) GetPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[symbol]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}

// mockEngine records calls and replays canned responses.
type mockEngine struct {
	mu          sync.Mutex
	alertSignal *domain.TradingSignal
	analysisOut []domain.TradingSignal
	recorded    []*domain.TradeDecision
	alerts      []domain.MarketAlert
	riskLevel   domain.RiskLevel
}

func (m *mockEngine) EvaluateAlert(ctx context.Context, alert domain.MarketAlert, p *domain.Portfolio) (*domain.TradingSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return m.alertSignal, nil
}

func (m *mockEngine) EvaluateAnalysis(ctx context.Context, results domain.AnalysisResults) ([]domain.TradingSignal, error) {
	return m.analysisOut, nil
}

func (m *mockEngine) RecordTrade(trade *domain.TradeDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, trade)
}

func (m *mockEngine) UpdateRiskLevel(level domain.RiskLevel) error {
	if !level.Valid() {
		return domain.ErrInvalidRiskLevel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskLevel = level
	return nil
}

func (m *mockEngine) RiskStatus() map[string]any {
	return map[string]any{"risk_level": "moderate", "daily_pnl": 0.0}
}

func (m *mockEngine) recordedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recorded)
}

func (m *mockEngine) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

type stubAnalysis struct {
	job domain.AnalysisJob
}

func (s *stubAnalysis) StartAnalysis(ctx context.Context, goal string, metadata map[string]string) (string, error) {
	return s.job.ID, nil
}

func (s *stubAnalysis) GetJob(ctx context.Context, jobID string) (domain.AnalysisJob, error) {
	return s.job, nil
}

func newTestOrchestrator(t *testing.T, eng domain.DecisionEngine, prices map[string]float64) (*Orchestrator, *state.AgentState) {
	t.Helper()
	logger := testLogger()
	st := state.New("agent_test", 10000, newMemStore(), logger)
	src := &fakeSource{prices: prices}
	mon := monitor.New([]domain.PriceSource{src}, nil, logger)
	mon.SetPollInterval(10 * time.Millisecond)
	sched := scheduler.New(logger)

	o := New(Deps{
		State:     st,
		Monitor:   mon,
		Scheduler: sched,
		Engine:    eng,
		Logger:    logger,
	})
	return o, st
}

func TestExecuteSignalBuyOpensPosition(t *testing.T) {
	eng := &mockEngine{}
	o, st := newTestOrchestrator(t, eng, nil)

	price := 100.0
	stop := 95.0
	err := o.ExecuteSignal(context.Background(), domain.TradingSignal{
		Symbol:     "BTCUSDT",
		Action:     domain.TradeActionBuy,
		Quantity:   2,
		Price:      &price,
		StopLoss:   &stop,
		Reasoning:  "test entry",
		Confidence: 0.9,
		Strength:   domain.SignalStrengthStrong,
		Source:     "analysis",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, eng.recordedCount())

	st.WithPortfolio(func(p *domain.Portfolio) {
		assert.InDelta(t, 9800, p.Cash, 1e-9)
		pos := p.GetPosition("BTCUSDT")
		require.NotNil(t, pos)
		require.NotNil(t, pos.StopLoss)
		assert.InDelta(t, 95, *pos.StopLoss, 1e-9)
		require.Len(t, p.TradeHistory, 1)
		trade := p.TradeHistory[0]
		assert.Equal(t, domain.TradeStatusExecuted, trade.Status)
		assert.Equal(t, "analysis", trade.Metadata["source"])
		assert.Equal(t, "0.9", trade.Metadata["confidence_score"])
	})
}

func TestExecuteSignalRejectedTradeNotRecorded(t *testing.T) {
	eng := &mockEngine{}
	o, _ := newTestOrchestrator(t, eng, nil)

	price := 100000.0
	err := o.ExecuteSignal(context.Background(), domain.TradingSignal{
		Symbol:   "BTCUSDT",
		Action:   domain.TradeActionBuy,
		Quantity: 1,
		Price:    &price,
		Source:   "analysis",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientCash)
	assert.Zero(t, eng.recordedCount())
}

func TestAlertFlowExecutesEngineSignal(t *testing.T) {
	price := 94.0
	eng := &mockEngine{
		alertSignal: &domain.TradingSignal{
			Symbol:     "BTCUSDT",
			Action:     domain.TradeActionBuy,
			Quantity:   1,
			Price:      &price,
			Reasoning:  "buying the dip",
			Confidence: 0.6,
			Source:     "alert_handler",
		},
	}
	o, st := newTestOrchestrator(t, eng, nil)

	err := o.onMarketAlert(context.Background(), domain.MarketAlert{
		Symbol:         "BTCUSDT",
		Type:           domain.AlertPriceChange,
		CurrentValue:   -6.0,
		ThresholdValue: 5.0,
	})
	require.NoError(t, err)

	require.Len(t, eng.alerts, 1)
	st.WithPortfolio(func(p *domain.Portfolio) {
		require.NotNil(t, p.GetPosition("BTCUSDT"))
		assert.InDelta(t, 9906, p.Cash, 1e-9)
	})
}

func TestAlertFlowNoSignalNoTrade(t *testing.T) {
	eng := &mockEngine{}
	o, st := newTestOrchestrator(t, eng, nil)

	err := o.onMarketAlert(context.Background(), domain.MarketAlert{
		Symbol: "BTCUSDT",
		Type:   domain.AlertPriceChange,
	})
	require.NoError(t, err)
	st.WithPortfolio(func(p *domain.Portfolio) {
		assert.Empty(t, p.TradeHistory)
	})
}

func TestForceTradeValidatesAction(t *testing.T) {
	eng := &mockEngine{}
	o, _ := newTestOrchestrator(t, eng, nil)

	err := o.ForceTrade(context.Background(), "BTCUSDT", domain.TradeActionHold, 1, nil)
	require.ErrorIs(t, err, domain.ErrInvalidAction)

	price := 50.0
	require.NoError(t, o.ForceTrade(context.Background(), "BTCUSDT", domain.TradeActionBuy, 1, &price))

	trades := 0
	o.deps.State.WithPortfolio(func(p *domain.Portfolio) {
		trades = len(p.TradeHistory)
		require.NotEmpty(t, p.TradeHistory)
		assert.Equal(t, "Manual intervention", p.TradeHistory[0].Reason)
		assert.Equal(t, "manual_intervention", p.TradeHistory[0].Metadata["source"])
	})
	assert.Equal(t, 1, trades)
}

func TestRebalanceTriggersStopLoss(t *testing.T) {
	eng := &mockEngine{}
	o, st := newTestOrchestrator(t, eng, map[string]float64{"BTCUSDT": 90})

	// Open a position with a stop at 95; the feed now quotes 90.
	price := 100.0
	stop := 95.0
	require.NoError(t, o.ExecuteSignal(context.Background(), domain.TradingSignal{
		Symbol:   "BTCUSDT",
		Action:   domain.TradeActionBuy,
		Quantity: 2,
		Price:    &price,
		StopLoss: &stop,
		Source:   "analysis",
	}))

	require.NoError(t, o.runRebalance(context.Background()))

	st.WithPortfolio(func(p *domain.Portfolio) {
		assert.Nil(t, p.GetPosition("BTCUSDT"), "stop-loss sell should close the position")
		require.Len(t, p.TradeHistory, 2)
		sell := p.TradeHistory[1]
		assert.Equal(t, domain.TradeActionSell, sell.Action)
		assert.Equal(t, "Stop loss triggered at $95", sell.Reason)
		// 9800 cash after the buy plus 2 units sold at the 90 mark.
		assert.InDelta(t, 9980, p.Cash, 1e-9)
	})
}

func TestAnalysisFlowExecutesSignals(t *testing.T) {
	price := 50.0
	eng := &mockEngine{
		analysisOut: []domain.TradingSignal{
			{Symbol: "ETHUSDT", Action: domain.TradeActionBuy, Quantity: 1, Price: &price, Source: "analysis"},
		},
	}
	o, st := newTestOrchestrator(t, eng, nil)
	o.deps.Analysis = &stubAnalysis{job: domain.AnalysisJob{
		ID:      "analysis_abc12345",
		Status:  domain.AnalysisCompleted,
		Results: &domain.AnalysisResults{JobID: "analysis_abc12345"},
	}}

	require.NoError(t, o.runMarketAnalysis(context.Background()))

	st.WithPortfolio(func(p *domain.Portfolio) {
		require.NotNil(t, p.GetPosition("ETHUSDT"))
	})
}

func TestAnalysisSkippedWithoutService(t *testing.T) {
	eng := &mockEngine{}
	o, _ := newTestOrchestrator(t, eng, nil)
	require.NoError(t, o.runMarketAnalysis(context.Background()))
}

func TestRunGuardsDoubleStart(t *testing.T) {
	eng := &mockEngine{}
	o, _ := newTestOrchestrator(t, eng, map[string]float64{"BTCUSDT": 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, o.IsRunning, time.Second, 5*time.Millisecond)

	err := o.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrAgentRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, o.IsRunning())
}

func TestStopEndsRun(t *testing.T) {
	eng := &mockEngine{}
	o, _ := newTestOrchestrator(t, eng, map[string]float64{"BTCUSDT": 100})

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	require.Eventually(t, o.IsRunning, time.Second, 5*time.Millisecond)
	o.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestStatusSnapshotShape(t *testing.T) {
	eng := &mockEngine{}
	o, _ := newTestOrchestrator(t, eng, nil)

	status := o.StatusSnapshot()
	assert.Equal(t, "agent_test", status["agent_id"])
	assert.Equal(t, false, status["running"])
	assert.Contains(t, status, "scheduler")
	assert.Contains(t, status, "market_monitor")
	assert.Contains(t, status, "decision_engine")
	assert.Contains(t, status, "agent_state")
}
