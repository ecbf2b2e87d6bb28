package state

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
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fp(v float64) *float64 { return &v }

// memStore is an in-memory AgentStateStore with optional artificial latency
// to widen the persistence window.
type memStore struct {
	mu      sync.Mutex
	snaps   map[string]*domain.AgentSnapshot
	saveLag time.Duration
	saves   int
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]*domain.AgentSnapshot)}
}

func (m *memStore) Load(_ context.Context, agentID string) (*domain.AgentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[agentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

func (m *memStore) Save(_ context.Context, snap *domain.AgentSnapshot) error {
	if m.saveLag > 0 {
		time.Sleep(m.saveLag)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.AgentID] = snap
	m.saves++
	return nil
}

func executedBuy(id, symbol string, qty, price float64) *domain.TradeDecision {
	trade := domain.NewTradeDecision(id, symbol, domain.TradeActionBuy, qty, fp(price))
	trade.MarkExecuted(price, 0)
	return trade
}

func executedSell(id, symbol string, qty, price float64) *domain.TradeDecision {
	trade := domain.NewTradeDecision(id, symbol, domain.TradeActionSell, qty, fp(price))
	trade.MarkExecuted(price, 0)
	return trade
}

func TestApplyBuyDebitsCashAndOpensPosition(t *testing.T) {
	s := New("agent_test", 10000, newMemStore(), testLogger())

	err := s.ApplyTradeDecision(context.Background(), executedBuy("t1", "BTCUSDT", 1, 9000))
	require.NoError(t, err)

	s.WithPortfolio(func(p *domain.Portfolio) {
		assert.Equal(t, 1000.0, p.Cash)
		require.Len(t, p.Positions, 1)
		assert.Equal(t, "BTCUSDT", p.Positions[0].Symbol)
		assert.Equal(t, 9000.0, p.Positions[0].EntryPrice)
		assert.Len(t, p.TradeHistory, 1)
	})
}

func TestApplyBuyInsufficientCashRejectsWithoutMutation(t *testing.T) {
	s := New("agent_test", 100, newMemStore(), testLogger())

	trade := executedBuy("t1", "BTCUSDT", 1, 9000)
	err := s.ApplyTradeDecision(context.Background(), trade)
	require.ErrorIs(t, err, domain.ErrInsufficientCash)
	assert.Equal(t, domain.TradeStatusFailed, trade.Status)
	assert.Equal(t, "Insufficient cash", trade.Reason)

	s.WithPortfolio(func(p *domain.Portfolio) {
		assert.Equal(t, 100.0, p.Cash)
		assert.Empty(t, p.Positions)
		assert.Empty(t, p.TradeHistory)
	})
}

func TestZeroFeeBuyConservesTotalValue(t *testing.T) {
	s := New("agent_test", 10000, newMemStore(), testLogger())

	var before float64
	s.WithPortfolio(func(p *domain.Portfolio) { before = p.TotalValue() })

	require.NoError(t, s.ApplyTradeDecision(context.Background(), executedBuy("t1", "BTCUSDT", 2, 3000)))

	s.WithPortfolio(func(p *domain.Portfolio) {
		assert.InDelta(t, before, p.TotalValue(), 1e-9)
	})
}

func TestApplySellWithoutPositionFails(t *testing.T) {
	s := New("agent_test", 10000, newMemStore(), testLogger())

	trade := executedSell("t1", "BTCUSDT", 1, 9000)
	err := s.ApplyTradeDecision(context.Background(), trade)
	require.ErrorIs(t, err, domain.ErrNoPosition)
	assert.Equal(t, "No position to sell", trade.Reason)
}

func TestPartialAndFullSell(t *testing.T) {
	s := New("agent_test", 10000, newMemStore(), testLogger())
	ctx := context.Background()

	require.NoError(t, s.ApplyTradeDecision(ctx, executedBuy("t1", "ETHUSDT", 4, 2000)))

	// Partial sell leaves the position with reduced quantity.
	require.NoError(t, s.ApplyTradeDecision(ctx, executedSell("t2", "ETHUSDT", 1, 2100)))
	s.WithPortfolio(func(p *domain.Portfolio) {
		require.Len(t, p.Positions, 1)
		assert.Equal(t, 3.0, p.Positions[0].Quantity)
	})

	// Selling at least the remaining quantity removes the position.
	require.NoError(t, s.ApplyTradeDecision(ctx, executedSell("t3", "ETHUSDT", 3, 2100)))
	s.WithPortfolio(func(p *domain.Portfolio) {
		assert.Empty(t, p.Positions)
	})
}

func TestHoldIsANoOpSuccess(t *testing.T) {
	store := newMemStore()
	s := New("agent_test", 10000, store, testLogger())

	trade := domain.NewTradeDecision("t1", "BTCUSDT", domain.TradeActionHold, 0, nil)
	require.NoError(t, s.ApplyTradeDecision(context.Background(), trade))

	s.WithPortfolio(func(p *domain.Portfolio) {
		assert.Empty(t, p.TradeHistory)
		assert.Equal(t, 10000.0, p.Cash)
	})

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.saves, "a hold persists like any other apply path")
}

func TestRepeatBuyAppendsSecondPosition(t *testing.T) {
	s := New("agent_test", 10000, newMemStore(), testLogger())
	ctx := context.Background()

	require.NoError(t, s.ApplyTradeDecision(ctx, executedBuy("t1", "BTCUSDT", 1, 100)))
	require.NoError(t, s.ApplyTradeDecision(ctx, executedBuy("t2", "BTCUSDT", 1, 120)))

	s.WithPortfolio(func(p *domain.Portfolio) {
		assert.Len(t, p.Positions, 2)
	})
}

// Two concurrent buys that each fit the cash balance individually but not
// jointly must resolve to exactly one success.
func TestConcurrentBuysCannotOverspend(t *testing.T) {
	store := newMemStore()
	store.saveLag = 10 * time.Millisecond // widen the persistence window
	s := New("agent_test", 10000, store, testLogger())

	trades := []*domain.TradeDecision{
		executedBuy("t1", "BTCUSDT", 1, 7000),
		executedBuy("t2", "ETHUSDT", 1, 7000),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(trades))
	for i, trade := range trades {
		wg.Add(1)
		go func(i int, trade *domain.TradeDecision) {
			defer wg.Done()
			errs[i] = s.ApplyTradeDecision(context.Background(), trade)
		}(i, trade)
	}
	wg.Wait()

	successes := 0
	failures := 0
	for i, err := range errs {
		if err == nil {
			successes++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientCash)
			assert.Equal(t, "Insufficient cash", trades[i].Reason)
			failures++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)

	s.WithPortfolio(func(p *domain.Portfolio) {
		assert.GreaterOrEqual(t, p.Cash, 0.0)
	})
}

func TestMetricsDrawdownNeverDecreases(t *testing.T) {
	s := New("agent_test", 10000, newMemStore(), testLogger())
	ctx := context.Background()

	require.NoError(t, s.ApplyTradeDecision(ctx, executedBuy("t1", "BTCUSDT", 1, 5000)))

	s.UpdatePositionPrice("BTCUSDT", 4000) // value drops to 9000
	m := s.UpdateMetrics()
	assert.InDelta(t, 10.0, m.MaxDrawdown, 1e-9)

	s.UpdatePositionPrice("BTCUSDT", 5000) // recovery
	m = s.UpdateMetrics()
	assert.InDelta(t, 10.0, m.MaxDrawdown, 1e-9, "drawdown is a high-water mark")
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	s := New("agent_test", 10000, store, testLogger())
	require.NoError(t, s.ApplyTradeDecision(ctx, executedBuy("t1", "BTCUSDT", 1, 9000)))
	require.NoError(t, s.SaveToStore(ctx))

	restored := New("agent_test", 10000, store, testLogger())
	loaded, err := restored.LoadFromStore(ctx)
	require.NoError(t, err)
	require.True(t, loaded)

	restored.WithPortfolio(func(p *domain.Portfolio) {
		assert.Equal(t, 1000.0, p.Cash)
		assert.Len(t, p.Positions, 1)
	})
}

func TestScenarioFullRoundTrip(t *testing.T) {
	s := New("agent_test", 10000, newMemStore(), testLogger())
	ctx := context.Background()

	require.NoError(t, s.ApplyTradeDecision(ctx, executedBuy("t1", "BTC", 1, 9000)))
	s.WithPortfolio(func(p *domain.Portfolio) {
		assert.Equal(t, 1000.0, p.Cash)
		require.Len(t, p.Positions, 1)
		assert.Equal(t, 1.0, p.Positions[0].Quantity)
		assert.Equal(t, 9000.0, p.Positions[0].EntryPrice)
	})

	s.UpdatePositionPrice("BTC", 9500)
	s.WithPortfolio(func(p *domain.Portfolio) {
		pos := p.GetPosition("BTC")
		require.NotNil(t, pos)
		assert.InDelta(t, 500.0, pos.UnrealizedPnL(), 1e-9)
		assert.InDelta(t, 5.5555, pos.UnrealizedPnLPercent(), 1e-3)
	})

	require.NoError(t, s.ApplyTradeDecision(ctx, executedSell("t2", "BTC", 1, 9500)))
	s.WithPortfolio(func(p *domain.Portfolio) {
		assert.Equal(t, 10500.0, p.Cash)
		assert.Empty(t, p.Positions)
		assert.InDelta(t, 500.0, p.TotalPnL(), 1e-9)
	})
}

func TestStatusSnapshotShape(t *testing.T) {
	s := New("agent_test", 10000, newMemStore(), testLogger())

	status := s.Status()
	assert.Equal(t, "agent_test", status["agent_id"])

	portfolio, ok := status["portfolio"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 10000.0, portfolio["total_value"])

	perf, ok := status["performance"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.0, perf["win_rate"])
}
