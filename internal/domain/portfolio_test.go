package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

func executedTrade(id, symbol string, action TradeAction, qty, execPrice float64) *TradeDecision {
	t := NewTradeDecision(id, symbol, action, qty, fp(execPrice))
	t.MarkExecuted(execPrice, 0)
	return t
}

func TestPositionDerivedMetrics(t *testing.T) {
	pos := NewPosition("pos_1", "BTCUSDT", TradeActionBuy, 2, 100)

	// No current price: mark at entry.
	assert.Equal(t, 200.0, pos.MarketValue())
	assert.Equal(t, 0.0, pos.UnrealizedPnL())

	pos.UpdatePrice(110)
	assert.Equal(t, 220.0, pos.MarketValue())
	assert.InDelta(t, 20.0, pos.UnrealizedPnL(), 1e-9)
	assert.InDelta(t, 10.0, pos.UnrealizedPnLPercent(), 1e-9)
}

func TestPositionNonBuyReportsZeroPnL(t *testing.T) {
	pos := NewPosition("pos_1", "BTCUSDT", TradeActionSell, 2, 100)
	pos.UpdatePrice(50)

	assert.Equal(t, 0.0, pos.UnrealizedPnL())
	assert.Equal(t, 0.0, pos.UnrealizedPnLPercent())
}

func TestTradeDecisionTotalValue(t *testing.T) {
	trade := NewTradeDecision("trade_1", "BTCUSDT", TradeActionBuy, 2, fp(100))
	trade.Fees = 5
	assert.Equal(t, 205.0, trade.TotalValue())

	noPrice := NewTradeDecision("trade_2", "BTCUSDT", TradeActionBuy, 2, nil)
	assert.Equal(t, 0.0, noPrice.TotalValue())

	zeroQty := NewTradeDecision("trade_3", "BTCUSDT", TradeActionBuy, 0, fp(100))
	assert.Equal(t, 0.0, zeroQty.TotalValue())
}

func TestTradeDecisionTransitions(t *testing.T) {
	trade := NewTradeDecision("trade_1", "BTCUSDT", TradeActionBuy, 1, fp(100))
	require.Equal(t, TradeStatusPending, trade.Status)

	trade.MarkExecuted(101, 0.5)
	assert.Equal(t, TradeStatusExecuted, trade.Status)
	require.NotNil(t, trade.ExecutionPrice)
	assert.Equal(t, 101.0, *trade.ExecutionPrice)
	assert.NotNil(t, trade.ExecutedAt)

	failed := NewTradeDecision("trade_2", "BTCUSDT", TradeActionBuy, 1, fp(100))
	failed.Reason = "signal"
	failed.MarkFailed("")
	assert.Equal(t, TradeStatusFailed, failed.Status)
	assert.Equal(t, "signal", failed.Reason, "empty reason keeps existing one")
	failed.MarkFailed("Insufficient cash")
	assert.Equal(t, "Insufficient cash", failed.Reason)
}

func TestPortfolioFIFORealizedPnL(t *testing.T) {
	p := NewPortfolio("test_portfolio", 1000)
	p.AddTrade(executedTrade("t1", "BTCUSDT", TradeActionBuy, 1, 100))
	p.AddTrade(executedTrade("t2", "BTCUSDT", TradeActionBuy, 1, 120))
	p.AddTrade(executedTrade("t3", "BTCUSDT", TradeActionSell, 2, 130))

	// (130-100)*1 + (130-120)*1 = 40
	assert.InDelta(t, 40.0, p.TotalPnL(), 1e-9)
}

func TestPortfolioTotalPnLIsIdempotent(t *testing.T) {
	p := NewPortfolio("test_portfolio", 1000)
	p.AddTrade(executedTrade("t1", "BTCUSDT", TradeActionBuy, 2, 100))
	p.AddTrade(executedTrade("t2", "BTCUSDT", TradeActionSell, 1, 150))

	first := p.TotalPnL()
	second := p.TotalPnL()
	assert.Equal(t, first, second, "repeated reads must not change the result")
	assert.Equal(t, 2.0, p.TradeHistory[0].Quantity, "history quantities must not be mutated")
	assert.Equal(t, 1.0, p.TradeHistory[1].Quantity)
}

func TestPortfolioUnmatchedSellContributesNothing(t *testing.T) {
	p := NewPortfolio("test_portfolio", 1000)
	p.AddTrade(executedTrade("t1", "BTCUSDT", TradeActionBuy, 1, 100))
	p.AddTrade(executedTrade("t2", "BTCUSDT", TradeActionSell, 3, 130))

	// Only 1 unit matches; the 2 unmatched units are ignored.
	assert.InDelta(t, 30.0, p.TotalPnL(), 1e-9)
}

func TestPortfolioPnLPercentZeroInitialBalance(t *testing.T) {
	p := NewPortfolio("test_portfolio", 0)
	p.AddTrade(executedTrade("t1", "BTCUSDT", TradeActionBuy, 1, 100))
	p.AddTrade(executedTrade("t2", "BTCUSDT", TradeActionSell, 1, 130))

	assert.Equal(t, 0.0, p.TotalPnLPercent())
}

func TestPortfolioCashAllocationPercent(t *testing.T) {
	p := NewPortfolio("test_portfolio", 1000)
	assert.Equal(t, 100.0, p.CashAllocationPercent())

	p.Cash = 250
	p.AddPosition(NewPosition("pos_1", "BTCUSDT", TradeActionBuy, 1, 750))
	assert.InDelta(t, 25.0, p.CashAllocationPercent(), 1e-9)

	empty := NewPortfolio("empty", 0)
	assert.Equal(t, 0.0, empty.CashAllocationPercent())
}

func TestPortfolioTopPositions(t *testing.T) {
	p := NewPortfolio("test_portfolio", 10000)
	p.AddPosition(NewPosition("pos_a", "AAA", TradeActionBuy, 1, 100))
	p.AddPosition(NewPosition("pos_b", "BBB", TradeActionBuy, 1, 300))
	p.AddPosition(NewPosition("pos_c", "CCC", TradeActionBuy, 1, 300))
	p.AddPosition(NewPosition("pos_d", "DDD", TradeActionBuy, 1, 200))

	top := p.TopPositions(3)
	require.Len(t, top, 3)
	assert.Equal(t, "BBB", top[0].Symbol, "ties keep insertion order")
	assert.Equal(t, "CCC", top[1].Symbol)
	assert.Equal(t, "DDD", top[2].Symbol)
}

func TestPortfolioPositionLifecycle(t *testing.T) {
	p := NewPortfolio("test_portfolio", 10000)
	pos := NewPosition("pos_1", "ETHUSDT", TradeActionBuy, 2, 2000)
	p.AddPosition(pos)

	require.NotNil(t, p.GetPosition("ETHUSDT"))
	assert.Nil(t, p.GetPosition("BTCUSDT"))

	p.UpdatePositionPrice("ETHUSDT", 2100)
	require.NotNil(t, pos.CurrentPrice)
	assert.Equal(t, 2100.0, *pos.CurrentPrice)

	assert.True(t, p.RemovePosition("pos_1"))
	assert.False(t, p.RemovePosition("pos_1"))
	assert.Empty(t, p.Positions)
}

func TestPortfolioSymbolExposure(t *testing.T) {
	p := NewPortfolio("test_portfolio", 10000)
	p.AddPosition(NewPosition("pos_1", "BTCUSDT", TradeActionBuy, 1, 100))
	p.AddPosition(NewPosition("pos_2", "BTCUSDT", TradeActionBuy, 2, 110))
	p.AddPosition(NewPosition("pos_3", "ETHUSDT", TradeActionBuy, 1, 500))

	assert.InDelta(t, 320.0, p.SymbolExposure("BTCUSDT"), 1e-9)
}

func TestRecentTrades(t *testing.T) {
	p := NewPortfolio("test_portfolio", 1000)
	for i := 0; i < 5; i++ {
		p.AddTrade(executedTrade("t"+string(rune('0'+i)), "BTCUSDT", TradeActionBuy, 1, 100))
	}

	recent := p.RecentTrades(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "t3", recent[0].ID)
	assert.Equal(t, "t4", recent[1].ID)

	assert.Len(t, p.RecentTrades(0), 5)
	assert.Len(t, p.RecentTrades(50), 5)
}
