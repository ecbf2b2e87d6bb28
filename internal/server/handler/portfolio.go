package handler

import (
	"log/slog"
	"net/http"
	"time"

	"cryptoagent/internal/domain"
)

// PortfolioReader is the slice of agent state the portfolio endpoint reads.
type PortfolioReader interface {
	WithPortfolio(fn func(p *domain.Portfolio))
	UpdateMetrics() domain.AgentMetrics
}

// PortfolioHandler serves the portfolio snapshot endpoint.
type PortfolioHandler struct {
	state  PortfolioReader
	logger *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler over the given state.
func NewPortfolioHandler(state PortfolioReader, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		state:  state,
		logger: logger,
	}
}

type positionView struct {
	ID                   string   `json:"id"`
	Symbol               string   `json:"symbol"`
	Quantity             float64  `json:"quantity"`
	EntryPrice           float64  `json:"entry_price"`
	CurrentPrice         *float64 `json:"current_price,omitempty"`
	StopLoss             *float64 `json:"stop_loss,omitempty"`
	TakeProfit           *float64 `json:"take_profit,omitempty"`
	MarketValue          float64  `json:"market_value"`
	UnrealizedPnL        float64  `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64  `json:"unrealized_pnl_percent"`
}

type tradeView struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Action         string            `json:"action"`
	Quantity       float64           `json:"quantity"`
	Price          *float64          `json:"price,omitempty"`
	ExecutionPrice *float64          `json:"execution_price,omitempty"`
	Status         string            `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      string            `json:"created_at"`
	ExecutedAt     *string           `json:"executed_at,omitempty"`
}

type performanceView struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	PeakValue     float64 `json:"peak_value"`
}

type portfolioResponse struct {
	Cash            float64         `json:"cash"`
	InitialBalance  float64         `json:"initial_balance"`
	TotalValue      float64         `json:"total_value"`
	TotalPnL        float64         `json:"total_pnl"`
	TotalPnLPercent float64         `json:"total_pnl_percent"`
	Positions       []positionView  `json:"positions"`
	RecentTrades    []tradeView     `json:"recent_trades"`
	Performance     performanceView `json:"performance"`
}

// Get returns the portfolio snapshot: cash, open positions, the most recent
// trades, and performance aggregates.
// GET /api/agent/portfolio?trades=N
func (h *PortfolioHandler) Get(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, "trades", 20, 200)

	resp := portfolioResponse{
		Positions:    []positionView{},
		RecentTrades: []tradeView{},
	}
	h.state.WithPortfolio(func(p *domain.Portfolio) {
		resp.Cash = p.Cash
		resp.InitialBalance = p.InitialBalance
		resp.TotalValue = p.TotalValue()
		resp.TotalPnL = p.TotalPnL()
		resp.TotalPnLPercent = p.TotalPnLPercent()
		for _, pos := range p.Positions {
			resp.Positions = append(resp.Positions, newPositionView(pos))
		}
		for _, trade := range p.RecentTrades(limit) {
			resp.RecentTrades = append(resp.RecentTrades, newTradeView(trade))
		}
	})

	// UpdateMetrics takes the state lock, so it runs after WithPortfolio.
	resp.Performance = newPerformanceView(h.state.UpdateMetrics())

	writeJSON(w, http.StatusOK, resp)
}

func newPositionView(pos *domain.Position) positionView {
	return positionView{
		ID:                   pos.ID,
		Symbol:               pos.Symbol,
		Quantity:             pos.Quantity,
		EntryPrice:           pos.EntryPrice,
		CurrentPrice:         pos.CurrentPrice,
		StopLoss:             pos.StopLoss,
		TakeProfit:           pos.TakeProfit,
		MarketValue:          pos.MarketValue(),
		UnrealizedPnL:        pos.UnrealizedPnL(),
		UnrealizedPnLPercent: pos.UnrealizedPnLPercent(),
	}
}

func newTradeView(trade *domain.TradeDecision) tradeView {
	v := tradeView{
		ID:             trade.ID,
		Symbol:         trade.Symbol,
		Action:         string(trade.Action),
		Quantity:       trade.Quantity,
		Price:          trade.Price,
		ExecutionPrice: trade.ExecutionPrice,
		Status:         string(trade.Status),
		Reason:         trade.Reason,
		Metadata:       trade.Metadata,
		CreatedAt:      trade.CreatedAt.Format(time.RFC3339),
	}
	if trade.ExecutedAt != nil {
		ts := trade.ExecutedAt.Format(time.RFC3339)
		v.ExecutedAt = &ts
	}
	return v
}

func newPerformanceView(m domain.AgentMetrics) performanceView {
	winRate := 0.0
	if m.TotalTrades > 0 {
		winRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	return performanceView{
		TotalTrades:   m.TotalTrades,
		WinningTrades: m.WinningTrades,
		LosingTrades:  m.LosingTrades,
		WinRate:       winRate,
		BestTrade:     m.BestTrade,
		WorstTrade:    m.WorstTrade,
		MaxDrawdown:   m.MaxDrawdown,
		PeakValue:     m.PeakValue,
	}
}
