package domain

import (
	"sort"
	"time"
)

// Portfolio is the aggregate that owns cash, open positions, and the
// append-only trade history for one agent. Positions are held by pointer and
// owned exclusively by the portfolio; repeated buys on the same symbol append
// a new record rather than merging into the existing one.
type Portfolio struct {
	ID             string
	InitialBalance float64
	Cash           float64
	Positions      []*Position
	TradeHistory   []*TradeDecision
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPortfolio creates a portfolio with the full initial balance held as cash.
func NewPortfolio(id string, initialBalance float64) *Portfolio {
	now := time.Now().UTC()
	return &Portfolio{
		ID:             id,
		InitialBalance: initialBalance,
		Cash:           initialBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TotalValue returns cash plus the market value of every open position.
func (p *Portfolio) TotalValue() float64 {
	total := p.Cash
	for _, pos := range p.Positions {
		total += pos.MarketValue()
	}
	return total
}

// fifoLot is one executed buy awaiting FIFO matching against later sells.
type fifoLot struct {
	quantity float64
	price    float64
}

// TotalPnL returns realized plus unrealized P&L. Realized P&L matches each
// executed sell against the oldest executed buys of the same symbol (FIFO).
// Matching runs over copied quantities so the trade history is never mutated
// and repeated calls are idempotent. Sell quantity with no remaining buy lot
// to match contributes no realized P&L.
func (p *Portfolio) TotalPnL() float64 {
	realized := 0.0
	lots := make(map[string][]fifoLot)

	for _, trade := range p.TradeHistory {
		if trade.Status != TradeStatusExecuted || trade.ExecutionPrice == nil {
			continue
		}
		switch trade.Action {
		case TradeActionBuy:
			lots[trade.Symbol] = append(lots[trade.Symbol], fifoLot{
				quantity: trade.Quantity,
				price:    *trade.ExecutionPrice,
			})
		case TradeActionSell:
			queue := lots[trade.Symbol]
			remaining := trade.Quantity
			for len(queue) > 0 && remaining > 0 {
				lot := &queue[0]
				matched := min(lot.quantity, remaining)
				realized += (*trade.ExecutionPrice - lot.price) * matched
				lot.quantity -= matched
				remaining -= matched
				if lot.quantity <= 0 {
					queue = queue[1:]
				}
			}
			lots[trade.Symbol] = queue
		}
	}

	unrealized := 0.0
	for _, pos := range p.Positions {
		unrealized += pos.UnrealizedPnL()
	}

	return realized + unrealized
}

// TotalPnLPercent returns total P&L as a percentage of the initial balance.
// Zero when the initial balance is not positive.
func (p *Portfolio) TotalPnLPercent() float64 {
	if p.InitialBalance <= 0 {
		return 0
	}
	return p.TotalPnL() / p.InitialBalance * 100
}

// GetPosition returns the first open position for the symbol, or nil.
func (p *Portfolio) GetPosition(symbol string) *Position {
	for _, pos := range p.Positions {
		if pos.Symbol == symbol {
			return pos
		}
	}
	return nil
}

// AddPosition appends an open position.
func (p *Portfolio) AddPosition(pos *Position) {
	p.Positions = append(p.Positions, pos)
	p.UpdatedAt = time.Now().UTC()
}

// RemovePosition removes the position with the given ID. It reports whether a
// position was removed.
func (p *Portfolio) RemovePosition(positionID string) bool {
	for i, pos := range p.Positions {
		if pos.ID == positionID {
			p.Positions = append(p.Positions[:i], p.Positions[i+1:]...)
			p.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// UpdatePositionPrice updates the current price on every position in the
// symbol.
func (p *Portfolio) UpdatePositionPrice(symbol string, price float64) {
	updated := false
	for _, pos := range p.Positions {
		if pos.Symbol == symbol {
			pos.UpdatePrice(price)
			updated = true
		}
	}
	if updated {
		p.UpdatedAt = time.Now().UTC()
	}
}

// AddTrade appends a trade decision to the history.
func (p *Portfolio) AddTrade(trade *TradeDecision) {
	p.TradeHistory = append(p.TradeHistory, trade)
	p.UpdatedAt = time.Now().UTC()
}

// RecentTrades returns the last limit trades, newest last. A non-positive
// limit returns the full history.
func (p *Portfolio) RecentTrades(limit int) []*TradeDecision {
	if limit <= 0 || limit >= len(p.TradeHistory) {
		return p.TradeHistory
	}
	return p.TradeHistory[len(p.TradeHistory)-limit:]
}

// SymbolExposure returns the summed market value of all positions in a
// symbol.
func (p *Portfolio) SymbolExposure(symbol string) float64 {
	exposure := 0.0
	for _, pos := range p.Positions {
		if pos.Symbol == symbol {
			exposure += pos.MarketValue()
		}
	}
	return exposure
}

// CashAllocationPercent returns cash as a percentage of total value. Zero
// when the total value is not positive.
func (p *Portfolio) CashAllocationPercent() float64 {
	total := p.TotalValue()
	if total <= 0 {
		return 0
	}
	return p.Cash / total * 100
}

// TopPositions returns up to limit positions ordered by descending market
// value. The sort is stable, so ties keep insertion order.
func (p *Portfolio) TopPositions(limit int) []*Position {
	sorted := make([]*Position, len(p.Positions))
	copy(sorted, p.Positions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MarketValue() > sorted[j].MarketValue()
	})
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted
}
