package domain

import "time"

// Position is an open holding in a single symbol. Only buy-side positions are
// tracked as holdings; sells reduce or remove them. Short positions are not
// modeled.
type Position struct {
	ID           string
	Symbol       string
	Action       TradeAction
	Quantity     float64
	EntryPrice   float64
	CurrentPrice *float64
	StopLoss     *float64
	TakeProfit   *float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPosition creates a buy-side position with creation timestamps set.
func NewPosition(id, symbol string, action TradeAction, quantity, entryPrice float64) *Position {
	now := time.Now().UTC()
	return &Position{
		ID:         id,
		Symbol:     symbol,
		Action:     action,
		Quantity:   quantity,
		EntryPrice: entryPrice,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// MarkPrice returns the price used for valuation: the current price when
// known, otherwise the entry price.
func (p *Position) MarkPrice() float64 {
	if p.CurrentPrice != nil {
		return *p.CurrentPrice
	}
	return p.EntryPrice
}

// MarketValue returns the position's value at the mark price.
func (p *Position) MarketValue() float64 {
	return p.Quantity * p.MarkPrice()
}

// UnrealizedPnL returns the paper profit or loss for buy-side positions.
// Non-buy positions always report zero.
func (p *Position) UnrealizedPnL() float64 {
	if p.Action != TradeActionBuy {
		return 0
	}
	return p.Quantity*p.MarkPrice() - p.Quantity*p.EntryPrice
}

// UnrealizedPnLPercent returns the unrealized P&L relative to the entry
// price. Zero for non-buy positions or a non-positive entry price.
func (p *Position) UnrealizedPnLPercent() float64 {
	if p.Action != TradeActionBuy || p.EntryPrice <= 0 {
		return 0
	}
	return (p.MarkPrice() - p.EntryPrice) / p.EntryPrice * 100
}

// UpdatePrice sets the current price and bumps the update timestamp.
func (p *Position) UpdatePrice(price float64) {
	p.CurrentPrice = &price
	p.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	cp := *p
	if p.CurrentPrice != nil {
		v := *p.CurrentPrice
		cp.CurrentPrice = &v
	}
	if p.StopLoss != nil {
		v := *p.StopLoss
		cp.StopLoss = &v
	}
	if p.TakeProfit != nil {
		v := *p.TakeProfit
		cp.TakeProfit = &v
	}
	return &cp
}
