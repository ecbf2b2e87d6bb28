package domain

import "time"

// TradeAction is the direction of a trade decision.
type TradeAction string

const (
	TradeActionBuy  TradeAction = "buy"
	TradeActionSell TradeAction = "sell"
	TradeActionHold TradeAction = "hold"
)

// Valid reports whether the action is one of the known trade actions.
func (a TradeAction) Valid() bool {
	switch a {
	case TradeActionBuy, TradeActionSell, TradeActionHold:
		return true
	}
	return false
}

// TradeStatus is the lifecycle state of a trade decision. Executed, failed,
// and cancelled are terminal. Cancelled is a reserved value: no code path
// currently transitions a trade into it.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusExecuted  TradeStatus = "executed"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// TradeDecision is an intended or executed trade against the portfolio.
type TradeDecision struct {
	ID             string
	Symbol         string
	Action         TradeAction
	Quantity       float64
	Price          *float64
	Status         TradeStatus
	Reason         string
	Metadata       map[string]string
	CreatedAt      time.Time
	ExecutedAt     *time.Time
	ExecutionPrice *float64
	Fees           float64
}

// NewTradeDecision creates a pending trade decision stamped with the current
// time.
func NewTradeDecision(id, symbol string, action TradeAction, quantity float64, price *float64) *TradeDecision {
	return &TradeDecision{
		ID:        id,
		Symbol:    symbol,
		Action:    action,
		Quantity:  quantity,
		Price:     price,
		Status:    TradeStatusPending,
		Metadata:  map[string]string{},
		CreatedAt: time.Now().UTC(),
	}
}

// TotalValue returns the notional value of the trade including fees. It is
// zero when no price is known or the quantity is zero.
func (t *TradeDecision) TotalValue() float64 {
	if t.Price == nil || t.Quantity == 0 {
		return 0
	}
	return *t.Price*t.Quantity + t.Fees
}

// EffectivePrice returns the execution price when the trade has been filled,
// falling back to the requested price. Nil when neither is set.
func (t *TradeDecision) EffectivePrice() *float64 {
	if t.ExecutionPrice != nil {
		return t.ExecutionPrice
	}
	return t.Price
}

// MarkExecuted transitions the trade to executed, recording the fill price,
// fees, and execution time. Calling it again overwrites the previous fill;
// callers guard against double execution.
func (t *TradeDecision) MarkExecuted(executionPrice, fees float64) {
	now := time.Now().UTC()
	t.Status = TradeStatusExecuted
	t.ExecutionPrice = &executionPrice
	t.Fees = fees
	t.ExecutedAt = &now
}

// MarkFailed transitions the trade to failed. A non-empty reason replaces the
// existing one.
func (t *TradeDecision) MarkFailed(reason string) {
	t.Status = TradeStatusFailed
	if reason != "" {
		t.Reason = reason
	}
}

// Clone returns a deep copy of the trade decision.
func (t *TradeDecision) Clone() *TradeDecision {
	cp := *t
	if t.Price != nil {
		p := *t.Price
		cp.Price = &p
	}
	if t.ExecutionPrice != nil {
		p := *t.ExecutionPrice
		cp.ExecutionPrice = &p
	}
	if t.ExecutedAt != nil {
		ts := *t.ExecutedAt
		cp.ExecutedAt = &ts
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
