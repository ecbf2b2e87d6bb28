package domain

// SignalStrength grades how strong a trading signal is.
type SignalStrength string

const (
	SignalStrengthWeak     SignalStrength = "weak"
	SignalStrengthModerate SignalStrength = "moderate"
	SignalStrengthStrong   SignalStrength = "strong"
)

// RiskLevel selects the decision engine's risk appetite.
type RiskLevel string

const (
	RiskConservative RiskLevel = "conservative"
	RiskModerate     RiskLevel = "moderate"
	RiskAggressive   RiskLevel = "aggressive"
)

// Valid reports whether the risk level is one of the known levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskConservative, RiskModerate, RiskAggressive:
		return true
	}
	return false
}

// TradingSignal is the single signal shape shared by every producer: the
// alert handler, the analysis handler, the rebalance/stop-loss check, and
// manual trades. The orchestrator turns signals into trade decisions.
type TradingSignal struct {
	Symbol     string
	Action     TradeAction
	Quantity   float64
	Price      *float64
	StopLoss   *float64
	TakeProfit *float64
	Reasoning  string
	Confidence float64
	Strength   SignalStrength
	Source     string
}
