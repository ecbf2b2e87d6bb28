// Package engine implements the rule-based decision engine: it turns market
// alerts and analysis results into trading signals and keeps the daily risk
// bookkeeping that gates new exposure.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"cryptoagent/internal/domain"
)

// limits are the per-risk-level guard rails applied before any buy signal is
// emitted.
type limits struct {
	// MaxPositionFraction caps a single new position at this fraction of the
	// portfolio's total value.
	MaxPositionFraction float64
	// MinConfidence rejects analysis insights below this confidence score.
	MinConfidence float64
	// DailyLossStop halts new buys once the day's realized loss exceeds this
	// fraction of the initial portfolio value.
	DailyLossStop float64
	// MaxDailyTrades halts new signals after this many recorded trades today.
	MaxDailyTrades int
}

var riskLimits = map[domain.RiskLevel]limits{
	domain.RiskConservative: {MaxPositionFraction: 0.10, MinConfidence: 0.75, DailyLossStop: 0.02, MaxDailyTrades: 5},
	domain.RiskModerate:     {MaxPositionFraction: 0.20, MinConfidence: 0.60, DailyLossStop: 0.05, MaxDailyTrades: 10},
	domain.RiskAggressive:   {MaxPositionFraction: 0.35, MinConfidence: 0.45, DailyLossStop: 0.10, MaxDailyTrades: 20},
}

// book tracks open exposure per symbol at average cost so realized P&L can be
// attributed to the day a sell executes.
type book struct {
	Quantity float64
	Cost     float64
}

// Engine is the rule-based domain.DecisionEngine. All methods are safe for
// concurrent use.
type Engine struct {
	logger *slog.Logger

	mu           sync.Mutex
	riskLevel    domain.RiskLevel
	initialValue float64

	day         time.Time
	dailyPnL    float64
	dailyTrades int
	books       map[string]*book
}

var _ domain.DecisionEngine = (*Engine)(nil)

// New creates an engine at the given risk level. initialValue anchors the
// daily-loss stop.
func New(riskLevel domain.RiskLevel, initialValue float64, logger *slog.Logger) (*Engine, error) {
	if !riskLevel.Valid() {
		return nil, fmt.Errorf("engine: new %q: %w", riskLevel, domain.ErrInvalidRiskLevel)
	}
	return &Engine{
		logger:       logger.With(slog.String("component", "decision_engine")),
		riskLevel:    riskLevel,
		initialValue: initialValue,
		day:          todayUTC(),
		books:        make(map[string]*book),
	}, nil
}

// UpdateRiskLevel switches the active risk level. Daily bookkeeping carries
// over unchanged.
func (e *Engine) UpdateRiskLevel(level domain.RiskLevel) error {
	if !level.Valid() {
		return fmt.Errorf("engine: update risk level %q: %w", level, domain.ErrInvalidRiskLevel)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("decision_engine: risk level changed",
		slog.String("from", string(e.riskLevel)),
		slog.String("to", string(level)),
	)
	e.riskLevel = level
	return nil
}

// EvaluateAlert maps a market alert to at most one trading signal. Price-drop
// alerts on a held symbol produce a defensive sell; drops on an unheld symbol
// produce a contrarian buy sized by the active risk limits. A nil signal with
// a nil error means no action.
func (e *Engine) EvaluateAlert(ctx context.Context, alert domain.MarketAlert, portfolio *domain.Portfolio) (*domain.TradingSignal, error) {
	if alert.Type != domain.AlertPriceChange {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()

	lim := riskLimits[e.riskLevel]
	change := alert.CurrentValue

	// Only downward moves are acted on; rallies are left to the analysis path.
	if change > -alert.ThresholdValue {
		return nil, nil
	}

	if pos := portfolio.GetPosition(alert.Symbol); pos != nil {
		e.logger.Info("decision_engine: defensive sell on price drop",
			slog.String("symbol", alert.Symbol),
			slog.Float64("change_pct", change),
		)
		return &domain.TradingSignal{
			Symbol:     alert.Symbol,
			Action:     domain.TradeActionSell,
			Quantity:   pos.Quantity,
			Reasoning:  fmt.Sprintf("Price dropped %.2f%%, closing position to limit losses", -change),
			Confidence: 0.8,
			Strength:   strengthForChange(change, alert.ThresholdValue),
			Source:     "alert_handler",
		}, nil
	}

	if !e.canOpenLocked(lim) {
		return nil, nil
	}

	price, err := strconv.ParseFloat(alert.Metadata["current_price"], 64)
	if err != nil || price <= 0 {
		e.logger.Debug("decision_engine: alert carries no usable price",
			slog.String("symbol", alert.Symbol),
		)
		return nil, nil
	}

	budget := lim.MaxPositionFraction * portfolio.TotalValue()
	if budget > portfolio.Cash {
		budget = portfolio.Cash
	}
	if budget <= 0 {
		return nil, nil
	}
	quantity := budget / price
	stopLoss := price * 0.95

	e.logger.Info("decision_engine: contrarian buy on price drop",
		slog.String("symbol", alert.Symbol),
		slog.Float64("change_pct", change),
		slog.Float64("quantity", quantity),
	)
	return &domain.TradingSignal{
		Symbol:     alert.Symbol,
		Action:     domain.TradeActionBuy,
		Quantity:   quantity,
		Price:      &price,
		StopLoss:   &stopLoss,
		Reasoning:  fmt.Sprintf("Price dropped %.2f%%, buying the dip", -change),
		Confidence: 0.6,
		Strength:   strengthForChange(change, alert.ThresholdValue),
		Source:     "alert_handler",
	}, nil
}

// EvaluateAnalysis converts analysis insights into zero or more signals.
// Bullish insights above the confidence floor become buys when market data
// carries a price; bearish insights on open exposure become sells.
func (e *Engine) EvaluateAnalysis(ctx context.Context, results domain.AnalysisResults) ([]domain.TradingSignal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()

	lim := riskLimits[e.riskLevel]
	var signals []domain.TradingSignal

	for _, insight := range results.Insights {
		if insight.Confidence < lim.MinConfidence {
			continue
		}

		switch insight.Sentiment {
		case "bullish":
			if !e.canOpenLocked(lim) {
				continue
			}
			price, ok := results.MarketData[insight.Symbol]
			if !ok || price <= 0 {
				e.logger.Debug("decision_engine: bullish insight without market price",
					slog.String("symbol", insight.Symbol),
				)
				continue
			}
			budget := lim.MaxPositionFraction * e.initialValue
			p := price
			stopLoss := price * 0.95
			signals = append(signals, domain.TradingSignal{
				Symbol:     insight.Symbol,
				Action:     domain.TradeActionBuy,
				Quantity:   budget / price,
				Price:      &p,
				StopLoss:   &stopLoss,
				Reasoning:  insight.Summary,
				Confidence: insight.Confidence,
				Strength:   strengthForConfidence(insight.Confidence),
				Source:     "analysis",
			})

		case "bearish":
			b := e.books[insight.Symbol]
			if b == nil || b.Quantity <= 0 {
				continue
			}
			var p *float64
			if price, ok := results.MarketData[insight.Symbol]; ok && price > 0 {
				p = &price
			}
			signals = append(signals, domain.TradingSignal{
				Symbol:     insight.Symbol,
				Action:     domain.TradeActionSell,
				Quantity:   b.Quantity,
				Price:      p,
				Reasoning:  insight.Summary,
				Confidence: insight.Confidence,
				Strength:   strengthForConfidence(insight.Confidence),
				Source:     "analysis",
			})
		}
	}

	e.logger.Info("decision_engine: analysis evaluated",
		slog.String("job_id", results.JobID),
		slog.Int("insights", len(results.Insights)),
		slog.Int("signals", len(signals)),
	)
	return signals, nil
}

// RecordTrade folds an executed trade into the day's risk bookkeeping. Buys
// extend the symbol's average-cost book; sells realize P&L against it.
func (e *Engine) RecordTrade(trade *domain.TradeDecision) {
	if trade == nil || trade.Status != domain.TradeStatusExecuted {
		return
	}

	price := trade.EffectivePrice()
	if price == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()

	e.dailyTrades++

	switch trade.Action {
	case domain.TradeActionBuy:
		b := e.books[trade.Symbol]
		if b == nil {
			b = &book{}
			e.books[trade.Symbol] = b
		}
		b.Quantity += trade.Quantity
		b.Cost += trade.Quantity * *price

	case domain.TradeActionSell:
		b := e.books[trade.Symbol]
		if b == nil || b.Quantity <= 0 {
			return
		}
		avg := b.Cost / b.Quantity
		matched := trade.Quantity
		if matched > b.Quantity {
			matched = b.Quantity
		}
		realized := matched * (*price - avg)
		e.dailyPnL += realized
		b.Quantity -= matched
		b.Cost -= matched * avg
		if b.Quantity <= 0 {
			delete(e.books, trade.Symbol)
		}
		e.logger.Info("decision_engine: realized P&L recorded",
			slog.String("symbol", trade.Symbol),
			slog.Float64("realized", realized),
			slog.Float64("daily_pnl", e.dailyPnL),
		)
	}
}

// RiskStatus reports the engine's current risk posture.
func (e *Engine) RiskStatus() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()

	lim := riskLimits[e.riskLevel]
	return map[string]any{
		"risk_level":            string(e.riskLevel),
		"daily_pnl":             e.dailyPnL,
		"daily_trades":          e.dailyTrades,
		"max_daily_trades":      lim.MaxDailyTrades,
		"daily_loss_stop":       -lim.DailyLossStop * e.initialValue,
		"trading_halted":        !e.canOpenLocked(lim),
		"open_symbols":          len(e.books),
		"max_position_fraction": lim.MaxPositionFraction,
	}
}

// canOpenLocked reports whether new exposure is currently allowed.
func (e *Engine) canOpenLocked(lim limits) bool {
	if e.dailyTrades >= lim.MaxDailyTrades {
		return false
	}
	return e.dailyPnL > -lim.DailyLossStop*e.initialValue
}

// rollDayLocked resets daily counters when the UTC date changes. The
// average-cost books carry across days.
func (e *Engine) rollDayLocked() {
	today := todayUTC()
	if today.Equal(e.day) {
		return
	}
	e.day = today
	e.dailyPnL = 0
	e.dailyTrades = 0
}

func todayUTC() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

func strengthForChange(change, threshold float64) domain.SignalStrength {
	switch {
	case -change >= 2*threshold:
		return domain.SignalStrengthStrong
	case -change >= 1.5*threshold:
		return domain.SignalStrengthModerate
	default:
		return domain.SignalStrengthWeak
	}
}

func strengthForConfidence(confidence float64) domain.SignalStrength {
	switch {
	case confidence >= 0.85:
		return domain.SignalStrengthStrong
	case confidence >= 0.65:
		return domain.SignalStrengthModerate
	default:
		return domain.SignalStrengthWeak
	}
}
