// Package state owns the mutable agent state: the portfolio ledger, agent
// configuration, and performance metrics. All trade applications go through
// AgentState.ApplyTradeDecision, which is the sole writer of portfolio state.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cryptoagent/internal/domain"
)

// AgentState wraps one agent's portfolio with configuration, metrics, and a
// persistence collaborator.
//
// Every mutation of the portfolio runs under a single per-agent mutex that
// spans the full validate-mutate-persist sequence. The monitor's polling
// goroutines, scheduled tasks, and manual trades all converge here; without
// the lock two concurrent applications could both observe a stale cash
// balance across the persistence call and jointly overspend.
type AgentState struct {
	agentID        string
	initialBalance float64

	mu        sync.Mutex
	portfolio *domain.Portfolio
	config    domain.AgentConfig
	metrics   domain.AgentMetrics

	storage domain.AgentStateStore
	logger  *slog.Logger
}

// New creates an AgentState with a fresh portfolio holding the initial
// balance as cash. The storage collaborator may be nil, in which case load
// and save are skipped with a warning.
func New(agentID string, initialBalance float64, storage domain.AgentStateStore, logger *slog.Logger) *AgentState {
	return &AgentState{
		agentID:        agentID,
		initialBalance: initialBalance,
		portfolio:      domain.NewPortfolio(agentID+"_portfolio", initialBalance),
		config:         domain.DefaultAgentConfig(),
		metrics: domain.AgentMetrics{
			StartTime: time.Now().UTC(),
			PeakValue: initialBalance,
		},
		storage: storage,
		logger:  logger.With(slog.String("component", "agent_state"), slog.String("agent_id", agentID)),
	}
}

// AgentID returns the owning agent's identifier.
func (s *AgentState) AgentID() string { return s.agentID }

// Config returns a copy of the current agent configuration.
func (s *AgentState) Config() domain.AgentConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.config
	cfg.MonitorSymbols = append([]string(nil), s.config.MonitorSymbols...)
	return cfg
}

// UpdateConfig merges the given mutation into the configuration under lock.
func (s *AgentState) UpdateConfig(apply func(*domain.AgentConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(&s.config)
	s.logger.Info("agent_state: config updated",
		slog.String("risk_level", string(s.config.RiskLevel)),
		slog.Any("monitor_symbols", s.config.MonitorSymbols),
		slog.Float64("price_alert_threshold", s.config.PriceAlertThreshold),
	)
}

// ApplyTradeDecision applies a trade to the portfolio. It is the single
// mutation entry point and runs as an atomic critical section: validation,
// ledger mutation, and persistence all happen under the per-agent lock, which
// is released on every exit path.
//
// Business-rule rejections mark the trade failed and return a sentinel error
// (domain.ErrInsufficientCash, domain.ErrNoPosition, domain.ErrInvalidAction)
// without mutating the ledger. A persistence failure after a successful
// mutation is logged and does not roll back the in-memory state.
func (s *AgentState) ApplyTradeDecision(ctx context.Context, trade *domain.TradeDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch trade.Action {
	case domain.TradeActionBuy:
		if err := s.applyBuyLocked(trade); err != nil {
			return err
		}
	case domain.TradeActionSell:
		if err := s.applySellLocked(trade); err != nil {
			return err
		}
	case domain.TradeActionHold:
		// No ledger mutation, but a hold is still a successful application
		// and persists like the other paths.
	default:
		trade.MarkFailed(fmt.Sprintf("unknown action %q", trade.Action))
		return fmt.Errorf("agent_state: apply trade %q: %w", trade.ID, domain.ErrInvalidAction)
	}

	s.saveLocked(ctx)
	return nil
}

func (s *AgentState) applyBuyLocked(trade *domain.TradeDecision) error {
	required := trade.TotalValue()
	if required > s.portfolio.Cash {
		s.logger.Warn("agent_state: insufficient cash for buy",
			slog.String("trade_id", trade.ID),
			slog.String("symbol", trade.Symbol),
			slog.Float64("required", required),
			slog.Float64("cash", s.portfolio.Cash),
		)
		trade.MarkFailed("Insufficient cash")
		return fmt.Errorf("agent_state: apply trade %q: %w", trade.ID, domain.ErrInsufficientCash)
	}

	entryPrice := 0.0
	if p := trade.EffectivePrice(); p != nil {
		entryPrice = *p
	}

	// A repeat buy on an already-held symbol appends a second position
	// record; same-symbol positions are never merged.
	pos := domain.NewPosition("pos_"+trade.ID, trade.Symbol, domain.TradeActionBuy, trade.Quantity, entryPrice)
	pos.StopLoss = parseOptionalPrice(trade.Metadata["stop_loss"])
	pos.TakeProfit = parseOptionalPrice(trade.Metadata["take_profit"])

	s.portfolio.Cash -= required
	s.portfolio.AddPosition(pos)
	s.portfolio.AddTrade(trade)

	s.logger.Info("agent_state: buy applied",
		slog.String("trade_id", trade.ID),
		slog.String("symbol", trade.Symbol),
		slog.Float64("quantity", trade.Quantity),
		slog.Float64("entry_price", entryPrice),
		slog.Float64("cash", s.portfolio.Cash),
	)
	return nil
}

func (s *AgentState) applySellLocked(trade *domain.TradeDecision) error {
	pos := s.portfolio.GetPosition(trade.Symbol)
	if pos == nil {
		s.logger.Warn("agent_state: no position for sell",
			slog.String("trade_id", trade.ID),
			slog.String("symbol", trade.Symbol),
		)
		trade.MarkFailed("No position to sell")
		return fmt.Errorf("agent_state: apply trade %q: %w", trade.ID, domain.ErrNoPosition)
	}

	salePrice := 0.0
	if p := trade.EffectivePrice(); p != nil {
		salePrice = *p
	}

	// Proceeds are credited even when fees exceed the notional.
	proceeds := trade.Quantity*salePrice - trade.Fees
	s.portfolio.Cash += proceeds
	s.portfolio.AddTrade(trade)

	if trade.Quantity >= pos.Quantity {
		s.portfolio.RemovePosition(pos.ID)
	} else {
		pos.Quantity -= trade.Quantity
	}

	s.logger.Info("agent_state: sell applied",
		slog.String("trade_id", trade.ID),
		slog.String("symbol", trade.Symbol),
		slog.Float64("quantity", trade.Quantity),
		slog.Float64("proceeds", proceeds),
		slog.Float64("cash", s.portfolio.Cash),
	)
	return nil
}

// WithPortfolio runs fn with the portfolio under the state lock. The
// portfolio must not escape fn; callers needing a stable view should copy
// what they read.
func (s *AgentState) WithPortfolio(fn func(p *domain.Portfolio)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.portfolio)
}

// ExecutedTradesBefore returns clones of the executed trades from the history
// whose execution time is strictly before cutoff. The archiver uses this to
// ship aged trades to object storage.
func (s *AgentState) ExecutedTradesBefore(cutoff time.Time) []*domain.TradeDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.TradeDecision
	for _, trade := range s.portfolio.TradeHistory {
		if trade.Status != domain.TradeStatusExecuted || trade.ExecutedAt == nil {
			continue
		}
		if trade.ExecutedAt.Before(cutoff) {
			out = append(out, trade.Clone())
		}
	}
	return out
}

// UpdatePositionPrice updates the mark price for all positions in a symbol.
func (s *AgentState) UpdatePositionPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolio.UpdatePositionPrice(symbol, price)
}

// UpdateMetrics recomputes the performance metrics from the portfolio.
func (s *AgentState) UpdateMetrics() domain.AgentMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateMetricsLocked()
	return s.metrics
}

func (s *AgentState) updateMetricsLocked() {
	current := s.portfolio.TotalValue()

	if current > s.metrics.PeakValue {
		s.metrics.PeakValue = current
	}
	if s.metrics.PeakValue > 0 {
		drawdown := (s.metrics.PeakValue - current) / s.metrics.PeakValue * 100
		if drawdown > s.metrics.MaxDrawdown {
			s.metrics.MaxDrawdown = drawdown
		}
	}

	var executed []*domain.TradeDecision
	for _, t := range s.portfolio.TradeHistory {
		if t.Status == domain.TradeStatusExecuted {
			executed = append(executed, t)
		}
	}
	s.metrics.TotalTrades = len(executed)

	// Best/worst trade pairs each sell with the first earlier buy on the
	// same symbol. This is a deliberately simpler heuristic than the FIFO
	// matching in Portfolio.TotalPnL and the two can disagree.
	var pnls []float64
	for _, sell := range executed {
		if sell.Action != domain.TradeActionSell || sell.ExecutionPrice == nil || sell.ExecutedAt == nil {
			continue
		}
		for _, buy := range executed {
			if buy.Symbol == sell.Symbol &&
				buy.Action == domain.TradeActionBuy &&
				buy.ExecutionPrice != nil &&
				buy.ExecutedAt != nil &&
				buy.ExecutedAt.Before(*sell.ExecutedAt) {
				pnls = append(pnls, (*sell.ExecutionPrice-*buy.ExecutionPrice)*sell.Quantity)
				break
			}
		}
	}
	if len(pnls) > 0 {
		best, worst := pnls[0], pnls[0]
		winning, losing := 0, 0
		for _, pnl := range pnls {
			if pnl > best {
				best = pnl
			}
			if pnl < worst {
				worst = pnl
			}
			if pnl > 0 {
				winning++
			} else if pnl < 0 {
				losing++
			}
		}
		s.metrics.BestTrade = best
		s.metrics.WorstTrade = worst
		s.metrics.WinningTrades = winning
		s.metrics.LosingTrades = losing
	}
}

// Status returns a point-in-time snapshot of the agent: portfolio summary,
// configuration, metrics, and derived performance numbers.
func (s *AgentState) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateMetricsLocked()

	totalTrades := s.metrics.TotalTrades
	if totalTrades < 1 {
		totalTrades = 1
	}
	totalReturn := 0.0
	if s.initialBalance > 0 {
		totalReturn = (s.portfolio.TotalValue() - s.initialBalance) / s.initialBalance * 100
	}

	return map[string]any{
		"agent_id": s.agentID,
		"portfolio": map[string]any{
			"total_value":             s.portfolio.TotalValue(),
			"cash":                    s.portfolio.Cash,
			"positions_count":         len(s.portfolio.Positions),
			"total_pnl":               s.portfolio.TotalPnL(),
			"total_pnl_percent":       s.portfolio.TotalPnLPercent(),
			"cash_allocation_percent": s.portfolio.CashAllocationPercent(),
		},
		"config": map[string]any{
			"risk_level":            string(s.config.RiskLevel),
			"max_positions":         s.config.MaxPositions,
			"rebalance_interval":    s.config.RebalanceInterval.Seconds(),
			"monitor_symbols":       append([]string(nil), s.config.MonitorSymbols...),
			"price_alert_threshold": s.config.PriceAlertThreshold,
		},
		"metrics": map[string]any{
			"start_time":     s.metrics.StartTime.Format(time.RFC3339),
			"total_trades":   s.metrics.TotalTrades,
			"winning_trades": s.metrics.WinningTrades,
			"losing_trades":  s.metrics.LosingTrades,
			"best_trade":     s.metrics.BestTrade,
			"worst_trade":    s.metrics.WorstTrade,
			"max_drawdown":   s.metrics.MaxDrawdown,
			"peak_value":     s.metrics.PeakValue,
		},
		"performance": map[string]any{
			"win_rate":         float64(s.metrics.WinningTrades) / float64(totalTrades) * 100,
			"total_return":     totalReturn,
			"current_drawdown": s.metrics.MaxDrawdown,
		},
		"last_updated": time.Now().UTC().Format(time.RFC3339),
	}
}

// LoadFromStore restores a previously saved snapshot, replacing the current
// portfolio, config, and metrics. A missing snapshot or nil storage is not an
// error; the fresh state stands.
func (s *AgentState) LoadFromStore(ctx context.Context) (bool, error) {
	if s.storage == nil {
		s.logger.Warn("agent_state: no storage configured, skipping load")
		return false, nil
	}

	snap, err := s.storage.Load(ctx, s.agentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info("agent_state: no persisted snapshot, starting fresh")
			return false, nil
		}
		return false, fmt.Errorf("agent_state: load %q: %w", s.agentID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialBalance = snap.InitialBalance
	s.portfolio = snap.Portfolio
	s.config = snap.Config
	s.metrics = snap.Metrics
	s.logger.Info("agent_state: snapshot restored",
		slog.Time("saved_at", snap.SavedAt),
		slog.Float64("total_value", s.portfolio.TotalValue()),
	)
	return true, nil
}

// SaveToStore persists the current snapshot.
func (s *AgentState) SaveToStore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doSaveLocked(ctx)
}

// saveLocked persists after a mutation, demoting failures to a warning so a
// storage outage never rejects an already-applied trade.
func (s *AgentState) saveLocked(ctx context.Context) {
	if err := s.doSaveLocked(ctx); err != nil {
		s.logger.Warn("agent_state: persist after trade failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *AgentState) doSaveLocked(ctx context.Context) error {
	if s.storage == nil {
		s.logger.Warn("agent_state: no storage configured, skipping save")
		return nil
	}

	snap := &domain.AgentSnapshot{
		AgentID:        s.agentID,
		InitialBalance: s.initialBalance,
		Portfolio:      s.portfolio,
		Config:         s.config,
		Metrics:        s.metrics,
		SavedAt:        time.Now().UTC(),
	}
	if err := s.storage.Save(ctx, snap); err != nil {
		return fmt.Errorf("agent_state: save %q: %w", s.agentID, err)
	}
	return nil
}

func parseOptionalPrice(raw string) *float64 {
	if raw == "" {
		return nil
	}
	var v float64
	if _, err := fmt.Sscanf(raw, "%g", &v); err != nil {
		return nil
	}
	return &v
}
