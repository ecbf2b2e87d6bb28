// Package agent wires the scheduler, market monitor, decision engine, and
// agent state into one autonomous trading loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cryptoagent/internal/domain"
	"cryptoagent/internal/monitor"
	"cryptoagent/internal/notify"
	"cryptoagent/internal/scheduler"
	"cryptoagent/internal/state"
)

const (
	analysisJobID  = "market_analysis"
	rebalanceJobID = "portfolio_rebalancing"
	healthJobID    = "health_check"

	analysisInterval    = 5 * time.Minute
	healthCheckInterval = time.Minute
	supervisoryTick     = 30 * time.Second

	// Analysis jobs are polled every analysisPollInterval until
	// analysisPollCeiling; a job still running after the ceiling is abandoned
	// until the next scheduled firing.
	analysisPollInterval = 5 * time.Second
	analysisPollCeiling  = 5 * time.Minute

	analysisGoal = "Comprehensive cryptocurrency market analysis - identify trading opportunities, market trends, and risk factors"
)

// Deps are the orchestrator's collaborators. State, Monitor, Scheduler,
// Engine, and Logger are required; the rest degrade to no-ops when nil.
type Deps struct {
	State     *state.AgentState
	Monitor   *monitor.MarketMonitor
	Scheduler *scheduler.Scheduler
	Engine    domain.DecisionEngine
	Analysis  domain.AnalysisService
	Bus       domain.SignalBus
	Notifier  *notify.Notifier
	Audit     domain.AuditStore
	Logger    *slog.Logger
}

// Orchestrator runs the autonomous agent: it owns the component lifecycles
// and the signal execution path every trade goes through.
type Orchestrator struct {
	deps        Deps
	logger      *slog.Logger
	startupTime time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates an orchestrator over the given collaborators.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:        deps,
		logger:      deps.Logger.With(slog.String("component", "agent")),
		startupTime: time.Now().UTC(),
	}
}

// Run starts the agent and blocks until ctx is cancelled or a component
// fails fatally. A second concurrent Run returns ErrAgentRunning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("agent: run: %w", domain.ErrAgentRunning)
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	agentID := o.deps.State.AgentID()
	o.logger.Info("agent: starting", slog.String("agent_id", agentID))

	restored, err := o.deps.State.LoadFromStore(runCtx)
	if err != nil {
		return fmt.Errorf("agent: run: %w", err)
	}
	if restored {
		o.logger.Info("agent: state restored from store", slog.String("agent_id", agentID))
	}

	o.configureMonitoring()
	// The registration must be undone on shutdown: the monitor's callback
	// list outlives a run, and a leaked handler would evaluate every alert
	// once per restart.
	alertCallback := o.deps.Monitor.AddCallback(o.onMarketAlert)
	defer o.deps.Monitor.RemoveCallback(alertCallback)

	o.deps.Scheduler.Start()
	o.deps.Scheduler.ScheduleInterval(o.runMarketAnalysis, analysisInterval, analysisJobID)
	o.deps.Scheduler.ScheduleInterval(o.runRebalance, o.deps.State.Config().RebalanceInterval, rebalanceJobID)
	o.deps.Scheduler.ScheduleInterval(o.runHealthCheck, healthCheckInterval, healthJobID)

	o.emit(runCtx, "agent_started", "Agent started", map[string]any{"agent_id": agentID})

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return o.deps.Monitor.Run(gctx)
	})
	g.Go(func() error {
		// Supervisory loop; cancellation lands here.
		ticker := time.NewTicker(supervisoryTick)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}
		}
	})

	runErr := g.Wait()

	// Shutdown must not inherit the already-cancelled context.
	o.shutdown(context.WithoutCancel(ctx))

	if runErr != nil && runCtx.Err() == nil {
		o.logger.Error("agent: fatal component failure",
			slog.String("error", runErr.Error()),
		)
		return fmt.Errorf("agent: run: %w", runErr)
	}
	return nil
}

// Stop requests the running agent to shut down. It is a no-op when the agent
// is not running.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// IsRunning reports whether Run is currently active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) shutdown(ctx context.Context) {
	o.logger.Info("agent: shutting down")

	o.deps.Monitor.Stop()

	shCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := o.deps.Scheduler.Shutdown(shCtx); err != nil {
		o.logger.Warn("agent: scheduler shutdown incomplete",
			slog.String("error", err.Error()),
		)
	}

	if err := o.deps.State.SaveToStore(shCtx); err != nil {
		o.logger.Error("agent: final state save failed",
			slog.String("error", err.Error()),
		)
	}

	o.emit(shCtx, "agent_stopped", "Agent stopped", map[string]any{
		"agent_id": o.deps.State.AgentID(),
	})
	o.logger.Info("agent: shutdown complete")
}

// configureMonitoring points the monitor at the configured symbols with the
// configured percentage thresholds.
func (o *Orchestrator) configureMonitoring() {
	cfg := o.deps.State.Config()
	for _, symbol := range cfg.MonitorSymbols {
		o.deps.Monitor.AddSymbol(symbol)
		o.deps.Monitor.SetPercentageThreshold(symbol, cfg.PriceAlertThreshold)
	}
	o.logger.Info("agent: monitoring configured",
		slog.Int("symbols", len(cfg.MonitorSymbols)),
		slog.Float64("pct_threshold", cfg.PriceAlertThreshold),
	)
}

// onMarketAlert is the monitor callback: it asks the decision engine for a
// signal and executes it. Errors are contained here so the monitor's delivery
// loop never sees them.
func (o *Orchestrator) onMarketAlert(ctx context.Context, alert domain.MarketAlert) error {
	o.logger.Info("agent: market alert",
		slog.String("symbol", alert.Symbol),
		slog.String("type", string(alert.Type)),
		slog.Float64("value", alert.CurrentValue),
	)
	o.emit(ctx, "market_alert",
		fmt.Sprintf("Market alert: %s %s", alert.Type, alert.Symbol),
		map[string]any{
			"symbol":    alert.Symbol,
			"type":      string(alert.Type),
			"value":     alert.CurrentValue,
			"threshold": alert.ThresholdValue,
		})

	var (
		signal *domain.TradingSignal
		err    error
	)
	o.deps.State.WithPortfolio(func(p *domain.Portfolio) {
		signal, err = o.deps.Engine.EvaluateAlert(ctx, alert, p)
	})
	if err != nil {
		o.logger.Error("agent: alert evaluation failed",
			slog.String("symbol", alert.Symbol),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if signal == nil {
		o.logger.Debug("agent: no action for alert", slog.String("symbol", alert.Symbol))
		return nil
	}

	if err := o.ExecuteSignal(ctx, *signal); err != nil {
		o.logger.Warn("agent: alert signal not executed",
			slog.String("symbol", signal.Symbol),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// runMarketAnalysis starts an analysis job and polls it to completion, then
// feeds the results through the decision engine.
func (o *Orchestrator) runMarketAnalysis(ctx context.Context) error {
	if o.deps.Analysis == nil {
		o.logger.Debug("agent: no analysis service configured, skipping cycle")
		return nil
	}

	jobID, err := o.deps.Analysis.StartAnalysis(ctx, analysisGoal, map[string]string{
		"agent_id": o.deps.State.AgentID(),
		"trigger":  "scheduled_analysis",
	})
	if err != nil {
		return fmt.Errorf("agent: start analysis: %w", err)
	}
	o.logger.Info("agent: market analysis started", slog.String("job_id", jobID))

	job, err := o.awaitAnalysis(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.AnalysisCompleted || job.Results == nil {
		o.logger.Warn("agent: market analysis did not complete",
			slog.String("job_id", jobID),
			slog.String("status", string(job.Status)),
			slog.String("job_error", job.Error),
		)
		return nil
	}

	signals, err := o.deps.Engine.EvaluateAnalysis(ctx, *job.Results)
	if err != nil {
		return fmt.Errorf("agent: evaluate analysis %q: %w", jobID, err)
	}

	for i := range signals {
		if err := o.ExecuteSignal(ctx, signals[i]); err != nil {
			o.logger.Warn("agent: analysis signal not executed",
				slog.String("symbol", signals[i].Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	o.logger.Info("agent: market analysis processed",
		slog.String("job_id", jobID),
		slog.Int("signals", len(signals)),
	)
	return nil
}

// awaitAnalysis polls the job until it is terminal or the ceiling elapses.
// Hitting the ceiling is not an error; the next scheduled firing retries.
func (o *Orchestrator) awaitAnalysis(ctx context.Context, jobID string) (domain.AnalysisJob, error) {
	deadline := time.Now().Add(analysisPollCeiling)
	ticker := time.NewTicker(analysisPollInterval)
	defer ticker.Stop()

	for {
		job, err := o.deps.Analysis.GetJob(ctx, jobID)
		if err != nil {
			return domain.AnalysisJob{}, fmt.Errorf("agent: poll analysis %q: %w", jobID, err)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if time.Now().After(deadline) {
			o.logger.Warn("agent: market analysis timed out",
				slog.String("job_id", jobID),
			)
			return domain.AnalysisJob{}, fmt.Errorf("agent: analysis %q: %w", jobID, domain.ErrAnalysisTimeout)
		}

		select {
		case <-ctx.Done():
			return domain.AnalysisJob{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runRebalance refreshes position marks from the price sources and closes any
// position whose stop loss is breached.
func (o *Orchestrator) runRebalance(ctx context.Context) error {
	o.logger.Info("agent: running portfolio rebalancing")

	type stopHit struct {
		symbol   string
		quantity float64
		stop     float64
		price    float64
	}

	var symbols []string
	o.deps.State.WithPortfolio(func(p *domain.Portfolio) {
		for _, pos := range p.Positions {
			symbols = append(symbols, pos.Symbol)
		}
	})

	for _, symbol := range symbols {
		price, err := o.deps.Monitor.GetCurrentPrice(ctx, symbol)
		if err != nil {
			o.logger.Warn("agent: rebalance price refresh failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		o.deps.State.UpdatePositionPrice(symbol, price)
	}

	var hits []stopHit
	o.deps.State.WithPortfolio(func(p *domain.Portfolio) {
		for _, pos := range p.Positions {
			if pos.StopLoss == nil || pos.CurrentPrice == nil {
				continue
			}
			if *pos.CurrentPrice <= *pos.StopLoss {
				hits = append(hits, stopHit{
					symbol:   pos.Symbol,
					quantity: pos.Quantity,
					stop:     *pos.StopLoss,
					price:    *pos.CurrentPrice,
				})
			}
		}
	})

	for _, hit := range hits {
		price := hit.price
		signal := domain.TradingSignal{
			Symbol:     hit.symbol,
			Action:     domain.TradeActionSell,
			Quantity:   hit.quantity,
			Price:      &price,
			Reasoning:  fmt.Sprintf("Stop loss triggered at $%g", hit.stop),
			Confidence: 1.0,
			Strength:   domain.SignalStrengthStrong,
			Source:     "rebalance",
		}
		if err := o.ExecuteSignal(ctx, signal); err != nil {
			o.logger.Warn("agent: stop-loss sell not executed",
				slog.String("symbol", hit.symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	o.deps.State.UpdateMetrics()
	o.logger.Info("agent: rebalancing completed", slog.Int("stop_loss_sells", len(hits)))
	return nil
}

// runHealthCheck logs a condensed view of every component's status.
func (o *Orchestrator) runHealthCheck(ctx context.Context) error {
	monitorStatus := o.deps.Monitor.Status()
	riskStatus := o.deps.Engine.RiskStatus()
	agentStatus := o.deps.State.Status()

	o.logger.Debug("agent: health check",
		slog.Int("scheduler_tasks", len(o.deps.Scheduler.ListTasks())),
		slog.Any("monitor_running", monitorStatus["running"]),
		slog.Any("risk_level", riskStatus["risk_level"]),
		slog.Any("daily_pnl", riskStatus["daily_pnl"]),
		slog.Any("portfolio", agentStatus["portfolio"]),
	)
	return nil
}

// ExecuteSignal is the single convergence point for trades: alert, analysis,
// rebalance, and manual paths all build a decision here and apply it to the
// ledger.
func (o *Orchestrator) ExecuteSignal(ctx context.Context, signal domain.TradingSignal) error {
	trade := domain.NewTradeDecision(
		tradeID(signal.Source), signal.Symbol, signal.Action, signal.Quantity, signal.Price,
	)
	trade.Reason = signal.Reasoning
	trade.Metadata["source"] = signal.Source
	trade.Metadata["confidence_score"] = strconv.FormatFloat(signal.Confidence, 'g', -1, 64)
	if signal.Strength != "" {
		trade.Metadata["signal_strength"] = string(signal.Strength)
	}
	if signal.StopLoss != nil {
		trade.Metadata["stop_loss"] = strconv.FormatFloat(*signal.StopLoss, 'g', -1, 64)
	}
	if signal.TakeProfit != nil {
		trade.Metadata["take_profit"] = strconv.FormatFloat(*signal.TakeProfit, 'g', -1, 64)
	}
	if signal.Price != nil {
		trade.MarkExecuted(*signal.Price, 0)
	}

	o.logger.Info("agent: executing trading signal",
		slog.String("trade_id", trade.ID),
		slog.String("symbol", trade.Symbol),
		slog.String("action", string(trade.Action)),
		slog.Float64("quantity", trade.Quantity),
		slog.String("source", signal.Source),
	)

	if err := o.deps.State.ApplyTradeDecision(ctx, trade); err != nil {
		o.emit(ctx, "trade_failed",
			fmt.Sprintf("Trade failed: %s %s", trade.Action, trade.Symbol),
			map[string]any{
				"trade_id": trade.ID,
				"symbol":   trade.Symbol,
				"action":   string(trade.Action),
				"reason":   trade.Reason,
			})
		return err
	}

	o.deps.Engine.RecordTrade(trade)
	o.emit(ctx, "trade_executed",
		fmt.Sprintf("Trade executed: %s %s", trade.Action, trade.Symbol),
		map[string]any{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
			"action":   string(trade.Action),
			"quantity": trade.Quantity,
			"source":   signal.Source,
		})
	return nil
}

// ForceTrade executes a manual trade outside the decision engine. Only buy
// and sell are accepted.
func (o *Orchestrator) ForceTrade(ctx context.Context, symbol string, action domain.TradeAction, quantity float64, price *float64) error {
	if action != domain.TradeActionBuy && action != domain.TradeActionSell {
		return fmt.Errorf("agent: force trade %q: %w", action, domain.ErrInvalidAction)
	}

	o.logger.Info("agent: force trade",
		slog.String("symbol", symbol),
		slog.String("action", string(action)),
		slog.Float64("quantity", quantity),
	)
	return o.ExecuteSignal(ctx, domain.TradingSignal{
		Symbol:     symbol,
		Action:     action,
		Quantity:   quantity,
		Price:      price,
		Reasoning:  "Manual intervention",
		Confidence: 1.0,
		Source:     "manual_intervention",
	})
}

// StatusSnapshot aggregates every component's status. Individual component
// failures are captured as strings, never propagated.
func (o *Orchestrator) StatusSnapshot() map[string]any {
	status := map[string]any{
		"agent_id":       o.deps.State.AgentID(),
		"running":        o.IsRunning(),
		"startup_time":   o.startupTime.Format(time.RFC3339),
		"uptime_seconds": time.Since(o.startupTime).Seconds(),
	}

	status["scheduler"] = map[string]any{
		"running": o.deps.Scheduler.IsRunning(),
		"tasks":   o.deps.Scheduler.ListTasks(),
	}
	status["market_monitor"] = o.deps.Monitor.Status()
	status["decision_engine"] = o.deps.Engine.RiskStatus()
	status["agent_state"] = o.deps.State.Status()
	return status
}

// emit fans an agent event out to the notifier, the signal bus, and the audit
// log. All three are best-effort.
func (o *Orchestrator) emit(ctx context.Context, event, title string, detail map[string]any) {
	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.NotifyEvent(ctx, event, title, detail); err != nil {
			o.logger.Warn("agent: notification failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}

	if o.deps.Bus != nil {
		payload, err := json.Marshal(map[string]any{
			"event":     event,
			"agent_id":  o.deps.State.AgentID(),
			"detail":    detail,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		if err == nil {
			if err := o.deps.Bus.Publish(ctx, "agent_events", payload); err != nil {
				o.logger.Debug("agent: event publish failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if o.deps.Audit != nil {
		if err := o.deps.Audit.Log(ctx, o.deps.State.AgentID(), event, detail); err != nil {
			o.logger.Debug("agent: audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func tradeID(source string) string {
	prefix := "trade_"
	if source == "manual_intervention" {
		prefix = "manual_"
	}
	return prefix + uuid.NewString()[:8]
}
