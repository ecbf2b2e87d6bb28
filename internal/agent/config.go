package agent

import (
	"fmt"
	"log/slog"

	"cryptoagent/internal/domain"
)

// ApplyConfigUpdate validates and applies a runtime configuration change.
// Any invalid field rejects the whole update. A valid update takes effect
// immediately for the engine's risk level, alert thresholds, symbol
// removal, and the rebalance schedule of a running agent. A symbol added
// while the agent runs is registered at once but starts polling on the
// next agent start; the monitor fixes its polling set when it starts.
func (o *Orchestrator) ApplyConfigUpdate(upd domain.AgentConfigUpdate) (domain.AgentConfig, error) {
	if upd.RiskLevel != nil && !upd.RiskLevel.Valid() {
		return domain.AgentConfig{}, fmt.Errorf("agent: update config: risk level %q: %w",
			*upd.RiskLevel, domain.ErrInvalidRiskLevel)
	}
	if upd.MaxPositions != nil && *upd.MaxPositions <= 0 {
		return domain.AgentConfig{}, fmt.Errorf("agent: update config: max positions %d must be positive",
			*upd.MaxPositions)
	}
	if upd.RebalanceInterval != nil && *upd.RebalanceInterval <= 0 {
		return domain.AgentConfig{}, fmt.Errorf("agent: update config: rebalance interval %s must be positive",
			*upd.RebalanceInterval)
	}
	if upd.PriceAlertThreshold != nil && *upd.PriceAlertThreshold <= 0 {
		return domain.AgentConfig{}, fmt.Errorf("agent: update config: price alert threshold %g must be positive",
			*upd.PriceAlertThreshold)
	}

	if upd.RiskLevel != nil {
		if err := o.deps.Engine.UpdateRiskLevel(*upd.RiskLevel); err != nil {
			return domain.AgentConfig{}, fmt.Errorf("agent: update config: %w", err)
		}
	}

	var cfg domain.AgentConfig
	o.deps.State.UpdateConfig(func(c *domain.AgentConfig) {
		if upd.RiskLevel != nil {
			c.RiskLevel = *upd.RiskLevel
		}
		if upd.MaxPositions != nil {
			c.MaxPositions = *upd.MaxPositions
		}
		if upd.RebalanceInterval != nil {
			c.RebalanceInterval = *upd.RebalanceInterval
		}
		if upd.MonitorSymbols != nil {
			c.MonitorSymbols = append([]string(nil), upd.MonitorSymbols...)
		}
		if upd.PriceAlertThreshold != nil {
			c.PriceAlertThreshold = *upd.PriceAlertThreshold
		}
		cfg = *c
	})

	o.reconcileMonitoring(cfg)

	// A running scheduler picks the new interval up by same-id replacement;
	// otherwise Run reads it from the stored config at the next start.
	if upd.RebalanceInterval != nil && o.deps.Scheduler.IsRunning() {
		o.deps.Scheduler.ScheduleInterval(o.runRebalance, cfg.RebalanceInterval, rebalanceJobID)
	}

	o.logger.Info("agent: config updated",
		slog.String("risk_level", string(cfg.RiskLevel)),
		slog.Int("symbols", len(cfg.MonitorSymbols)),
		slog.Float64("pct_threshold", cfg.PriceAlertThreshold),
		slog.Duration("rebalance_interval", cfg.RebalanceInterval),
	)
	return cfg, nil
}

// reconcileMonitoring syncs the monitor's symbol set and per-symbol
// percentage thresholds with the given configuration.
func (o *Orchestrator) reconcileMonitoring(cfg domain.AgentConfig) {
	want := make(map[string]bool, len(cfg.MonitorSymbols))
	for _, symbol := range cfg.MonitorSymbols {
		want[symbol] = true
	}
	for _, symbol := range o.deps.Monitor.Symbols() {
		if !want[symbol] {
			o.deps.Monitor.RemoveSymbol(symbol)
		}
	}
	for _, symbol := range cfg.MonitorSymbols {
		o.deps.Monitor.AddSymbol(symbol)
		o.deps.Monitor.SetPercentageThreshold(symbol, cfg.PriceAlertThreshold)
	}
}
