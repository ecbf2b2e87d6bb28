// Package monitor polls market prices for a set of symbols, keeps a bounded
// per-symbol price history, evaluates alert rules, and delivers alerts to
// registered callbacks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptoagent/internal/domain"
)

// maxHistoryPoints caps each symbol's price history; the oldest point is
// evicted first.
const maxHistoryPoints = 1000

// defaultPollInterval is the per-symbol polling cadence.
const defaultPollInterval = 5 * time.Second

// AlertFunc handles one market alert. Callbacks run sequentially in
// registration order; a panic or error in one callback is logged and does not
// stop the remaining callbacks or the monitor.
type AlertFunc func(ctx context.Context, alert domain.MarketAlert) error

// priceThreshold holds the independently settable absolute bounds for one
// symbol. No validation relates the two; an inconsistent configuration can
// fire both in the same tick.
type priceThreshold struct {
	above *float64
	below *float64
}

// MarketMonitor owns the symbol registry, price history, alert rules, and
// callback list. All collections are instance fields created at construction
// and discarded with the monitor.
type MarketMonitor struct {
	sources  []domain.PriceSource
	cache    domain.PriceCache // optional write-through, may be nil
	interval time.Duration
	logger   *slog.Logger

	mu            sync.Mutex
	symbols       map[string]struct{}
	history       map[string][]domain.PricePoint
	thresholds    map[string]priceThreshold
	pctThresholds map[string]float64
	callbacks     []registeredCallback
	nextCallback  int
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
}

type registeredCallback struct {
	id int
	fn AlertFunc
}

// New creates a MarketMonitor that fetches prices from the given sources in
// priority order. cache may be nil.
func New(sources []domain.PriceSource, cache domain.PriceCache, logger *slog.Logger) *MarketMonitor {
	return &MarketMonitor{
		sources:       sources,
		cache:         cache,
		interval:      defaultPollInterval,
		logger:        logger.With(slog.String("component", "market_monitor")),
		symbols:       make(map[string]struct{}),
		history:       make(map[string][]domain.PricePoint),
		thresholds:    make(map[string]priceThreshold),
		pctThresholds: make(map[string]float64),
	}
}

// SetPollInterval overrides the polling cadence. Only effective before Run.
func (m *MarketMonitor) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// AddCallback registers an alert callback and returns its registration ID.
// Callbacks are invoked in registration order.
func (m *MarketMonitor) AddCallback(cb AlertFunc) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCallback++
	m.callbacks = append(m.callbacks, registeredCallback{id: m.nextCallback, fn: cb})
	return m.nextCallback
}

// RemoveCallback unregisters a callback by its registration ID. It reports
// whether the callback was found.
func (m *MarketMonitor) RemoveCallback(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rc := range m.callbacks {
		if rc.id == id {
			m.callbacks = append(m.callbacks[:i], m.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// AddSymbol starts tracking a symbol. Adding an already-tracked symbol is a
// no-op.
func (m *MarketMonitor) AddSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.symbols[symbol]; ok {
		return
	}
	m.symbols[symbol] = struct{}{}
	m.history[symbol] = nil
	m.logger.Info("market_monitor: symbol added", slog.String("symbol", symbol))
}

// RemoveSymbol stops tracking a symbol and discards its history and
// thresholds.
func (m *MarketMonitor) RemoveSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.symbols, symbol)
	delete(m.history, symbol)
	delete(m.thresholds, symbol)
	delete(m.pctThresholds, symbol)
	m.logger.Info("market_monitor: symbol removed", slog.String("symbol", symbol))
}

// Symbols returns the currently tracked symbols.
func (m *MarketMonitor) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		out = append(out, s)
	}
	return out
}

// SetPriceThreshold sets absolute price alert bounds. Either bound may be nil
// to leave it unchanged.
func (m *MarketMonitor) SetPriceThreshold(symbol string, above, below *float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th := m.thresholds[symbol]
	if above != nil {
		th.above = above
		m.logger.Info("market_monitor: above threshold set",
			slog.String("symbol", symbol), slog.Float64("above", *above))
	}
	if below != nil {
		th.below = below
		m.logger.Info("market_monitor: below threshold set",
			slog.String("symbol", symbol), slog.Float64("below", *below))
	}
	m.thresholds[symbol] = th
}

// SetPercentageThreshold sets the percentage-change alert threshold for a
// symbol.
func (m *MarketMonitor) SetPercentageThreshold(symbol string, pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pctThresholds[symbol] = pct
	m.logger.Info("market_monitor: percentage threshold set",
		slog.String("symbol", symbol), slog.Float64("percent", pct))
}

// GetCurrentPrice tries each price source in priority order and returns the
// first successful price. Every source failing yields ErrPriceUnavailable.
func (m *MarketMonitor) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	for _, src := range m.sources {
		price, err := src.GetPrice(ctx, symbol)
		if err != nil {
			m.logger.Debug("market_monitor: price source failed",
				slog.String("source", src.Name()),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		return price, nil
	}
	return 0, fmt.Errorf("market_monitor: get price %q: %w", symbol, domain.ErrPriceUnavailable)
}

// GetPriceHistory returns up to limit most recent price points for a symbol,
// oldest first. A non-positive limit returns the full history.
func (m *MarketMonitor) GetPriceHistory(symbol string, limit int) []domain.PricePoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.history[symbol]
	if limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	out := make([]domain.PricePoint, len(history))
	copy(out, history)
	return out
}

// LatestPrice returns the most recent price point for a symbol, or false when
// none has been recorded.
func (m *MarketMonitor) LatestPrice(symbol string) (domain.PricePoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.history[symbol]
	if len(history) == 0 {
		return domain.PricePoint{}, false
	}
	return history[len(history)-1], true
}

// Status reports the monitor's registry state.
func (m *MarketMonitor) Status() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make(map[string]int, len(m.history))
	for sym, h := range m.history {
		sizes[sym] = len(h)
	}
	symbols := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		symbols = append(symbols, s)
	}
	return map[string]any{
		"running":              m.running,
		"symbols":              symbols,
		"callback_count":       len(m.callbacks),
		"price_history_sizes":  sizes,
		"poll_interval_seconds": m.interval.Seconds(),
	}
}

// Run starts one polling goroutine per tracked symbol and blocks until the
// context is cancelled or Stop is called. Running twice is a logged no-op.
func (m *MarketMonitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("market_monitor: already running")
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	symbols := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		symbols = append(symbols, s)
	}
	m.mu.Unlock()

	m.logger.Info("market_monitor: starting",
		slog.Int("symbols", len(symbols)),
		slog.Duration("interval", m.interval),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		g.Go(func() error {
			m.pollSymbol(ctx, symbol)
			return nil
		})
	}

	err := g.Wait()
	close(m.done)

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("market_monitor: run: %w", err)
	}
	m.logger.Info("market_monitor: stopped")
	return nil
}

// Stop cancels the polling goroutines and waits for them to drain. Stopping a
// monitor that is not running is a no-op.
func (m *MarketMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	running := m.running
	m.mu.Unlock()

	if !running || cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// pollSymbol is the per-symbol polling loop: fetch, record, evaluate rules,
// sleep. A fetch failure skips the tick; the loop exits on cancellation or
// when its symbol is no longer tracked.
func (m *MarketMonitor) pollSymbol(ctx context.Context, symbol string) {
	m.logger.Info("market_monitor: polling started",
		slog.String("symbol", symbol),
		slog.Duration("interval", m.interval),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if !m.tracked(symbol) {
			m.logger.Info("market_monitor: polling stopped, symbol untracked",
				slog.String("symbol", symbol))
			return
		}

		price, err := m.GetCurrentPrice(ctx, symbol)
		if err != nil {
			m.logger.Warn("market_monitor: poll failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		} else {
			m.ObservePrice(ctx, symbol, price, nil)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("market_monitor: polling stopped", slog.String("symbol", symbol))
			return
		case <-ticker.C:
		}
	}
}

// tracked reports whether a symbol is in the monitoring set.
func (m *MarketMonitor) tracked(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.symbols[symbol]
	return ok
}

// ObservePrice records one observed price for a symbol and evaluates the
// alert rules against it. It is the single ingestion point shared by the
// polling loops and tests. Observations for untracked symbols are dropped,
// so a removed symbol cannot regrow history through an in-flight poll.
func (m *MarketMonitor) ObservePrice(ctx context.Context, symbol string, price float64, volume *float64) {
	m.mu.Lock()
	if _, ok := m.symbols[symbol]; !ok {
		m.mu.Unlock()
		return
	}
	previous, hasPrevious := lastPrice(m.history[symbol])
	m.appendHistoryLocked(symbol, domain.NewPricePoint(symbol, price, volume))
	th := m.thresholds[symbol]
	pct, hasPct := m.pctThresholds[symbol]
	m.mu.Unlock()

	if m.cache != nil {
		if err := m.cache.SetPrice(ctx, symbol, price, time.Now().UTC()); err != nil {
			m.logger.Debug("market_monitor: price cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	// Absolute thresholds: both bounds are checked independently.
	if th.above != nil && price > *th.above {
		m.deliverAlert(ctx, domain.MarketAlert{
			Symbol:         symbol,
			Type:           domain.AlertPriceThreshold,
			CurrentValue:   price,
			ThresholdValue: *th.above,
			Timestamp:      time.Now().UTC(),
			Metadata:       map[string]string{"direction": "above"},
		})
	}
	if th.below != nil && price < *th.below {
		m.deliverAlert(ctx, domain.MarketAlert{
			Symbol:         symbol,
			Type:           domain.AlertPriceThreshold,
			CurrentValue:   price,
			ThresholdValue: *th.below,
			Timestamp:      time.Now().UTC(),
			Metadata:       map[string]string{"direction": "below"},
		})
	}

	// Percentage change against the immediately preceding point only.
	if hasPct && hasPrevious && previous != 0 {
		change := (price - previous) / previous * 100
		if change >= pct || -change >= pct {
			m.deliverAlert(ctx, domain.MarketAlert{
				Symbol:         symbol,
				Type:           domain.AlertPriceChange,
				CurrentValue:   change,
				ThresholdValue: pct,
				Timestamp:      time.Now().UTC(),
				Metadata: map[string]string{
					"previous_price": fmt.Sprintf("%g", previous),
					"current_price":  fmt.Sprintf("%g", price),
				},
			})
		}
	}
}

func lastPrice(history []domain.PricePoint) (float64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	return history[len(history)-1].Price, true
}

func (m *MarketMonitor) appendHistoryLocked(symbol string, point domain.PricePoint) {
	history := append(m.history[symbol], point)
	if len(history) > maxHistoryPoints {
		history = history[len(history)-maxHistoryPoints:]
	}
	m.history[symbol] = history
}

// deliverAlert invokes every registered callback sequentially in registration
// order. Callback failures and panics are isolated per invocation.
func (m *MarketMonitor) deliverAlert(ctx context.Context, alert domain.MarketAlert) {
	m.mu.Lock()
	callbacks := make([]registeredCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.logger.Info("market_monitor: alert triggered",
		slog.String("symbol", alert.Symbol),
		slog.String("type", string(alert.Type)),
		slog.Float64("current_value", alert.CurrentValue),
		slog.Float64("threshold", alert.ThresholdValue),
	)

	for _, cb := range callbacks {
		m.invokeCallback(ctx, cb.fn, alert)
	}
}

func (m *MarketMonitor) invokeCallback(ctx context.Context, cb AlertFunc, alert domain.MarketAlert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("market_monitor: alert callback panicked",
				slog.String("symbol", alert.Symbol),
				slog.Any("panic", r),
			)
		}
	}()
	if err := cb(ctx, alert); err != nil {
		m.logger.Error("market_monitor: alert callback failed",
			slog.String("symbol", alert.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
