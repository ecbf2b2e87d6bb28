// Package app provides the top-level application lifecycle management for the
// trading agent. It wires together all dependencies (stores, caches, blob
// storage, the agent loop, and notifications), starts the HTTP surface when
// enabled, and blocks until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptoagent/internal/agent"
	"cryptoagent/internal/analysis"
	s3blob "cryptoagent/internal/blob/s3"
	"cryptoagent/internal/config"
	"cryptoagent/internal/domain"
	"cryptoagent/internal/engine"
	"cryptoagent/internal/monitor"
	"cryptoagent/internal/pricefeed"
	"cryptoagent/internal/scheduler"
	"cryptoagent/internal/server"
	"cryptoagent/internal/server/handler"
	"cryptoagent/internal/server/ws"
	"cryptoagent/internal/state"
)

const (
	archivalJobID   = "trade_archival"
	shutdownTimeout = 30 * time.Second
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds the agent
// and its HTTP surface, starts the corresponding goroutines, and blocks until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("agent_id", a.cfg.Agent.ID),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.runAgent(ctx, deps)
}

// runAgent assembles the agent components on top of the wired infrastructure
// and runs them until the context is cancelled.
func (a *App) runAgent(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	logger := a.logger

	var sources []domain.PriceSource
	if cfg.Pricefeed.BinanceURL != "" {
		sources = append(sources, pricefeed.NewBinanceClient(cfg.Pricefeed.BinanceURL))
	}
	if cfg.Pricefeed.CoinGeckoURL != "" {
		sources = append(sources, pricefeed.NewCoinGeckoClient(cfg.Pricefeed.CoinGeckoURL))
	}

	feed := pricefeed.NewChain(logger, sources...)

	mon := monitor.New([]domain.PriceSource{feed}, deps.PriceCache, logger)
	mon.SetPollInterval(cfg.Pricefeed.PollInterval.Duration)

	sched := scheduler.New(logger)

	eng, err := engine.New(domain.RiskLevel(cfg.Agent.RiskLevel), cfg.Agent.InitialBalance, logger)
	if err != nil {
		return fmt.Errorf("app: decision engine: %w", err)
	}

	st := state.New(cfg.Agent.ID, cfg.Agent.InitialBalance, deps.StateStore, logger)
	// Seed the runtime config from the file. A persisted snapshot restored on
	// agent start overrides these values.
	st.UpdateConfig(func(c *domain.AgentConfig) {
		c.RiskLevel = domain.RiskLevel(cfg.Agent.RiskLevel)
		c.MaxPositions = cfg.Agent.MaxPositions
		c.RebalanceInterval = cfg.Agent.RebalanceInterval.Duration
		c.MonitorSymbols = append([]string(nil), cfg.Agent.MonitorSymbols...)
		c.PriceAlertThreshold = cfg.Agent.PriceAlertThreshold
	})

	runner := analysis.NewRunner(analysis.NewMomentumRun(mon, cfg.Agent.AnalysisThreshold), logger)

	orc := agent.New(agent.Deps{
		State:     st,
		Monitor:   mon,
		Scheduler: sched,
		Engine:    eng,
		Analysis:  runner,
		Bus:       deps.SignalBus,
		Notifier:  deps.Notifier,
		Audit:     deps.AuditStore,
		Logger:    logger,
	})
	sup := agent.NewSupervisor(ctx, orc, logger)

	if deps.BlobWriter != nil {
		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		arch := s3blob.NewArchiver(deps.BlobWriter, st, deps.AuditStore, retention, logger)
		if _, err := sched.ScheduleCron(arch.Run, cfg.Archive.Cron, archivalJobID); err != nil {
			return fmt.Errorf("app: schedule archival: %w", err)
		}
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, logger, ws.Config{
			AgentID:   cfg.Agent.ID,
			StartedAt: time.Now(),
		})
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		handlers := server.Handlers{
			Health:    handler.NewHealthHandler(logger),
			Agent:     handler.NewAgentHandler(sup, orc, logger),
			Portfolio: handler.NewPortfolioHandler(st, logger),
		}
		if deps.AuditStore != nil {
			handlers.Audit = handler.NewAuditHandler(cfg.Agent.ID, deps.AuditStore, logger)
		}
		srv = server.NewServer(server.Config{
			Port:            cfg.Server.Port,
			CORSOrigins:     cfg.Server.CORSOrigins,
			APIKey:          cfg.Server.APIKey,
			RateLimit:       cfg.Server.RateLimit,
			RateLimitWindow: cfg.Server.RateLimitWindow.Duration,
		}, handlers, hub, deps.RateLimiter, logger)
	}

	if cfg.Agent.AutoStart {
		if err := sup.Start(); err != nil {
			return fmt.Errorf("app: start agent: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if hub != nil {
		g.Go(func() error { return hub.Run(gctx) })
	}
	if srv != nil {
		g.Go(func() error { return srv.Start() })
		g.Go(func() error {
			<-gctx.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return sup.Stop(stopCtx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
