// Package server exposes the agent's control surface: a small HTTP API for
// lifecycle, configuration, and portfolio inspection, plus a WebSocket hub
// streaming agent events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cryptoagent/internal/domain"
	"cryptoagent/internal/server/handler"
	"cryptoagent/internal/server/middleware"
	"cryptoagent/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateLimitWindow. Zero
	// disables rate limiting even when a limiter is available.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Audit may be nil when no audit store is configured.
type Handlers struct {
	Health    *handler.HealthHandler
	Agent     *handler.AgentHandler
	Portfolio *handler.PortfolioHandler
	Audit     *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket control API for the trading agent.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, optional rate limiting) and
// attaches the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Agent lifecycle and control endpoints.
	mux.HandleFunc("GET /api/agent/status", handlers.Agent.Status)
	mux.HandleFunc("POST /api/agent/start", handlers.Agent.Start)
	mux.HandleFunc("POST /api/agent/stop", handlers.Agent.Stop)
	mux.HandleFunc("PUT /api/agent/config", handlers.Agent.UpdateConfig)
	mux.HandleFunc("POST /api/agent/trade", handlers.Agent.Trade)

	// Portfolio snapshot.
	mux.HandleFunc("GET /api/agent/portfolio", handlers.Portfolio.Get)

	// Audit trail (only when a store is configured).
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/agent/audit", handlers.Audit.List)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-IP rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Handler returns the server's root handler with the middleware chain
// applied. Useful for tests driving the server through httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
