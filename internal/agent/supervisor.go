package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cryptoagent/internal/domain"
)

// Supervisor runs the orchestrator in the background so the HTTP control
// surface can start and stop the agent independently of the process
// lifecycle. The base context bounds every background run: cancelling it
// stops the agent for good.
type Supervisor struct {
	orc    *Orchestrator
	base   context.Context
	logger *slog.Logger

	mu   sync.Mutex
	done chan struct{}
}

// NewSupervisor wraps the orchestrator for background operation.
func NewSupervisor(base context.Context, orc *Orchestrator, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		orc:    orc,
		base:   base,
		logger: logger.With(slog.String("component", "supervisor")),
	}
}

// Start launches the agent in a background goroutine. It returns
// ErrAgentRunning when a previous run has not finished.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			return fmt.Errorf("supervisor: start: %w", domain.ErrAgentRunning)
		}
	}

	done := make(chan struct{})
	s.done = done
	go func() {
		defer close(done)
		if err := s.orc.Run(s.base); err != nil {
			s.logger.Error("supervisor: agent run failed",
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Stop requests shutdown and waits for the background run to finish or the
// context to expire. Stopping an idle supervisor is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	s.orc.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor: stop: %w", ctx.Err())
	}
}

// Running reports whether a background run is currently active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
