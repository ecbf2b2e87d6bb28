package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cryptoagent/internal/domain"
)

// AgentStateStore implements domain.AgentStateStore using PostgreSQL. The
// snapshot's portfolio, config, and metrics are stored as JSONB columns in
// one row per agent.
type AgentStateStore struct {
	pool *pgxpool.Pool
}

var _ domain.AgentStateStore = (*AgentStateStore)(nil)

// NewAgentStateStore creates an AgentStateStore backed by pool.
func NewAgentStateStore(pool *pgxpool.Pool) *AgentStateStore {
	return &AgentStateStore{pool: pool}
}

// Load restores the snapshot for agentID. A missing row maps to
// domain.ErrNotFound.
func (s *AgentStateStore) Load(ctx context.Context, agentID string) (*domain.AgentSnapshot, error) {
	const query = `
		SELECT agent_id, initial_balance, portfolio, config, metrics, saved_at
		FROM agent_states
		WHERE agent_id = $1`

	var (
		snap          domain.AgentSnapshot
		portfolioJSON []byte
		configJSON    []byte
		metricsJSON   []byte
	)
	err := s.pool.QueryRow(ctx, query, agentID).Scan(
		&snap.AgentID, &snap.InitialBalance, &portfolioJSON, &configJSON, &metricsJSON, &snap.SavedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: load agent state %q: %w", agentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load agent state %q: %w", agentID, err)
	}

	snap.Portfolio = &domain.Portfolio{}
	if err := json.Unmarshal(portfolioJSON, snap.Portfolio); err != nil {
		return nil, fmt.Errorf("postgres: decode portfolio for %q: %w", agentID, err)
	}
	if err := json.Unmarshal(configJSON, &snap.Config); err != nil {
		return nil, fmt.Errorf("postgres: decode config for %q: %w", agentID, err)
	}
	if err := json.Unmarshal(metricsJSON, &snap.Metrics); err != nil {
		return nil, fmt.Errorf("postgres: decode metrics for %q: %w", agentID, err)
	}
	return &snap, nil
}

// Save upserts the snapshot row for the agent.
func (s *AgentStateStore) Save(ctx context.Context, snap *domain.AgentSnapshot) error {
	portfolioJSON, err := json.Marshal(snap.Portfolio)
	if err != nil {
		return fmt.Errorf("postgres: marshal portfolio for %q: %w", snap.AgentID, err)
	}
	configJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal config for %q: %w", snap.AgentID, err)
	}
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("postgres: marshal metrics for %q: %w", snap.AgentID, err)
	}

	const query = `
		INSERT INTO agent_states (agent_id, initial_balance, portfolio, config, metrics, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id) DO UPDATE SET
			initial_balance = EXCLUDED.initial_balance,
			portfolio = EXCLUDED.portfolio,
			config = EXCLUDED.config,
			metrics = EXCLUDED.metrics,
			saved_at = EXCLUDED.saved_at`

	_, err = s.pool.Exec(ctx, query,
		snap.AgentID, snap.InitialBalance, portfolioJSON, configJSON, metricsJSON, snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save agent state %q: %w", snap.AgentID, err)
	}
	return nil
}
