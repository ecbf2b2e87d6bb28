package domain

import (
	"context"
	"time"
)

// AgentConfig is the tunable configuration carried with the agent state.
type AgentConfig struct {
	RiskLevel           RiskLevel
	MaxPositions        int
	RebalanceInterval   time.Duration
	MonitorSymbols      []string
	PriceAlertThreshold float64
}

// DefaultAgentConfig returns the configuration a fresh agent starts with.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		RiskLevel:           RiskModerate,
		MaxPositions:        10,
		RebalanceInterval:   time.Hour,
		MonitorSymbols:      []string{"BTCUSDT", "ETHUSDT", "ADAUSDT"},
		PriceAlertThreshold: 5.0,
	}
}

// AgentConfigUpdate is a partial configuration change. Nil fields leave the
// current value untouched; a nil MonitorSymbols slice keeps the existing
// symbol set while an empty one clears it.
type AgentConfigUpdate struct {
	RiskLevel           *RiskLevel
	MaxPositions        *int
	RebalanceInterval   *time.Duration
	MonitorSymbols      []string
	PriceAlertThreshold *float64
}

// AgentMetrics are the performance aggregates recomputed on demand from the
// portfolio. PeakValue is a monotonic high-water mark and MaxDrawdown never
// decreases once recorded.
type AgentMetrics struct {
	StartTime     time.Time
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	BestTrade     float64
	WorstTrade    float64
	MaxDrawdown   float64
	PeakValue     float64
}

// AgentSnapshot is the unit of persistence for one agent: everything needed
// to restore it after a restart.
type AgentSnapshot struct {
	AgentID        string
	InitialBalance float64
	Portfolio      *Portfolio
	Config         AgentConfig
	Metrics        AgentMetrics
	SavedAt        time.Time
}

// AgentStateStore persists and restores agent snapshots. Load returns
// ErrNotFound when no snapshot exists for the agent.
type AgentStateStore interface {
	Load(ctx context.Context, agentID string) (*AgentSnapshot, error)
	Save(ctx context.Context, snap *AgentSnapshot) error
}

// PriceSource fetches the current price for a symbol from one provider.
// Implementations return ErrPriceUnavailable (possibly wrapped) when the
// provider cannot serve the symbol.
type PriceSource interface {
	Name() string
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// AnalysisStatus is the lifecycle state of an analysis job.
type AnalysisStatus string

const (
	AnalysisQueued    AnalysisStatus = "queued"
	AnalysisRunning   AnalysisStatus = "running"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// Terminal reports whether the job has finished, successfully or not.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

// AnalysisInsight is one finding produced by a market analysis run.
type AnalysisInsight struct {
	Symbol     string
	Sentiment  string // "bullish", "bearish", "neutral"
	Confidence float64
	Summary    string
}

// AnalysisResults carries the output of a completed analysis job.
type AnalysisResults struct {
	JobID      string
	Goal       string
	Insights   []AnalysisInsight
	MarketData map[string]float64
}

// AnalysisJob is the observable state of a long-running analysis job.
type AnalysisJob struct {
	ID        string
	Goal      string
	Status    AnalysisStatus
	Results   *AnalysisResults
	Error     string
	StartedAt time.Time
}

// AnalysisService starts long-running market analysis jobs and exposes their
// progress for polling.
type AnalysisService interface {
	StartAnalysis(ctx context.Context, goal string, metadata map[string]string) (string, error)
	GetJob(ctx context.Context, jobID string) (AnalysisJob, error)
}

// DecisionEngine turns market alerts and analysis results into trading
// signals and keeps risk bookkeeping for executed trades.
type DecisionEngine interface {
	EvaluateAlert(ctx context.Context, alert MarketAlert, portfolio *Portfolio) (*TradingSignal, error)
	EvaluateAnalysis(ctx context.Context, results AnalysisResults) ([]TradingSignal, error)
	RecordTrade(trade *TradeDecision)
	UpdateRiskLevel(level RiskLevel) error
	RiskStatus() map[string]any
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PriceCache provides fast access to the latest observed prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// SignalBus publishes agent events (alerts, trades, lifecycle) for external
// consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	AgentID   string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, agentID, event string, detail map[string]any) error
	List(ctx context.Context, agentID string, limit int) ([]AuditEntry, error)
}

// BlobWriter writes JSON documents to object storage.
type BlobWriter interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// TradeArchiver ships executed trades older than a cutoff to long-term
// storage and reports how many were archived.
type TradeArchiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
}
