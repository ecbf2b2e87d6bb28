package s3blob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cryptoagent/internal/domain"
)

// TradeSource is the narrow view of the agent state the archiver needs: the
// agent identity and the executed trades older than a cutoff.
type TradeSource interface {
	AgentID() string
	ExecutedTradesBefore(cutoff time.Time) []*domain.TradeDecision
}

// Archiver uploads aged executed trades to object storage so the in-memory
// trade history can stay bounded without losing the record. Deletion from the
// ledger is intentionally not performed here.
type Archiver struct {
	writer    domain.BlobWriter
	trades    TradeSource
	audit     domain.AuditStore
	retention time.Duration
	logger    *slog.Logger
}

var _ domain.TradeArchiver = (*Archiver)(nil)

// NewArchiver creates an archiver that ships trades executed more than
// retention ago. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades TradeSource, audit domain.AuditStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		trades:    trades,
		audit:     audit,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives everything older than the retention window. Its signature
// matches the scheduler's task contract so it can run on a cron trigger.
func (a *Archiver) Run(ctx context.Context) error {
	count, err := a.ArchiveTrades(ctx, time.Now().UTC().Add(-a.retention))
	if err != nil {
		return err
	}
	if count > 0 {
		a.logger.Info("archiver: trades archived", slog.Int64("count", count))
	}
	return nil
}

// ArchiveTrades uploads all executed trades older than before to
// trades/<agent>/<date>.json and records the event in the audit log. It
// returns the number of archived trades; zero trades means no upload.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades := a.trades.ExecutedTradesBefore(before)
	if len(trades) == 0 {
		return 0, nil
	}

	key := archiveKey(a.trades.AgentID(), before)
	if err := a.writer.PutJSON(ctx, key, trades); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))
	if a.audit != nil {
		if err := a.audit.Log(ctx, a.trades.AgentID(), "archive.trades", map[string]any{
			"key":    key,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return count, nil
}

// archiveKey builds the object key, partitioned by agent and cutoff date.
//
//	trades/agent_1a2b3c4d/2026-08-29.json
func archiveKey(agentID string, before time.Time) string {
	return fmt.Sprintf("trades/%s/%s.json", agentID, before.Format("2006-01-02"))
}
