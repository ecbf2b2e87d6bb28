package pricefeed

import (
	"context"
	"fmt"
	"log/slog"

	"cryptoagent/internal/domain"
)

// Chain is a price source that tries its members in order and returns the
// first successful quote. It satisfies domain.PriceSource itself so callers
// that want one provider and callers that want the full fallback chain use
// the same interface.
type Chain struct {
	sources []domain.PriceSource
	logger  *slog.Logger
}

var _ domain.PriceSource = (*Chain)(nil)

// NewChain creates a chain over sources in priority order.
func NewChain(logger *slog.Logger, sources ...domain.PriceSource) *Chain {
	return &Chain{
		sources: sources,
		logger:  logger.With(slog.String("component", "pricefeed")),
	}
}

// Name identifies the chain in logs and monitor status.
func (c *Chain) Name() string { return "chain" }

// Sources returns the chain members in priority order.
func (c *Chain) Sources() []domain.PriceSource {
	return c.sources
}

// GetPrice tries each source in order. Individual failures are logged at
// debug; only full exhaustion surfaces as an error.
func (c *Chain) GetPrice(ctx context.Context, symbol string) (float64, error) {
	for _, src := range c.sources {
		price, err := src.GetPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		c.logger.Debug("pricefeed: source failed",
			slog.String("source", src.Name()),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	return 0, fmt.Errorf("pricefeed: all sources exhausted for %s: %w", symbol, domain.ErrPriceUnavailable)
}
