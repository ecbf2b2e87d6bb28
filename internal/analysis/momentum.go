package analysis

import (
	"context"
	"fmt"

	"cryptoagent/internal/domain"
)

// momentumSampleSize bounds how much history one analysis pass reads per
// symbol.
const momentumSampleSize = 50

// HistorySource provides recent price history for tracked symbols.
type HistorySource interface {
	Symbols() []string
	GetPriceHistory(symbol string, limit int) []domain.PricePoint
}

// NewMomentumRun returns a RunFunc that derives insights from recent price
// history: a symbol that moved more than threshold percent over the sampled
// window is reported bullish or bearish, with confidence growing with the
// size of the move. Symbols with fewer than two samples are skipped.
func NewMomentumRun(src HistorySource, threshold float64) RunFunc {
	if threshold <= 0 {
		threshold = 2.0
	}

	return func(ctx context.Context, goal string, metadata map[string]string) (*domain.AnalysisResults, error) {
		results := &domain.AnalysisResults{
			Goal:       goal,
			MarketData: map[string]float64{},
		}

		for _, symbol := range src.Symbols() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			history := src.GetPriceHistory(symbol, momentumSampleSize)
			if len(history) < 2 {
				continue
			}
			first := history[0].Price
			last := history[len(history)-1].Price
			if first <= 0 {
				continue
			}

			results.MarketData[symbol] = last

			change := (last - first) / first * 100
			if change < threshold && change > -threshold {
				continue
			}

			sentiment := "bullish"
			if change < 0 {
				sentiment = "bearish"
			}
			results.Insights = append(results.Insights, domain.AnalysisInsight{
				Symbol:     symbol,
				Sentiment:  sentiment,
				Confidence: momentumConfidence(change, threshold),
				Summary:    fmt.Sprintf("%s moved %+.2f%% over the sampled window", symbol, change),
			})
		}

		return results, nil
	}
}

// momentumConfidence scales confidence from 0.5 at the threshold towards a
// 0.95 ceiling as the move grows.
func momentumConfidence(changePct, threshold float64) float64 {
	magnitude := changePct
	if magnitude < 0 {
		magnitude = -magnitude
	}
	confidence := 0.5 + 0.45*(magnitude-threshold)/(3*threshold)
	if confidence > 0.95 {
		confidence = 0.95
	}
	if confidence < 0.5 {
		confidence = 0.5
	}
	return confidence
}
