package domain

import "time"

// AlertType classifies market alerts.
type AlertType string

const (
	AlertPriceChange     AlertType = "price_change"
	AlertVolumeSpike     AlertType = "volume_spike"
	AlertPriceThreshold  AlertType = "price_threshold"
	AlertTechnicalSignal AlertType = "technical_signal"
)

// MarketAlert is an event emitted by the market monitor when a configured
// price rule fires. Alerts are immutable once constructed and consumed once
// by the orchestrator's alert handler.
type MarketAlert struct {
	Symbol         string
	Type           AlertType
	CurrentValue   float64
	ThresholdValue float64
	Timestamp      time.Time
	Metadata       map[string]string
}

// PricePoint is a single observation in a symbol's price history.
type PricePoint struct {
	Symbol    string
	Price     float64
	Volume    *float64
	Timestamp time.Time
}

// NewPricePoint creates a price point stamped with the current time.
func NewPricePoint(symbol string, price float64, volume *float64) PricePoint {
	return PricePoint{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
	}
}
