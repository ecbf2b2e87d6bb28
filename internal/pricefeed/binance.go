// Package pricefeed provides price sources for the market monitor: thin REST
// clients over public exchange APIs plus a chain that falls through providers
// in priority order.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cryptoagent/internal/domain"
)

// DefaultBinanceBaseURL is the public Binance spot API root.
const DefaultBinanceBaseURL = "https://api.binance.com"

// BinanceClient fetches spot prices from the Binance ticker endpoint.
// Symbols are passed through verbatim (e.g. "BTCUSDT").
type BinanceClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ domain.PriceSource = (*BinanceClient)(nil)

// NewBinanceClient creates a Binance price source. An empty baseURL selects
// the public API.
func NewBinanceClient(baseURL string) *BinanceClient {
	if baseURL == "" {
		baseURL = DefaultBinanceBaseURL
	}
	return &BinanceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name identifies the source in logs and monitor status.
func (b *BinanceClient) Name() string { return "binance" }

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice returns the last traded price for symbol. Any transport, status,
// or decode failure is reported as ErrPriceUnavailable with detail.
func (b *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	path := "/api/v3/ticker/price?" + params.Encode()

	body, err := b.doGet(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("pricefeed/binance: get price %s: %w: %v", symbol, domain.ErrPriceUnavailable, err)
	}

	var ticker binanceTicker
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, fmt.Errorf("pricefeed/binance: decode ticker %s: %w: %v", symbol, domain.ErrPriceUnavailable, err)
	}

	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("pricefeed/binance: bad price %q for %s: %w", ticker.Price, symbol, domain.ErrPriceUnavailable)
	}
	return price, nil
}

func (b *BinanceClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
