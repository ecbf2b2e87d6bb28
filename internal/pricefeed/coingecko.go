package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cryptoagent/internal/domain"
)

// DefaultCoinGeckoBaseURL is the public CoinGecko API root.
const DefaultCoinGeckoBaseURL = "https://api.coingecko.com"

// coinGeckoIDs maps trading-pair symbols to CoinGecko coin IDs. Symbols
// without a mapping are unavailable from this source.
var coinGeckoIDs = map[string]string{
	"BTCUSDT":  "bitcoin",
	"ETHUSDT":  "ethereum",
	"ADAUSDT":  "cardano",
	"SOLUSDT":  "solana",
	"DOGEUSDT": "dogecoin",
	"XRPUSDT":  "ripple",
	"DOTUSDT":  "polkadot",
	"LINKUSDT": "chainlink",
}

// CoinGeckoClient fetches USD prices from the CoinGecko simple-price
// endpoint. It serves as the fallback behind the exchange feed.
type CoinGeckoClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ domain.PriceSource = (*CoinGeckoClient)(nil)

// NewCoinGeckoClient creates a CoinGecko price source. An empty baseURL
// selects the public API.
func NewCoinGeckoClient(baseURL string) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoBaseURL
	}
	return &CoinGeckoClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name identifies the source in logs and monitor status.
func (c *CoinGeckoClient) Name() string { return "coingecko" }

// GetPrice returns the USD price for symbol via its CoinGecko coin ID.
func (c *CoinGeckoClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	coinID, ok := coinGeckoIDs[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("pricefeed/coingecko: no coin id for %s: %w", symbol, domain.ErrPriceUnavailable)
	}

	params := url.Values{}
	params.Set("ids", coinID)
	params.Set("vs_currencies", "usd")
	path := "/api/v3/simple/price?" + params.Encode()

	body, err := c.doGet(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("pricefeed/coingecko: get price %s: %w: %v", symbol, domain.ErrPriceUnavailable, err)
	}

	var quotes map[string]map[string]float64
	if err := json.Unmarshal(body, &quotes); err != nil {
		return 0, fmt.Errorf("pricefeed/coingecko: decode price %s: %w: %v", symbol, domain.ErrPriceUnavailable, err)
	}

	price := quotes[coinID]["usd"]
	if price <= 0 {
		return 0, fmt.Errorf("pricefeed/coingecko: empty quote for %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	return price, nil
}

func (c *CoinGeckoClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
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
