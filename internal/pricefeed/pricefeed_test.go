package pricefeed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBinanceGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"50123.45"}`))
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL)
	price, err := client.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 50123.45, price, 1e-9)
}

func TestBinanceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL)
	_, err := client.GetPrice(context.Background(), "NOPEUSDT")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestBinanceBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"garbage"}`))
	}))
	defer srv.Close()

	client := NewBinanceClient(srv.URL)
	_, err := client.GetPrice(context.Background(), "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestCoinGeckoGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/simple/price", r.URL.Path)
		assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
		w.Write([]byte(`{"ethereum":{"usd":1850.12}}`))
	}))
	defer srv.Close()

	client := NewCoinGeckoClient(srv.URL)
	price, err := client.GetPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1850.12, price, 1e-9)
}

func TestCoinGeckoUnknownSymbol(t *testing.T) {
	client := NewCoinGeckoClient("http://unused.invalid")
	_, err := client.GetPrice(context.Background(), "MYSTERYUSDT")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

type stubSource struct {
	name  string
	price float64
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) GetPrice(ctx context.Context, symbol string) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

func TestChainFallsThrough(t *testing.T) {
	broken := &stubSource{name: "broken", err: errors.New("down")}
	working := &stubSource{name: "working", price: 42}

	chain := NewChain(testLogger(), broken, working)
	price, err := chain.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 42.0, price)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, working.calls)
}

func TestChainExhausted(t *testing.T) {
	chain := NewChain(testLogger(),
		&stubSource{name: "a", err: errors.New("down")},
		&stubSource{name: "b", err: errors.New("also down")},
	)
	_, err := chain.GetPrice(context.Background(), "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestChainPrefersFirstSource(t *testing.T) {
	primary := &stubSource{name: "primary", price: 10}
	secondary := &stubSource{name: "secondary", price: 20}

	chain := NewChain(testLogger(), primary, secondary)
	price, err := chain.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 10.0, price)
	assert.Zero(t, secondary.calls)
}
