package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestSplitPair(t *testing.T) {
	base, quote, err := SplitPair(" btc/usd ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base != "BTC" || quote != "USD" {
		t.Fatalf("unexpected split %s %s", base, quote)
	}
	if _, _, err := SplitPair("BTCUSD"); err == nil {
		t.Fatal("pair without separator should fail")
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStatic(map[string]decimal.Decimal{"btc/usd": decimal.NewFromInt(43000)})

	q, err := src.FetchPrice(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(43000)) || q.Pair != "BTC/USD" {
		t.Fatalf("unexpected quote %+v", q)
	}
	if _, err := src.FetchPrice(context.Background(), "ETH/USD"); !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("expected ErrUnknownPair, got %v", err)
	}
}

func TestHTTPFetchMissingTemplate(t *testing.T) {
	h := NewHTTP(HTTPOptions{}, noopLogger())
	if _, err := h.FetchPrice(context.Background(), "BTC/USD"); err == nil {
		t.Fatal("missing template should fail")
	}
}

func TestHTTPFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"id": "not_found", "message": "Invalid currency"}},
		})
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{URLTemplate: srv.URL + "/{pair}", PricePath: "data.amount", Timeout: time.Second}, noopLogger())
	_, err := h.FetchPrice(context.Background(), "BTC/USD")
	if err == nil || !strings.Contains(err.Error(), "Invalid currency") {
		t.Fatalf("expected api error message, got %v", err)
	}
}

func TestHTTPFetchSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"base": "BTC", "currency": "USD", "amount": "43010.55"},
		})
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{
		URLTemplate: srv.URL + "/v2/prices/{base}-{quote}/spot",
		PricePath:   "data.amount",
		Timeout:     time.Second,
		UserAgent:   "test",
	}, noopLogger())

	q, err := h.FetchPrice(context.Background(), "btc/usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v2/prices/BTC-USD/spot" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if !q.Price.Equal(decimal.RequireFromString("43010.55")) {
		t.Fatalf("unexpected price %s", q.Price)
	}
	if q.Pair != "BTC/USD" || q.Source != "http" {
		t.Fatalf("unexpected quote %+v", q)
	}
}

func TestHTTPFetchOversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"pad": strings.Repeat("x", 2*maxResponseBytes), "amount": "43010.55"},
		})
	}))
	defer srv.Close()

	h := NewHTTP(HTTPOptions{URLTemplate: srv.URL + "/{pair}", PricePath: "data.amount", Timeout: 5 * time.Second}, noopLogger())
	if _, err := h.FetchPrice(context.Background(), "BTC/USD"); err == nil || !strings.Contains(err.Error(), "decode price response") {
		t.Fatalf("expected truncated response to fail decoding, got %v", err)
	}
}

func TestExtractPriceNumeric(t *testing.T) {
	price, err := extractPrice([]byte(`{"price": 2310.4}`), "price")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("2310.4")) {
		t.Fatalf("unexpected price %s", price)
	}

	if _, err := extractPrice([]byte(`{"price": {"x": 1}}`), "price.y"); err == nil {
		t.Fatal("missing path segment should fail")
	}
	if _, err := extractPrice([]byte(`{"price": true}`), "price"); err == nil {
		t.Fatal("non-numeric value should fail")
	}
}

func TestChainlinkMissingConfig(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	if _, err := c.FetchPrice(context.Background(), "BTC/USD"); err == nil {
		t.Fatal("missing rpc url should fail")
	}

	c = NewChainlink(ChainlinkOptions{RPCURL: "http://localhost", Feeds: map[string]string{"eth/usd": "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"}}, noopLogger())
	if _, err := c.FetchPrice(context.Background(), "BTC/USD"); !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("expected ErrUnknownPair, got %v", err)
	}
}
