// Package feed fetches reference prices for the built-in reporting oracle.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownPair indicates the source has no feed configured for the pair.
var ErrUnknownPair = errors.New("feed: pair not configured")

// Quote is one observed reference price.
type Quote struct {
	Pair       string
	Price      decimal.Decimal
	ObservedAt time.Time
	Source     string
}

// PriceSource retrieves the current reference price of a pair.
type PriceSource interface {
	Name() string
	FetchPrice(ctx context.Context, pair string) (Quote, error)
}

// SplitPair turns "BTC/USD" into ("BTC", "USD").
func SplitPair(pair string) (string, string, error) {
	base, quote, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(pair)), "/")
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("pair %q must look like BASE/QUOTE", pair)
	}
	return base, quote, nil
}

// Static serves fixed prices, used by the simulator and tests.
type Static struct {
	prices map[string]decimal.Decimal
	now    func() time.Time
}

// NewStatic builds a static source keyed by upper-case pair.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	normalized := make(map[string]decimal.Decimal, len(prices))
	for pair, price := range prices {
		normalized[strings.ToUpper(strings.TrimSpace(pair))] = price
	}
	return &Static{prices: normalized, now: time.Now}
}

// Name implements PriceSource.
func (s *Static) Name() string { return "static" }

// FetchPrice implements PriceSource.
func (s *Static) FetchPrice(_ context.Context, pair string) (Quote, error) {
	key := strings.ToUpper(strings.TrimSpace(pair))
	price, ok := s.prices[key]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return Quote{Pair: key, Price: price, ObservedAt: s.now().UTC(), Source: s.Name()}, nil
}

var _ PriceSource = (*Static)(nil)
