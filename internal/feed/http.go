package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPOptions parameterise the JSON HTTP source.
// maxResponseBytes caps how much of a price response is read.
const maxResponseBytes = 1 << 20

type HTTPOptions struct {
	// URLTemplate may contain {base}, {quote} and {pair} placeholders.
	URLTemplate string
	// PricePath is a dot separated path to the price field, e.g. "data.amount".
	PricePath string
	Timeout   time.Duration
	UserAgent string
}

// HTTP polls a JSON price endpoint.
type HTTP struct {
	opts   HTTPOptions
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time
}

// NewHTTP constructs an HTTP source.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTP{
		opts:   opts,
		logger: logger.With().Str("component", "http_feed").Logger(),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Name implements PriceSource.
func (h *HTTP) Name() string { return "http" }

// FetchPrice implements PriceSource.
func (h *HTTP) FetchPrice(ctx context.Context, pair string) (Quote, error) {
	if h.opts.URLTemplate == "" {
		return Quote{}, errors.New("price url template not configured")
	}
	base, quote, err := SplitPair(pair)
	if err != nil {
		return Quote{}, err
	}

	endpoint := strings.NewReplacer(
		"{base}", base,
		"{quote}", quote,
		"{pair}", base+"-"+quote,
	).Replace(h.opts.URLTemplate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "keenoracle/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Quote{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, parseHTTPError(resp.StatusCode, payload)
	}

	price, err := extractPrice(payload, h.opts.PricePath)
	if err != nil {
		return Quote{}, err
	}
	if !price.IsPositive() {
		return Quote{}, fmt.Errorf("price endpoint returned non-positive price %s", price.String())
	}

	return Quote{
		Pair:       base + "/" + quote,
		Price:      price,
		ObservedAt: h.now().UTC(),
		Source:     h.Name(),
	}, nil
}

func extractPrice(payload []byte, path string) (decimal.Decimal, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode price response: %w", err)
	}

	current := doc
	if path != "" {
		for _, segment := range strings.Split(path, ".") {
			obj, ok := current.(map[string]any)
			if !ok {
				return decimal.Decimal{}, fmt.Errorf("price path %q: %q is not an object", path, segment)
			}
			current, ok = obj[segment]
			if !ok {
				return decimal.Decimal{}, fmt.Errorf("price path %q: missing %q", path, segment)
			}
		}
	}

	switch v := current.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		price, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("parse price: %w", err)
		}
		return price, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("price path %q: unexpected value %v", path, v)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Errors  []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"errors"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Error)
		}
		if len(apiErr.Errors) > 0 && apiErr.Errors[0].Message != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Errors[0].Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("price api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("price api error (%d)", status)
}

var _ PriceSource = (*HTTP)(nil)
