package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ExchangeOptions parameterise the exchange ticker provider.
type ExchangeOptions struct {
	BaseURL string
	Timeout time.Duration
}

// Exchange fetches last-trade prices from a Binance-style ticker endpoint.
// Second in the fallback chain.
type Exchange struct {
	opts    ExchangeOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewExchange constructs the exchange provider.
func NewExchange(opts ExchangeOptions, logger zerolog.Logger) *Exchange {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &Exchange{
		opts:    opts,
		logger:  logger.With().Str("component", "price_exchange").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies this provider in quote provenance.
func (e *Exchange) Name() string { return "exchange" }

// FetchPrice retrieves the USDT ticker price for the asset symbol.
func (e *Exchange) FetchPrice(ctx context.Context, asset string) (int64, error) {
	endpoint := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%sUSDT", e.baseURL, strings.ToUpper(asset))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, providerHTTPError(e.Name(), resp.StatusCode, payload)
	}

	var body struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, err
	}
	if body.Price == "" {
		return 0, fmt.Errorf("ticker response missing price")
	}

	return parsePrice(body.Price)
}

var _ Provider = (*Exchange)(nil)
