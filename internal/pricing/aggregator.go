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

// aggregatorIDs maps asset symbols to the aggregator's coin identifiers.
var aggregatorIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"BNB": "binancecoin",
}

// AggregatorOptions parameterise the broad-coverage aggregator provider.
type AggregatorOptions struct {
	BaseURL string
	Timeout time.Duration
	APIKey  string
}

// Aggregator fetches prices from a CoinGecko-style simple-price endpoint.
// Last in the fallback chain; broadest coverage, slowest free tier.
type Aggregator struct {
	opts    AggregatorOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewAggregator constructs the aggregator provider.
func NewAggregator(opts AggregatorOptions, logger zerolog.Logger) *Aggregator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}

	return &Aggregator{
		opts:    opts,
		logger:  logger.With().Str("component", "price_aggregator").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies this provider in quote provenance.
func (a *Aggregator) Name() string { return "aggregator" }

// FetchPrice retrieves the USD price for the asset symbol.
func (a *Aggregator) FetchPrice(ctx context.Context, asset string) (int64, error) {
	coinID, ok := aggregatorIDs[strings.ToUpper(asset)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	endpoint := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd", a.baseURL, coinID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if a.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", a.opts.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, providerHTTPError(a.Name(), resp.StatusCode, payload)
	}

	var body map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, err
	}
	entry, ok := body[coinID]
	if !ok {
		return 0, fmt.Errorf("aggregator response missing %s", coinID)
	}

	return parsePriceFloat(entry.USD)
}

var _ Provider = (*Aggregator)(nil)
