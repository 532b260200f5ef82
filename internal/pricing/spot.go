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

// SpotOptions parameterise the low-latency spot-price provider.
type SpotOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Spot fetches prices from a Coinbase-style spot endpoint. It is the
// first provider in the fallback chain.
type Spot struct {
	opts    SpotOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewSpot constructs the spot provider.
func NewSpot(opts SpotOptions, logger zerolog.Logger) *Spot {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coinbase.com"
	}

	return &Spot{
		opts:    opts,
		logger:  logger.With().Str("component", "price_spot").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies this provider in quote provenance.
func (s *Spot) Name() string { return "spot" }

// FetchPrice retrieves the USD spot price for the asset symbol.
func (s *Spot) FetchPrice(ctx context.Context, asset string) (int64, error) {
	endpoint := fmt.Sprintf("%s/v2/prices/%s-USD/spot", s.baseURL, strings.ToUpper(asset))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, providerHTTPError(s.Name(), resp.StatusCode, payload)
	}

	var body struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return 0, err
	}
	if body.Data.Amount == "" {
		return 0, fmt.Errorf("spot response missing amount")
	}

	return parsePrice(body.Data.Amount)
}

func providerHTTPError(name string, status int, payload []byte) error {
	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	if trimmed != "" {
		return fmt.Errorf("%s api error (%d): %s", name, status, trimmed)
	}
	return fmt.Errorf("%s api error (%d)", name, status)
}

var _ Provider = (*Spot)(nil)
