package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Provider retrieves a spot USD price for one asset from one upstream API.
// Implementations return the price as a 1e8-scaled fixed-point integer,
// the same scale duel records use.
type Provider interface {
	Name() string
	FetchPrice(ctx context.Context, asset string) (int64, error)
}

// ErrUnsupportedAsset rejects price requests for assets the oracle does
// not track. Bad input, never retried.
var ErrUnsupportedAsset = errors.New("unsupported asset")

// parsePrice converts a positive decimal USD string to the fixed-point
// representation: floor(price * 1e8).
func parsePrice(raw string) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if value.Sign() <= 0 {
		return 0, fmt.Errorf("non-positive price %q", raw)
	}
	return value.Shift(8).IntPart(), nil
}

// parsePriceFloat handles providers that return JSON numbers.
func parsePriceFloat(value float64) (int64, error) {
	if value <= 0 {
		return 0, fmt.Errorf("non-positive price %f", value)
	}
	return decimal.NewFromFloat(value).Shift(8).IntPart(), nil
}
