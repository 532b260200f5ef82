package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"duel-settlement/internal/alerting"
)

// Source values for degraded quotes.
const (
	SourceCache  = "cache"
	SourceStatic = "static"
)

// staticFallbacks are last-resort 1e8-scaled prices, returned only when
// every provider and the cache are unavailable simultaneously. The set of
// keys also defines which assets the oracle supports.
var staticFallbacks = map[string]int64{
	"BTC": 60_000_00000000,
	"ETH": 3_000_00000000,
	"SOL": 150_00000000,
	"BNB": 600_00000000,
}

// Quote is a resolved price with provenance. Callers use Stale/Degraded
// to decide whether to trust it or retry later.
type Quote struct {
	Asset     string    `json:"asset"`
	Price     int64     `json:"price"`
	FetchedAt time.Time `json:"fetchedAt"`
	Source    string    `json:"source"`
	Stale     bool      `json:"stale"`
	Degraded  bool      `json:"degraded"`
}

// OracleOptions tune caching and per-provider timeouts.
type OracleOptions struct {
	CacheTTL        time.Duration
	ProviderTimeout time.Duration
}

// Oracle resolves USD prices by trying providers strictly in priority
// order, with a short-lived cache in front to respect upstream rate
// limits. GetPrice degrades (stale cache, then static constant) rather
// than fail: price unavailability must never stall a settlement.
type Oracle struct {
	providers []Provider
	opts      OracleOptions
	notifier  alerting.Notifier
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]Quote
}

// NewOracle constructs the oracle over an ordered provider list.
func NewOracle(providers []Provider, opts OracleOptions, notifier alerting.Notifier, logger zerolog.Logger) *Oracle {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Second
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 5 * time.Second
	}
	return &Oracle{
		providers: providers,
		opts:      opts,
		notifier:  notifier,
		logger:    logger.With().Str("component", "price_oracle").Logger(),
		now:       time.Now,
		cache:     make(map[string]Quote),
	}
}

// Supported reports whether the oracle tracks the asset.
func Supported(asset string) bool {
	_, ok := staticFallbacks[strings.ToUpper(asset)]
	return ok
}

// GetPrice resolves a quote for the asset. Total latency is bounded by
// len(providers) * ProviderTimeout. The only error it returns is
// ErrUnsupportedAsset; every availability failure degrades instead.
func (o *Oracle) GetPrice(ctx context.Context, asset string) (Quote, error) {
	asset = strings.ToUpper(asset)
	if !Supported(asset) {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	if quote, ok := o.cachedFresh(asset); ok {
		return quote, nil
	}

	for _, provider := range o.providers {
		price, err := o.fetchOne(ctx, provider, asset)
		if err != nil {
			// Provider declined; fall through, never retry the same one.
			o.logger.Warn().Err(err).Str("asset", asset).Str("provider", provider.Name()).Msg("price provider failed")
			continue
		}

		quote := Quote{
			Asset:     asset,
			Price:     price,
			FetchedAt: o.now().UTC(),
			Source:    provider.Name(),
		}
		o.storeCache(asset, quote)
		return quote, nil
	}

	if quote, ok := o.cachedAny(asset); ok {
		quote.Stale = true
		quote.Source = SourceCache
		o.logger.Warn().Str("asset", asset).Int64("price", quote.Price).Msg("all providers failed; serving stale cached price")
		return quote, nil
	}

	// No provider and no cache. Static constant keeps settlement moving,
	// but this state is an operational alarm.
	quote := Quote{
		Asset:     asset,
		Price:     staticFallbacks[asset],
		FetchedAt: o.now().UTC(),
		Source:    SourceStatic,
		Stale:     true,
		Degraded:  true,
	}
	o.logger.Error().Str("asset", asset).Int64("price", quote.Price).Msg("all providers and cache unavailable; serving static fallback price")
	o.alarm(ctx, asset)
	return quote, nil
}

func (o *Oracle) fetchOne(ctx context.Context, provider Provider, asset string) (int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
	defer cancel()
	return provider.FetchPrice(attemptCtx, asset)
}

func (o *Oracle) cachedFresh(asset string) (Quote, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	quote, ok := o.cache[asset]
	if !ok || o.now().Sub(quote.FetchedAt) > o.opts.CacheTTL {
		return Quote{}, false
	}
	return quote, true
}

func (o *Oracle) cachedAny(asset string) (Quote, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	quote, ok := o.cache[asset]
	return quote, ok
}

func (o *Oracle) storeCache(asset string, quote Quote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache[asset] = quote
}

func (o *Oracle) alarm(ctx context.Context, asset string) {
	if o.notifier == nil {
		return
	}
	note := alerting.Notification{
		Kind:    alerting.KindPriceDegraded,
		Asset:   asset,
		Message: "all price providers and cache unavailable; static fallback in use",
		At:      o.now().UTC(),
	}
	if err := o.notifier.Notify(ctx, note); err != nil {
		o.logger.Error().Err(err).Msg("failed to dispatch price alarm")
	}
}
