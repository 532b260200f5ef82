package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"duel-settlement/internal/alerting"
	"duel-settlement/internal/chain"
	"duel-settlement/internal/config"
	"duel-settlement/internal/httpapi"
	"duel-settlement/internal/leaderboard"
	"duel-settlement/internal/lease"
	"duel-settlement/internal/pricing"
	"duel-settlement/internal/reaper"
	"duel-settlement/internal/settlement"
	"duel-settlement/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newPriceOracle(notifier alerting.Notifier) *pricing.Oracle {
	cfg := a.Config.Pricing

	providers := []pricing.Provider{
		pricing.NewSpot(pricing.SpotOptions{
			BaseURL: cfg.Spot.BaseURL,
			Timeout: cfg.ProviderTimeout,
		}, a.Logger),
		pricing.NewExchange(pricing.ExchangeOptions{
			BaseURL: cfg.Exchange.BaseURL,
			Timeout: cfg.ProviderTimeout,
		}, a.Logger),
		pricing.NewAggregator(pricing.AggregatorOptions{
			BaseURL: cfg.Aggregator.BaseURL,
			Timeout: cfg.ProviderTimeout,
		}, a.Logger),
	}

	return pricing.NewOracle(providers, pricing.OracleOptions{
		CacheTTL:        cfg.CacheTTL,
		ProviderTimeout: cfg.ProviderTimeout,
	}, notifier, a.Logger)
}

func (a *App) newChainOracle() chain.Oracle {
	cfg := a.Config.Chain
	return chain.NewClient(chain.Options{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		OraclePrivKey:   cfg.OraclePrivKey,
		ChainID:         cfg.ChainID,
		SettleTimeout:   cfg.SettleTimeout,
	}, a.Logger)
}

// newLocker builds the settlement lease backend. The returned closer is
// nil for the in-process backend.
func (a *App) newLocker(ctx context.Context) (lease.Locker, func(), error) {
	switch a.Config.Settlement.LockBackend {
	case "redis":
		opts, err := redis.ParseURL(a.Config.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}

		locker := lease.NewRedisLocker(client, 2*time.Minute, a.Logger)
		return locker, func() { client.Close() }, nil
	default:
		return lease.NewMemoryLocker(), nil, nil
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newCoordinator(store *storage.Store, prices *pricing.Oracle, locker lease.Locker, notifier alerting.Notifier) *settlement.Coordinator {
	aggregator := leaderboard.New(store, a.Logger)
	return settlement.New(
		store,
		prices,
		a.newChainOracle(),
		locker,
		aggregator,
		notifier,
		a.Config.Settlement.FeePercent,
		a.Logger,
	)
}

// Run starts the settlement engine: HTTP API plus the expiry reaper.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the engine cannot run without persistence")
	}
	defer closeStore()

	locker, closeLocker, err := a.newLocker(ctx)
	if err != nil {
		return err
	}
	if closeLocker != nil {
		defer closeLocker()
	}

	notifier := a.newNotifier()
	prices := a.newPriceOracle(notifier)
	coordinator := a.newCoordinator(store, prices, locker, notifier)

	sweep := reaper.New(store, reaper.Options{
		Interval: a.Config.Reaper.Interval,
		Expiry:   a.Config.Reaper.Expiry,
	}, a.Logger)

	server := httpapi.NewServer(store, store, coordinator, prices, httpapi.Options{
		ListenAddr:     a.Config.Server.ListenAddr,
		RequestTimeout: a.Config.Server.RequestTimeout,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
	}, a.Logger)

	reaperDone := make(chan error, 1)
	go func() {
		reaperDone <- sweep.Run(ctx)
	}()

	a.Logger.Info().Str("lock_backend", a.Config.Settlement.LockBackend).Msg("starting settlement engine")

	err = server.ListenAndServe(ctx)

	// The reaper stops with the shared context. Cancel it explicitly so
	// a server startup failure (port taken, bad address) does not leave
	// the reaper running and this wait blocked forever.
	cancel()
	if reaperErr := <-reaperDone; reaperErr != nil && !errors.Is(reaperErr, context.Canceled) {
		a.Logger.Error().Err(reaperErr).Msg("reaper terminated with error")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("settlement engine stopped")
	return nil
}

// SettleOptions configure a one-off settlement from the CLI.
type SettleOptions struct {
	DuelID string
}

// PriceOptions configure a one-off price lookup.
type PriceOptions struct {
	Asset string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting an agent's PnL history.
type ExportOptions struct {
	Agent     string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
