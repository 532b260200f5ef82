// Package reaper cancels open duels nobody joined within the expiry
// window, keeping the open-duel listing free of abandoned challenges.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"duel-settlement/internal/storage"
)

// Options tune the sweep cadence.
type Options struct {
	Interval   time.Duration // time between sweeps
	Expiry     time.Duration // open age after which a duel is abandoned
	BatchLimit int           // max duels cancelled per sweep
}

// Reaper periodically sweeps expired open duels. Only duels still in
// the open state are touched; a duel joined between listing and cancel
// survives because the cancel update is guarded by status.
type Reaper struct {
	store  storage.DuelStore
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

func New(store storage.DuelStore, opts Options, logger zerolog.Logger) *Reaper {
	if opts.Interval <= 0 {
		panic("reaper interval must be positive")
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 100
	}
	return &Reaper{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "reaper").Logger(),
		now:    time.Now,
	}
}

// Run blocks, sweeping at every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.logger.Info().
		Dur("interval", r.opts.Interval).
		Dur("expiry", r.opts.Expiry).
		Msg("reaper started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				r.logger.Error().Err(err).Msg("sweep failed")
			} else if n > 0 {
				r.logger.Info().Int("cancelled", n).Msg("expired duels cancelled")
			}
		}
	}
}

// Sweep cancels every open duel older than the expiry window and
// reports how many it cancelled. A duel that left the open state since
// listing is skipped, not an error.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.opts.Expiry)

	ids, err := r.store.ListExpiredOpen(ctx, cutoff, r.opts.BatchLimit)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range ids {
		err := r.store.MarkCancelled(ctx, id)
		switch {
		case err == nil:
			cancelled++
			r.logger.Debug().Str("duel_id", id.String()).Msg("cancelled expired duel")
		case errors.Is(err, storage.ErrStaleState):
			// Joined or cancelled since we listed it.
		default:
			r.logger.Error().Err(err).Str("duel_id", id.String()).Msg("cancel failed")
		}
	}
	return cancelled, nil
}
