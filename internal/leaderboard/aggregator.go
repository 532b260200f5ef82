// Package leaderboard folds settlement outcomes into additive per-agent
// statistics: a lifetime row per agent plus daily and weekly buckets.
package leaderboard

import (
	"context"

	"github.com/rs/zerolog"

	"duel-settlement/internal/duel"
	"duel-settlement/internal/storage"
)

// Aggregator applies the stat deltas of a settled duel to every bucket.
// Updates are additive upserts, so replaying them for distinct duels is
// safe; settlement guarantees each duel is recorded at most once.
type Aggregator struct {
	stats  storage.StatStore
	logger zerolog.Logger
}

func New(stats storage.StatStore, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		stats:  stats,
		logger: logger.With().Str("component", "leaderboard").Logger(),
	}
}

// RecordSettlement updates lifetime, daily and weekly stats for both
// participants. Stat writes are best-effort: the duel is already settled
// and paid out, so a failed update is logged and skipped rather than
// unwinding the settlement.
func (a *Aggregator) RecordSettlement(ctx context.Context, d *duel.Duel) {
	if d.SettledAt == nil || d.Joiner == nil {
		a.logger.Error().Str("duel_id", d.ID.String()).Msg("settled duel missing settle time or joiner, skipping stats")
		return
	}

	daily := duel.DailyBucket(*d.SettledAt)
	weekly := duel.WeeklyBucket(*d.SettledAt)

	for _, agent := range []string{d.Creator, *d.Joiner} {
		delta := duel.SettlementDelta(d, agent)

		if err := a.stats.UpsertStat(ctx, agent, delta); err != nil {
			a.logger.Error().Err(err).Str("agent", agent).Str("duel_id", d.ID.String()).Msg("lifetime stat update failed")
		}
		if err := a.stats.UpsertPeriodBucket(ctx, duel.PeriodDaily, daily, agent, delta); err != nil {
			a.logger.Error().Err(err).Str("agent", agent).Str("bucket", daily).Msg("daily stat update failed")
		}
		if err := a.stats.UpsertPeriodBucket(ctx, duel.PeriodWeekly, weekly, agent, delta); err != nil {
			a.logger.Error().Err(err).Str("agent", agent).Str("bucket", weekly).Msg("weekly stat update failed")
		}
	}
}
