package duel

import (
	"math/big"
	"time"
)

// Leaderboard period buckets.
const (
	PeriodLifetime = "lifetime"
	PeriodDaily    = "daily"
	PeriodWeekly   = "weekly"
)

// DuelStat is the cumulative per-agent record. Rows are created lazily on
// first settlement and only ever updated by addition.
type DuelStat struct {
	Agent     string
	Wins      int64
	Losses    int64
	Draws     int64
	Volume    *big.Int // total wei staked across settled duels
	PnL       *big.Int // signed net wei
	UpdatedAt time.Time
}

// LeaderboardEntry is a DuelStat keyed by (period, bucket): a calendar
// day or the Monday of an ISO week.
type LeaderboardEntry struct {
	Period    string
	BucketKey string
	DuelStat
}

// StatDelta is one settlement's additive contribution to an agent's
// accumulators.
type StatDelta struct {
	Wins   int64
	Losses int64
	Draws  int64
	Volume *big.Int
	PnL    *big.Int
}

// SettlementDelta derives the delta for one participant of a settled
// duel. Winners gain payout minus stake, losers lose their stake, and draws
// move no money (refunds happen on-chain).
func SettlementDelta(d *Duel, agent string) StatDelta {
	delta := StatDelta{
		Volume: new(big.Int).Set(d.Stake),
		PnL:    new(big.Int),
	}

	switch {
	case d.Winner == nil:
		delta.Draws = 1
	case *d.Winner == agent:
		delta.Wins = 1
		delta.PnL.Sub(d.Payout, d.Stake)
	default:
		delta.Losses = 1
		delta.PnL.Neg(d.Stake)
	}

	return delta
}

// DailyBucket formats t's UTC calendar day as YYYY-MM-DD.
func DailyBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// WeeklyBucket formats the Monday of t's UTC week as YYYY-MM-DD.
func WeeklyBucket(t time.Time) string {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7 // days since Monday
	monday := t.AddDate(0, 0, -offset)
	return monday.Format("2006-01-02")
}
