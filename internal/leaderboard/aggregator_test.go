package leaderboard

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"duel-settlement/internal/duel"
)

// fakeStatStore accumulates deltas in memory the way the SQL upserts do.
type fakeStatStore struct {
	lifetime map[string]*duel.StatDelta
	buckets  map[string]*duel.StatDelta // keyed period|bucket|agent
	failAll  bool
}

func newFakeStatStore() *fakeStatStore {
	return &fakeStatStore{
		lifetime: make(map[string]*duel.StatDelta),
		buckets:  make(map[string]*duel.StatDelta),
	}
}

func add(m map[string]*duel.StatDelta, key string, delta duel.StatDelta) {
	cur, ok := m[key]
	if !ok {
		cur = &duel.StatDelta{Volume: new(big.Int), PnL: new(big.Int)}
		m[key] = cur
	}
	cur.Wins += delta.Wins
	cur.Losses += delta.Losses
	cur.Draws += delta.Draws
	cur.Volume.Add(cur.Volume, delta.Volume)
	cur.PnL.Add(cur.PnL, delta.PnL)
}

func (f *fakeStatStore) UpsertStat(_ context.Context, agent string, delta duel.StatDelta) error {
	if f.failAll {
		return context.DeadlineExceeded
	}
	add(f.lifetime, agent, delta)
	return nil
}

func (f *fakeStatStore) UpsertPeriodBucket(_ context.Context, period, bucketKey, agent string, delta duel.StatDelta) error {
	if f.failAll {
		return context.DeadlineExceeded
	}
	add(f.buckets, period+"|"+bucketKey+"|"+agent, delta)
	return nil
}

func (f *fakeStatStore) GetStat(_ context.Context, agent string) (*duel.DuelStat, error) {
	return nil, nil
}

func (f *fakeStatStore) ListTopStats(_ context.Context, limit int) ([]duel.DuelStat, error) {
	return nil, nil
}

func (f *fakeStatStore) ListLeaderboard(_ context.Context, period, bucketKey string, limit int) ([]duel.LeaderboardEntry, error) {
	return nil, nil
}

func settledDuel(winner *string, settledAt time.Time) *duel.Duel {
	stake := big.NewInt(1_000_000)
	payout := big.NewInt(1_800_000)
	fee := big.NewInt(200_000)
	if winner == nil {
		payout = new(big.Int)
		fee = new(big.Int)
	}
	joiner := "0xJoiner"
	return &duel.Duel{
		ID:        uuid.New(),
		Creator:   "0xCreator",
		Joiner:    &joiner,
		Asset:     "BTC",
		Stake:     stake,
		Status:    duel.StatusSettled,
		Winner:    winner,
		Payout:    payout,
		Fee:       fee,
		SettledAt: &settledAt,
	}
}

func TestRecordSettlementUpdatesAllBuckets(t *testing.T) {
	store := newFakeStatStore()
	agg := New(store, zerolog.Nop())
	winner := "0xCreator"
	settledAt := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) // Wednesday

	agg.RecordSettlement(context.Background(), settledDuel(&winner, settledAt))

	creator := store.lifetime["0xCreator"]
	if creator == nil || creator.Wins != 1 || creator.Losses != 0 {
		t.Fatalf("creator lifetime = %+v", creator)
	}
	if creator.PnL.Cmp(big.NewInt(800_000)) != 0 {
		t.Fatalf("creator PnL = %s, want payout-stake", creator.PnL)
	}

	joiner := store.lifetime["0xJoiner"]
	if joiner == nil || joiner.Losses != 1 {
		t.Fatalf("joiner lifetime = %+v", joiner)
	}
	if joiner.PnL.Cmp(big.NewInt(-1_000_000)) != 0 {
		t.Fatalf("joiner PnL = %s, want -stake", joiner.PnL)
	}

	if store.buckets["daily|2026-08-26|0xCreator"] == nil {
		t.Fatal("daily bucket missing")
	}
	if store.buckets["weekly|2026-08-24|0xCreator"] == nil {
		t.Fatal("weekly bucket must key on the Monday of the week")
	}
}

func TestRecordSettlementSumsSameDay(t *testing.T) {
	store := newFakeStatStore()
	agg := New(store, zerolog.Nop())
	winner := "0xCreator"
	settledAt := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	agg.RecordSettlement(context.Background(), settledDuel(&winner, settledAt))
	agg.RecordSettlement(context.Background(), settledDuel(&winner, settledAt.Add(2*time.Hour)))

	daily := store.buckets["daily|2026-08-26|0xCreator"]
	if daily.Wins != 2 {
		t.Fatalf("daily wins = %d, want 2", daily.Wins)
	}
	if daily.Volume.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("daily volume = %s, want summed stakes", daily.Volume)
	}
	if store.lifetime["0xCreator"].PnL.Cmp(big.NewInt(1_600_000)) != 0 {
		t.Fatalf("lifetime PnL = %s", store.lifetime["0xCreator"].PnL)
	}
}

func TestRecordSettlementDraw(t *testing.T) {
	store := newFakeStatStore()
	agg := New(store, zerolog.Nop())
	settledAt := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	agg.RecordSettlement(context.Background(), settledDuel(nil, settledAt))

	for _, agent := range []string{"0xCreator", "0xJoiner"} {
		stat := store.lifetime[agent]
		if stat.Draws != 1 || stat.Wins != 0 || stat.Losses != 0 {
			t.Fatalf("%s lifetime = %+v", agent, stat)
		}
		if stat.PnL.Sign() != 0 {
			t.Fatalf("%s draw PnL must be zero, got %s", agent, stat.PnL)
		}
	}
}

func TestRecordSettlementSwallowsStoreErrors(t *testing.T) {
	store := newFakeStatStore()
	store.failAll = true
	agg := New(store, zerolog.Nop())
	winner := "0xCreator"
	settledAt := time.Now().UTC()

	// Must not panic or propagate: the duel is already paid out.
	agg.RecordSettlement(context.Background(), settledDuel(&winner, settledAt))
}
