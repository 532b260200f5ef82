package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"duel-settlement/internal/chain"
	"duel-settlement/internal/duel"
	"duel-settlement/internal/lease"
	"duel-settlement/internal/pricing"
	"duel-settlement/internal/storage"
)

// fakeStore is an in-memory DuelStore with the same status-guarded
// update semantics as the Postgres implementation.
type fakeStore struct {
	mu    sync.Mutex
	duels map[uuid.UUID]*duel.Duel
}

func newFakeStore(duels ...*duel.Duel) *fakeStore {
	s := &fakeStore{duels: make(map[uuid.UUID]*duel.Duel)}
	for _, d := range duels {
		s.duels[d.ID] = d
	}
	return s
}

func (s *fakeStore) InsertDuel(_ context.Context, d *duel.Duel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duels[d.ID] = d
	return nil
}

func (s *fakeStore) GetDuel(_ context.Context, id uuid.UUID) (*duel.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.duels[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (s *fakeStore) GetDuelByOnChainID(_ context.Context, onChainID int64) (*duel.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.duels {
		if d.OnChainID != nil && *d.OnChainID == onChainID {
			copied := *d
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) ListDuels(_ context.Context, status duel.Status, limit int) ([]duel.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]duel.Duel, 0)
	for _, d := range s.duels {
		if d.Status == status && d.OnChainID != nil && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeStore) ListRecentDuels(_ context.Context, limit int) ([]duel.Duel, error) {
	return s.ListDuels(context.Background(), duel.StatusOpen, limit)
}

func (s *fakeStore) ListSettledByAgent(_ context.Context, agent string, limit int) ([]duel.Duel, error) {
	return nil, nil
}

func (s *fakeStore) ListExpiredOpen(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0)
	for id, d := range s.duels {
		if d.Status == duel.StatusOpen && d.OnChainID != nil && d.CreatedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkLive(_ context.Context, id uuid.UUID, joiner string, startPrice int64, startedAt, endsAt time.Time, joinTxHash *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.duels[id]
	if !ok || d.Status != duel.StatusOpen {
		return storage.ErrStaleState
	}
	d.Status = duel.StatusLive
	d.Joiner = &joiner
	d.StartPrice = &startPrice
	d.StartedAt = &startedAt
	d.EndsAt = &endsAt
	d.JoinTxHash = joinTxHash
	return nil
}

func (s *fakeStore) MarkSettled(_ context.Context, id uuid.UUID, endPrice int64, winner *string, payout, fee *big.Int, settleTxHash string, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.duels[id]
	if !ok || d.Status != duel.StatusLive {
		return storage.ErrStaleState
	}
	d.Status = duel.StatusSettled
	d.EndPrice = &endPrice
	d.Winner = winner
	d.Payout = payout
	d.Fee = fee
	d.SettleTxHash = &settleTxHash
	d.SettledAt = &settledAt
	return nil
}

func (s *fakeStore) MarkSettledExternal(_ context.Context, id uuid.UUID, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.duels[id]
	if !ok || d.Status != duel.StatusLive {
		return storage.ErrStaleState
	}
	d.Status = duel.StatusSettled
	d.SettledAt = &settledAt
	return nil
}

func (s *fakeStore) MarkCancelled(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.duels[id]
	if !ok || d.Status != duel.StatusOpen {
		return storage.ErrStaleState
	}
	d.Status = duel.StatusCancelled
	return nil
}

type fakePrices struct {
	price int64
}

func (f *fakePrices) GetPrice(_ context.Context, asset string) (pricing.Quote, error) {
	return pricing.Quote{Asset: asset, Price: f.price, FetchedAt: time.Now(), Source: "spot"}, nil
}

type fakeChain struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (f *fakeChain) SettleDuel(_ context.Context, onChainID, endPrice int64) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("0xtx%d", n), nil
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRecorder struct {
	mu      sync.Mutex
	settled []*duel.Duel
}

func (f *fakeRecorder) RecordSettlement(_ context.Context, d *duel.Duel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, d)
}

func liveBTCDuel(t *testing.T) *duel.Duel {
	t.Helper()
	chainID := int64(7)
	stake, _ := new(big.Int).SetString("10000000000000000", 10) // 1e16 wei
	startPrice := int64(5000000000000)                          // 50000.00000000
	startedAt := time.Now().UTC().Add(-2 * time.Minute)
	endsAt := startedAt.Add(time.Minute)
	return &duel.Duel{
		ID:               uuid.New(),
		OnChainID:        &chainID,
		Creator:          "0xCreator",
		CreatorDirection: duel.DirectionUp,
		Joiner:           strPtr("0xJoiner"),
		Asset:            "BTC",
		DurationSeconds:  60,
		Stake:            stake,
		Status:           duel.StatusLive,
		CreatedAt:        startedAt.Add(-time.Minute),
		StartedAt:        &startedAt,
		EndsAt:           &endsAt,
		StartPrice:       &startPrice,
	}
}

func strPtr(s string) *string { return &s }

func newCoordinator(store storage.DuelStore, prices PriceSource, ch chain.Oracle, rec Recorder) *Coordinator {
	return New(store, prices, ch, lease.NewMemoryLocker(), rec, nil, 10, zerolog.Nop())
}

func TestSettleHappyPath(t *testing.T) {
	d := liveBTCDuel(t)
	store := newFakeStore(d)
	ch := &fakeChain{}
	rec := &fakeRecorder{}
	coord := newCoordinator(store, &fakePrices{price: 5100000000000}, ch, rec)

	res, err := coord.Settle(context.Background(), d.ID, nil)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if res.Code != CodeSettled || !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Winner == nil || *res.Winner != "0xCreator" {
		t.Fatalf("creator bet up and price rose; winner = %v", res.Winner)
	}

	wantFee, _ := new(big.Int).SetString("2000000000000000", 10)
	wantPayout, _ := new(big.Int).SetString("18000000000000000", 10)
	if res.Fee.Cmp(wantFee) != 0 || res.Payout.Cmp(wantPayout) != 0 {
		t.Fatalf("fee=%s payout=%s, want %s/%s", res.Fee, res.Payout, wantFee, wantPayout)
	}

	stored, _ := store.GetDuel(context.Background(), d.ID)
	if stored.Status != duel.StatusSettled {
		t.Fatalf("stored status = %s", stored.Status)
	}
	if len(rec.settled) != 1 {
		t.Fatalf("aggregator should be invoked once, got %d", len(rec.settled))
	}
}

func TestSettleDraw(t *testing.T) {
	d := liveBTCDuel(t)
	store := newFakeStore(d)
	coord := newCoordinator(store, &fakePrices{price: *d.StartPrice}, &fakeChain{}, &fakeRecorder{})

	res, err := coord.Settle(context.Background(), d.ID, nil)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if res.Winner != nil {
		t.Fatalf("equal prices must be a draw, got %v", *res.Winner)
	}
	if res.Payout.Sign() != 0 || res.Fee.Sign() != 0 {
		t.Fatalf("draw must carry zero payout/fee, got %s/%s", res.Payout, res.Fee)
	}
}

func TestSettleIdempotent(t *testing.T) {
	d := liveBTCDuel(t)
	store := newFakeStore(d)
	ch := &fakeChain{}
	coord := newCoordinator(store, &fakePrices{price: 5100000000000}, ch, &fakeRecorder{})

	first, err := coord.Settle(context.Background(), d.ID, nil)
	if err != nil {
		t.Fatalf("first Settle failed: %v", err)
	}
	second, err := coord.Settle(context.Background(), d.ID, nil)
	if err != nil {
		t.Fatalf("second Settle failed: %v", err)
	}

	if second.Code != CodeAlreadySettled || !second.Success {
		t.Fatalf("second call should be idempotent success, got %+v", second)
	}
	if *second.Winner != *first.Winner || second.Payout.Cmp(first.Payout) != 0 {
		t.Fatal("repeat settle must return the stored winner and payout")
	}
	if ch.callCount() != 1 {
		t.Fatalf("repeat settle must not touch the chain, got %d calls", ch.callCount())
	}
}

func TestSettleConcurrent(t *testing.T) {
	d := liveBTCDuel(t)
	store := newFakeStore(d)
	ch := &fakeChain{delay: 20 * time.Millisecond}
	coord := newCoordinator(store, &fakePrices{price: 5100000000000}, ch, &fakeRecorder{})

	const n = 10
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := coord.Settle(context.Background(), d.ID, nil)
			if err != nil {
				t.Errorf("Settle %d failed: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	settled := 0
	for _, res := range results {
		switch res.Code {
		case CodeSettled:
			settled++
		case CodeConflict, CodeAlreadySettled:
		default:
			t.Fatalf("unexpected result code %s", res.Code)
		}
	}
	if settled != 1 {
		t.Fatalf("exactly one caller must perform the settlement, got %d", settled)
	}
	if ch.callCount() != 1 {
		t.Fatalf("exactly one on-chain call expected, got %d", ch.callCount())
	}
}

func TestSettleNotReady(t *testing.T) {
	d := liveBTCDuel(t)
	endsAt := time.Now().UTC().Add(time.Minute)
	d.EndsAt = &endsAt
	store := newFakeStore(d)
	ch := &fakeChain{}
	coord := newCoordinator(store, &fakePrices{price: 1}, ch, &fakeRecorder{})

	res, err := coord.Settle(context.Background(), d.ID, nil)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if res.Code != CodeNotReady || res.Success {
		t.Fatalf("expected not_ready, got %+v", res)
	}
	if ch.callCount() != 0 {
		t.Fatal("not-ready duel must not reach the chain")
	}
}

func TestSettleWrongState(t *testing.T) {
	d := liveBTCDuel(t)
	d.Status = duel.StatusOpen
	store := newFakeStore(d)
	coord := newCoordinator(store, &fakePrices{price: 1}, &fakeChain{}, &fakeRecorder{})

	res, err := coord.Settle(context.Background(), d.ID, nil)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if res.Code != CodeInvalid {
		t.Fatalf("open duel must be invalid to settle, got %s", res.Code)
	}
}

func TestSettleNotFound(t *testing.T) {
	coord := newCoordinator(newFakeStore(), &fakePrices{price: 1}, &fakeChain{}, &fakeRecorder{})
	res, err := coord.Settle(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if res.Code != CodeNotFound {
		t.Fatalf("expected not_found, got %s", res.Code)
	}
}

func TestSettleChainAlreadySettled(t *testing.T) {
	d := liveBTCDuel(t)
	store := newFakeStore(d)
	ch := &fakeChain{err: fmt.Errorf("wrapped: %w", chain.ErrAlreadySettled)}
	coord := newCoordinator(store, &fakePrices{price: 5100000000000}, ch, &fakeRecorder{})

	res, err := coord.Settle(context.Background(), d.ID, nil)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if res.Code != CodeAlreadySettled || !res.Success {
		t.Fatalf("already-settled revert must map to success, got %+v", res)
	}

	stored, _ := store.GetDuel(context.Background(), d.ID)
	if stored.Status != duel.StatusSettled {
		t.Fatalf("local state must sync to settled, got %s", stored.Status)
	}
}

func TestSettleChainErrorIsRetryable(t *testing.T) {
	d := liveBTCDuel(t)
	store := newFakeStore(d)
	ch := &fakeChain{err: errors.New("rpc: connection reset")}
	coord := newCoordinator(store, &fakePrices{price: 5100000000000}, ch, &fakeRecorder{})

	res, err := coord.Settle(context.Background(), d.ID, nil)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if res.Code != CodeChainError || res.Success {
		t.Fatalf("expected chain_error, got %+v", res)
	}

	stored, _ := store.GetDuel(context.Background(), d.ID)
	if stored.Status != duel.StatusLive {
		t.Fatalf("failed settlement must leave the duel live, got %s", stored.Status)
	}

	// The chain recovers; the retry succeeds.
	ch.err = nil
	res, err = coord.Settle(context.Background(), d.ID, nil)
	if err != nil || res.Code != CodeSettled {
		t.Fatalf("retry after chain recovery should settle, got %+v err=%v", res, err)
	}
}

func TestJoinCapturesStartPrice(t *testing.T) {
	d := liveBTCDuel(t)
	d.Status = duel.StatusOpen
	d.Joiner = nil
	d.StartPrice = nil
	d.StartedAt = nil
	d.EndsAt = nil
	store := newFakeStore(d)
	coord := newCoordinator(store, &fakePrices{price: 4242 * duel.PriceScale}, &fakeChain{}, &fakeRecorder{})

	joined, err := coord.Join(context.Background(), d.ID, "0xJoiner", strPtr("0xjointx"))
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if joined.Status != duel.StatusLive {
		t.Fatalf("status = %s", joined.Status)
	}
	if joined.StartPrice == nil || *joined.StartPrice != 4242*duel.PriceScale {
		t.Fatal("start price not captured from oracle")
	}

	if _, err := coord.Join(context.Background(), d.ID, "0xOther", nil); err == nil {
		t.Fatal("joining a live duel must fail")
	}
}

func TestCancelOnlyCreator(t *testing.T) {
	d := liveBTCDuel(t)
	d.Status = duel.StatusOpen
	d.Joiner = nil
	store := newFakeStore(d)
	coord := newCoordinator(store, &fakePrices{price: 1}, &fakeChain{}, &fakeRecorder{})

	if _, err := coord.Cancel(context.Background(), d.ID, "0xJoiner"); err == nil {
		t.Fatal("non-creator cancel must fail")
	}

	cancelled, err := coord.Cancel(context.Background(), d.ID, "0xCreator")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != duel.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
}
