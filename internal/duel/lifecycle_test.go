package duel

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openDuel() *Duel {
	chainID := int64(42)
	return &Duel{
		ID:               uuid.New(),
		OnChainID:        &chainID,
		Creator:          "0xCreator",
		CreatorDirection: DirectionUp,
		Asset:            "BTC",
		DurationSeconds:  60,
		Stake:            big.NewInt(1_000_000),
		Status:           StatusOpen,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestJoinHappyPath(t *testing.T) {
	d := openDuel()
	now := time.Now().UTC()

	if err := d.Join("0xJoiner", 5000000000000, now); err != nil {
		t.Fatalf("join should succeed: %v", err)
	}
	if d.Status != StatusLive {
		t.Fatalf("expected live, got %s", d.Status)
	}
	if d.StartPrice == nil || *d.StartPrice != 5000000000000 {
		t.Fatal("start price not captured")
	}
	if d.EndsAt == nil || !d.EndsAt.Equal(now.Add(60*time.Second)) {
		t.Fatal("end timestamp should be start + duration")
	}
	if d.JoinerDirection() != DirectionDown {
		t.Fatal("joiner direction must be the complement of the creator's")
	}
}

func TestJoinGuards(t *testing.T) {
	d := openDuel()
	if err := d.CanJoin("0xCreator"); err == nil {
		t.Fatal("creator must not join own duel")
	}

	d = openDuel()
	d.OnChainID = nil
	if err := d.CanJoin("0xJoiner"); err == nil {
		t.Fatal("duel without on-chain id must not be joinable")
	}

	d = openDuel()
	d.Status = StatusLive
	var invalid *InvalidTransitionError
	if err := d.CanJoin("0xJoiner"); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	} else if invalid.From != StatusLive || invalid.Event != EventJoin {
		t.Fatalf("error should identify state and event: %v", invalid)
	}
}

func TestCancelGuards(t *testing.T) {
	d := openDuel()
	if err := d.CanCancel("0xSomeoneElse"); err == nil {
		t.Fatal("only the creator may cancel")
	}
	if err := d.CanCancel("0xcreator"); err != nil {
		t.Fatalf("address comparison should be case-insensitive: %v", err)
	}

	joiner := "0xJoiner"
	d.Joiner = &joiner
	if err := d.CanCancel("0xCreator"); err == nil {
		t.Fatal("cancel must be rejected once a joiner exists")
	}
}

func TestExpireGuards(t *testing.T) {
	now := time.Now().UTC()
	window := 5 * time.Minute

	d := openDuel()
	d.CreatedAt = now.Add(-6 * time.Minute)
	if err := d.CanExpire(now, window); err != nil {
		t.Fatalf("6-minute-old open duel should expire: %v", err)
	}

	d = openDuel()
	d.CreatedAt = now.Add(-1 * time.Minute)
	if err := d.CanExpire(now, window); err == nil {
		t.Fatal("fresh duel must not expire")
	}

	// A duel that was joined is no longer open and never expires.
	d = openDuel()
	d.CreatedAt = now.Add(-6 * time.Minute)
	if err := d.Join("0xJoiner", 100*PriceScale, now.Add(-1*time.Minute)); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := d.CanExpire(now, window); err == nil {
		t.Fatal("live duel must be untouched by expiry")
	}
}

func TestSettleGuards(t *testing.T) {
	now := time.Now().UTC()

	d := openDuel()
	if err := d.CanSettle(now); err == nil {
		t.Fatal("open duel must not settle")
	}

	if err := d.Join("0xJoiner", 100*PriceScale, now); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := d.CanSettle(now.Add(30 * time.Second)); !errors.Is(err, ErrNotReady) {
		t.Fatalf("settle before end must report not ready, got %v", err)
	}
	if err := d.CanSettle(now.Add(60 * time.Second)); err != nil {
		t.Fatalf("settle at end should pass: %v", err)
	}
}

func TestStatusNeverMovesBackward(t *testing.T) {
	now := time.Now().UTC()
	for _, s := range []Status{StatusSettled, StatusCancelled} {
		d := openDuel()
		d.Status = s
		if err := d.CanJoin("0xJoiner"); err == nil {
			t.Fatalf("join allowed from terminal state %s", s)
		}
		if err := d.CanCancel("0xCreator"); err == nil {
			t.Fatalf("cancel allowed from terminal state %s", s)
		}
		if err := d.CanExpire(now, 0); err == nil {
			t.Fatalf("expire allowed from terminal state %s", s)
		}
		if err := d.CanSettle(now); err == nil {
			t.Fatalf("settle allowed from terminal state %s", s)
		}
	}
}
