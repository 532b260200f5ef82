package duel

import (
	"math/big"
	"testing"
	"time"
)

func settledDuel(winner *string) *Duel {
	stake, _ := new(big.Int).SetString("10000000000000000", 10)
	payout, fee := SplitPot(stake, 10)
	d := liveDuel(DirectionUp, 5000000000000)
	d.Stake = stake
	d.Status = StatusSettled
	d.Winner = winner
	if winner == nil {
		d.Payout = new(big.Int)
		d.Fee = new(big.Int)
	} else {
		d.Payout = payout
		d.Fee = fee
	}
	return d
}

func TestSettlementDeltaWinner(t *testing.T) {
	winner := "0xCreator"
	d := settledDuel(&winner)

	delta := SettlementDelta(d, "0xCreator")
	if delta.Wins != 1 || delta.Losses != 0 || delta.Draws != 0 {
		t.Fatalf("winner delta wrong: %+v", delta)
	}
	wantPnL, _ := new(big.Int).SetString("8000000000000000", 10) // payout - stake
	if delta.PnL.Cmp(wantPnL) != 0 {
		t.Fatalf("winner PnL = %s, want %s", delta.PnL, wantPnL)
	}
	if delta.Volume.Cmp(d.Stake) != 0 {
		t.Fatalf("volume must equal stake, got %s", delta.Volume)
	}
}

func TestSettlementDeltaLoser(t *testing.T) {
	winner := "0xCreator"
	d := settledDuel(&winner)

	delta := SettlementDelta(d, "0xJoiner")
	if delta.Losses != 1 {
		t.Fatalf("loser delta wrong: %+v", delta)
	}
	wantPnL := new(big.Int).Neg(d.Stake)
	if delta.PnL.Cmp(wantPnL) != 0 {
		t.Fatalf("loser PnL = %s, want %s", delta.PnL, wantPnL)
	}
}

func TestSettlementDeltaDraw(t *testing.T) {
	d := settledDuel(nil)

	for _, agent := range []string{"0xCreator", "0xJoiner"} {
		delta := SettlementDelta(d, agent)
		if delta.Draws != 1 || delta.Wins != 0 || delta.Losses != 0 {
			t.Fatalf("draw delta wrong for %s: %+v", agent, delta)
		}
		if delta.PnL.Sign() != 0 {
			t.Fatalf("draw PnL must be zero, got %s", delta.PnL)
		}
	}
}

func TestDailyBucket(t *testing.T) {
	ts := time.Date(2026, 8, 26, 23, 59, 0, 0, time.FixedZone("X", 3*3600))
	if got := DailyBucket(ts); got != "2026-08-26" {
		t.Fatalf("DailyBucket = %s", got)
	}
}

func TestWeeklyBucket(t *testing.T) {
	// 2026-08-26 is a Wednesday; its week starts Monday 2026-08-24.
	ts := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	if got := WeeklyBucket(ts); got != "2026-08-24" {
		t.Fatalf("WeeklyBucket = %s", got)
	}

	// Sunday belongs to the week of the preceding Monday.
	sunday := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if got := WeeklyBucket(sunday); got != "2026-08-24" {
		t.Fatalf("WeeklyBucket(sunday) = %s", got)
	}

	monday := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	if got := WeeklyBucket(monday); got != "2026-08-24" {
		t.Fatalf("WeeklyBucket(monday) = %s", got)
	}
}
