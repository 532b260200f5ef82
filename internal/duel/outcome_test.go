package duel

import (
	"math/big"
	"testing"
	"time"
)

func liveDuel(creatorDir Direction, startPrice int64) *Duel {
	d := openDuel()
	d.CreatorDirection = creatorDir
	if err := d.Join("0xJoiner", startPrice, time.Now().UTC()); err != nil {
		panic(err)
	}
	return d
}

func TestDecideWinnerUp(t *testing.T) {
	// BTC at 50000.00000000, ends at 51000.00000000, creator bet up.
	d := liveDuel(DirectionUp, 5000000000000)
	winner := DecideWinner(d, 5100000000000)
	if winner == nil || *winner != "0xCreator" {
		t.Fatalf("creator bet up and price rose; got winner %v", winner)
	}
}

func TestDecideWinnerDown(t *testing.T) {
	d := liveDuel(DirectionUp, 5000000000000)
	winner := DecideWinner(d, 4900000000000)
	if winner == nil || *winner != "0xJoiner" {
		t.Fatalf("joiner holds the down side; got winner %v", winner)
	}
}

func TestDecideWinnerDraw(t *testing.T) {
	d := liveDuel(DirectionDown, 5000000000000)
	if winner := DecideWinner(d, 5000000000000); winner != nil {
		t.Fatalf("equal prices must be a draw, got %v", *winner)
	}
}

func TestSplitPot(t *testing.T) {
	stake, _ := new(big.Int).SetString("10000000000000000", 10) // 1e16 wei
	payout, fee := SplitPot(stake, 10)

	wantFee, _ := new(big.Int).SetString("2000000000000000", 10)
	wantPayout, _ := new(big.Int).SetString("18000000000000000", 10)
	if fee.Cmp(wantFee) != 0 {
		t.Fatalf("fee = %s, want %s", fee, wantFee)
	}
	if payout.Cmp(wantPayout) != 0 {
		t.Fatalf("payout = %s, want %s", payout, wantPayout)
	}
}

func TestSplitPotInvariant(t *testing.T) {
	// payout + fee must equal 2*stake exactly, including awkward fee splits.
	for _, tc := range []struct {
		stake string
		pct   int64
	}{
		{"1", 10},
		{"3", 7},
		{"999999999999999999", 13},
		{"10000000000000000", 0},
	} {
		stake, _ := new(big.Int).SetString(tc.stake, 10)
		payout, fee := SplitPot(stake, tc.pct)

		pot := new(big.Int).Mul(stake, big.NewInt(2))
		sum := new(big.Int).Add(payout, fee)
		if sum.Cmp(pot) != 0 {
			t.Fatalf("stake %s pct %d: payout+fee = %s, want %s", tc.stake, tc.pct, sum, pot)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	if got := FormatPrice(5000000000000); got != "50000" {
		t.Fatalf("FormatPrice = %s", got)
	}
	if got := FormatPrice(5100012345678); got != "51000.12345678" {
		t.Fatalf("FormatPrice = %s", got)
	}
}
