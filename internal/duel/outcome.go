package duel

import "math/big"

var big2 = big.NewInt(2)

// DecideWinner compares the end price against the start price and returns
// the winning address, or nil on an exact draw. The refund path for draws
// lives in the on-chain contract, not here.
func DecideWinner(d *Duel, endPrice int64) *string {
	if d.StartPrice == nil {
		return nil
	}
	start := *d.StartPrice

	var winning Direction
	switch {
	case endPrice > start:
		winning = DirectionUp
	case endPrice < start:
		winning = DirectionDown
	default:
		return nil
	}

	if d.CreatorDirection == winning {
		creator := d.Creator
		return &creator
	}
	if d.Joiner != nil {
		joiner := *d.Joiner
		return &joiner
	}
	return nil
}

// SplitPot computes payout and fee from the combined stakes using integer
// arithmetic only: pot = stake*2, fee = pot*feePercent/100 (floor),
// payout = pot - fee. The invariant payout+fee == 2*stake always holds.
func SplitPot(stake *big.Int, feePercent int64) (payout, fee *big.Int) {
	pot := new(big.Int).Mul(stake, big2)
	fee = new(big.Int).Mul(pot, big.NewInt(feePercent))
	fee.Div(fee, big.NewInt(100))
	payout = new(big.Int).Sub(pot, fee)
	return payout, fee
}
