package duel

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceScale is the fixed-point multiplier applied to all USD prices,
// regardless of the asset's natural magnitude.
const PriceScale = 100_000_000 // 1e8

// Status is the lifecycle state of a duel. It only ever advances forward.
type Status string

const (
	StatusOpen      Status = "open"
	StatusLive      Status = "live"
	StatusSettled   Status = "settled"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// Direction is the side of a price bet.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Opposite returns the complementary direction. The joiner always takes
// the opposite of the creator.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// Durations a duel may be created with, in seconds.
var AllowedDurations = []int64{30, 60, 300}

// Duel is a 1v1 wager on the direction an asset's price moves over a
// fixed window. Stake, payout, and fee are wei amounts and never floats.
type Duel struct {
	ID        uuid.UUID
	OnChainID *int64

	Creator          string
	CreatorDirection Direction
	Joiner           *string

	Asset           string
	DurationSeconds int64
	Stake           *big.Int
	StakeDisplay    string

	CreatedAt time.Time
	StartedAt *time.Time
	EndsAt    *time.Time
	SettledAt *time.Time

	StartPrice *int64
	EndPrice   *int64

	Status Status
	Winner *string // nil means unsettled, or a draw once settled
	Payout *big.Int
	Fee    *big.Int

	CreateTxHash *string
	JoinTxHash   *string
	SettleTxHash *string
}

// JoinerDirection is always the complement of the creator's bet.
func (d *Duel) JoinerDirection() Direction {
	return d.CreatorDirection.Opposite()
}

// Ended reports whether the duel's betting window has elapsed.
func (d *Duel) Ended(now time.Time) bool {
	return d.EndsAt != nil && !now.Before(*d.EndsAt)
}

// FormatPrice renders a 1e8-scaled price as a USD decimal string.
func FormatPrice(scaled int64) string {
	return decimal.New(scaled, -8).String()
}

// FormatStake renders a wei amount as a token decimal string.
func FormatStake(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
