package httpapi

import (
	"time"

	"duel-settlement/internal/duel"
)

// envelope is the uniform response shape.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// duelView is the wire form of a duel. Wei amounts go out as decimal
// strings so clients never lose precision to float JSON numbers.
type duelView struct {
	ID               string     `json:"id"`
	OnChainID        *int64     `json:"onChainId,omitempty"`
	Creator          string     `json:"creator"`
	CreatorDirection string     `json:"creatorDirection"`
	Joiner           *string    `json:"joiner,omitempty"`
	Asset            string     `json:"asset"`
	DurationSeconds  int64      `json:"durationSeconds"`
	StakeWei         string     `json:"stakeWei"`
	StakeDisplay     string     `json:"stakeDisplay"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	EndsAt           *time.Time `json:"endsAt,omitempty"`
	SettledAt        *time.Time `json:"settledAt,omitempty"`
	StartPrice       *string    `json:"startPrice,omitempty"`
	EndPrice         *string    `json:"endPrice,omitempty"`
	Winner           *string    `json:"winner,omitempty"`
	PayoutWei        *string    `json:"payoutWei,omitempty"`
	FeeWei           *string    `json:"feeWei,omitempty"`
	CreateTxHash     *string    `json:"createTxHash,omitempty"`
	JoinTxHash       *string    `json:"joinTxHash,omitempty"`
	SettleTxHash     *string    `json:"settleTxHash,omitempty"`
}

func viewDuel(d *duel.Duel) duelView {
	v := duelView{
		ID:               d.ID.String(),
		OnChainID:        d.OnChainID,
		Creator:          d.Creator,
		CreatorDirection: string(d.CreatorDirection),
		Joiner:           d.Joiner,
		Asset:            d.Asset,
		DurationSeconds:  d.DurationSeconds,
		StakeWei:         d.Stake.String(),
		StakeDisplay:     d.StakeDisplay,
		Status:           string(d.Status),
		CreatedAt:        d.CreatedAt,
		StartedAt:        d.StartedAt,
		EndsAt:           d.EndsAt,
		SettledAt:        d.SettledAt,
		Winner:           d.Winner,
		CreateTxHash:     d.CreateTxHash,
		JoinTxHash:       d.JoinTxHash,
		SettleTxHash:     d.SettleTxHash,
	}
	if d.StartPrice != nil {
		p := duel.FormatPrice(*d.StartPrice)
		v.StartPrice = &p
	}
	if d.EndPrice != nil {
		p := duel.FormatPrice(*d.EndPrice)
		v.EndPrice = &p
	}
	if d.Payout != nil {
		s := d.Payout.String()
		v.PayoutWei = &s
	}
	if d.Fee != nil {
		s := d.Fee.String()
		v.FeeWei = &s
	}
	return v
}

func viewDuels(duels []duel.Duel) []duelView {
	out := make([]duelView, 0, len(duels))
	for i := range duels {
		out = append(out, viewDuel(&duels[i]))
	}
	return out
}

// statView renders a DuelStat.
type statView struct {
	Agent     string    `json:"agent"`
	Wins      int64     `json:"wins"`
	Losses    int64     `json:"losses"`
	Draws     int64     `json:"draws"`
	VolumeWei string    `json:"volumeWei"`
	PnLWei    string    `json:"pnlWei"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func viewStat(s *duel.DuelStat) statView {
	return statView{
		Agent:     s.Agent,
		Wins:      s.Wins,
		Losses:    s.Losses,
		Draws:     s.Draws,
		VolumeWei: s.Volume.String(),
		PnLWei:    s.PnL.String(),
		UpdatedAt: s.UpdatedAt,
	}
}

// leaderboardView is a ranked statView.
type leaderboardView struct {
	Rank int `json:"rank"`
	statView
}
