package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"duel-settlement/internal/duel"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDuel(row rowScanner) (*duel.Duel, error) {
	var (
		d          duel.Duel
		creatorDir string
		status     string
		stakeStr   string
		payoutStr  *string
		feeStr     *string
		startedAt  *time.Time
		endsAt     *time.Time
		settledAt  *time.Time
	)

	err := row.Scan(
		&d.ID,
		&d.OnChainID,
		&d.Creator,
		&creatorDir,
		&d.Joiner,
		&d.Asset,
		&d.DurationSeconds,
		&stakeStr,
		&d.StakeDisplay,
		&d.CreatedAt,
		&startedAt,
		&endsAt,
		&settledAt,
		&d.StartPrice,
		&d.EndPrice,
		&status,
		&d.Winner,
		&payoutStr,
		&feeStr,
		&d.CreateTxHash,
		&d.JoinTxHash,
		&d.SettleTxHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan duel: %w", err)
	}

	d.CreatorDirection = duel.Direction(creatorDir)
	d.Status = duel.Status(status)
	d.StartedAt = startedAt
	d.EndsAt = endsAt
	d.SettledAt = settledAt

	if d.Stake, err = parseBig(stakeStr); err != nil {
		return nil, err
	}
	if payoutStr != nil {
		if d.Payout, err = parseBig(*payoutStr); err != nil {
			return nil, err
		}
	}
	if feeStr != nil {
		if d.Fee, err = parseBig(*feeStr); err != nil {
			return nil, err
		}
	}

	return &d, nil
}

func collectDuels(rows pgx.Rows, capacity int) ([]duel.Duel, error) {
	duels := make([]duel.Duel, 0, capacity)
	for rows.Next() {
		d, err := scanDuel(rows)
		if err != nil {
			return nil, err
		}
		duels = append(duels, *d)
	}
	return duels, rows.Err()
}
