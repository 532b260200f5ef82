package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"duel-settlement/internal/duel"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrStaleState indicates a guarded update matched no row because the
	// duel's status moved on concurrently. The caller should reload.
	ErrStaleState = errors.New("storage: duel state changed concurrently")
)

const duelColumns = `
        id,
        on_chain_id,
        creator,
        creator_direction,
        joiner,
        asset,
        duration_seconds,
        stake_wei,
        stake_display,
        created_at,
        started_at,
        ends_at,
        settled_at,
        start_price,
        end_price,
        status,
        winner,
        payout_wei,
        fee_wei,
        create_tx_hash,
        join_tx_hash,
        settle_tx_hash`

const (
	insertDuelSQL = `INSERT INTO duels (
        id, on_chain_id, creator, creator_direction, asset,
        duration_seconds, stake_wei, stake_display, created_at, status, create_tx_hash
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`

	getDuelSQL = `SELECT` + duelColumns + `
    FROM duels
    WHERE id = $1;`

	getDuelByOnChainIDSQL = `SELECT` + duelColumns + `
    FROM duels
    WHERE on_chain_id = $1;`

	// Duels without an on-chain id exist only transiently during creation
	// and are invisible to every listing.
	listDuelsSQL = `SELECT` + duelColumns + `
    FROM duels
    WHERE status = $1
      AND on_chain_id IS NOT NULL
    ORDER BY created_at DESC
    LIMIT $2;`

	listRecentDuelsSQL = `SELECT` + duelColumns + `
    FROM duels
    WHERE on_chain_id IS NOT NULL
    ORDER BY created_at DESC
    LIMIT $1;`

	listSettledByAgentSQL = `SELECT` + duelColumns + `
    FROM duels
    WHERE status = 'settled'
      AND (creator = $1 OR joiner = $1)
    ORDER BY settled_at
    LIMIT $2;`

	listExpiredOpenSQL = `SELECT id
    FROM duels
    WHERE status = 'open'
      AND on_chain_id IS NOT NULL
      AND created_at < $1
    ORDER BY created_at
    LIMIT $2;`

	markLiveSQL = `UPDATE duels
    SET status = 'live',
        joiner = $2,
        start_price = $3,
        started_at = $4,
        ends_at = $5,
        join_tx_hash = $6
    WHERE id = $1
      AND status = 'open';`

	markSettledSQL = `UPDATE duels
    SET status = 'settled',
        end_price = $2,
        winner = $3,
        payout_wei = $4,
        fee_wei = $5,
        settle_tx_hash = $6,
        settled_at = $7
    WHERE id = $1
      AND status = 'live';`

	markSettledExternalSQL = `UPDATE duels
    SET status = 'settled',
        settled_at = $2
    WHERE id = $1
      AND status = 'live';`

	markCancelledSQL = `UPDATE duels
    SET status = 'cancelled'
    WHERE id = $1
      AND status = 'open';`

	upsertStatSQL = `INSERT INTO duel_stats (
        agent, wins, losses, draws, volume_wei, pnl_wei, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7)
    ON CONFLICT (agent) DO UPDATE
    SET wins       = duel_stats.wins + EXCLUDED.wins,
        losses     = duel_stats.losses + EXCLUDED.losses,
        draws      = duel_stats.draws + EXCLUDED.draws,
        volume_wei = duel_stats.volume_wei + EXCLUDED.volume_wei,
        pnl_wei    = duel_stats.pnl_wei + EXCLUDED.pnl_wei,
        updated_at = EXCLUDED.updated_at;`

	upsertPeriodBucketSQL = `INSERT INTO leaderboard_entries (
        period, bucket_key, agent, wins, losses, draws, volume_wei, pnl_wei, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT (period, bucket_key, agent) DO UPDATE
    SET wins       = leaderboard_entries.wins + EXCLUDED.wins,
        losses     = leaderboard_entries.losses + EXCLUDED.losses,
        draws      = leaderboard_entries.draws + EXCLUDED.draws,
        volume_wei = leaderboard_entries.volume_wei + EXCLUDED.volume_wei,
        pnl_wei    = leaderboard_entries.pnl_wei + EXCLUDED.pnl_wei,
        updated_at = EXCLUDED.updated_at;`

	getStatSQL = `SELECT agent, wins, losses, draws, volume_wei, pnl_wei, updated_at
    FROM duel_stats
    WHERE agent = $1;`

	// The lifetime leaderboard reads the cumulative per-agent rows;
	// leaderboard_entries holds only the daily and weekly buckets.
	listTopStatsSQL = `SELECT agent, wins, losses, draws, volume_wei, pnl_wei, updated_at
    FROM duel_stats
    ORDER BY pnl_wei DESC
    LIMIT $1;`

	listLeaderboardSQL = `SELECT period, bucket_key, agent, wins, losses, draws, volume_wei, pnl_wei, updated_at
    FROM leaderboard_entries
    WHERE period = $1
      AND bucket_key = $2
    ORDER BY pnl_wei DESC
    LIMIT $3;`
)

// DuelStore defines duel persistence operations. Single-row atomic
// reads and guarded updates only; no cross-row transactions assumed.
type DuelStore interface {
	InsertDuel(ctx context.Context, d *duel.Duel) error
	GetDuel(ctx context.Context, id uuid.UUID) (*duel.Duel, error)
	GetDuelByOnChainID(ctx context.Context, onChainID int64) (*duel.Duel, error)
	ListDuels(ctx context.Context, status duel.Status, limit int) ([]duel.Duel, error)
	ListRecentDuels(ctx context.Context, limit int) ([]duel.Duel, error)
	ListSettledByAgent(ctx context.Context, agent string, limit int) ([]duel.Duel, error)
	ListExpiredOpen(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	MarkLive(ctx context.Context, id uuid.UUID, joiner string, startPrice int64, startedAt, endsAt time.Time, joinTxHash *string) error
	MarkSettled(ctx context.Context, id uuid.UUID, endPrice int64, winner *string, payout, fee *big.Int, settleTxHash string, settledAt time.Time) error
	MarkSettledExternal(ctx context.Context, id uuid.UUID, settledAt time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
}

// StatStore defines additive per-agent statistics operations.
type StatStore interface {
	UpsertStat(ctx context.Context, agent string, delta duel.StatDelta) error
	UpsertPeriodBucket(ctx context.Context, period, bucketKey, agent string, delta duel.StatDelta) error
	GetStat(ctx context.Context, agent string) (*duel.DuelStat, error)
	ListTopStats(ctx context.Context, limit int) ([]duel.DuelStat, error)
	ListLeaderboard(ctx context.Context, period, bucketKey string, limit int) ([]duel.LeaderboardEntry, error)
}

// Store aggregates duel and statistics persistence over one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertDuel persists a freshly synced duel in state open.
func (s *Store) InsertDuel(ctx context.Context, d *duel.Duel) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertDuelSQL,
		d.ID,
		d.OnChainID,
		d.Creator,
		string(d.CreatorDirection),
		d.Asset,
		d.DurationSeconds,
		d.Stake.String(),
		d.StakeDisplay,
		d.CreatedAt,
		string(d.Status),
		d.CreateTxHash,
	)
	if execErr != nil {
		return fmt.Errorf("insert duel: %w", execErr)
	}
	return nil
}

// GetDuel loads one duel by internal id.
func (s *Store) GetDuel(ctx context.Context, id uuid.UUID) (*duel.Duel, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return scanDuel(pool.QueryRow(ctx, getDuelSQL, id))
}

// GetDuelByOnChainID loads one duel by its contract id.
func (s *Store) GetDuelByOnChainID(ctx context.Context, onChainID int64) (*duel.Duel, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return scanDuel(pool.QueryRow(ctx, getDuelByOnChainIDSQL, onChainID))
}

// ListDuels lists duels in one status, newest first.
func (s *Store) ListDuels(ctx context.Context, status duel.Status, limit int) ([]duel.Duel, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDuelsSQL, string(status), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list duels: %w", queryErr)
	}
	defer rows.Close()
	return collectDuels(rows, limit)
}

// ListRecentDuels lists the most recent duels regardless of status.
func (s *Store) ListRecentDuels(ctx context.Context, limit int) ([]duel.Duel, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDuelsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent duels: %w", queryErr)
	}
	defer rows.Close()
	return collectDuels(rows, limit)
}

// ListSettledByAgent lists an agent's settled duels in settlement order.
func (s *Store) ListSettledByAgent(ctx context.Context, agent string, limit int) ([]duel.Duel, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSettledByAgentSQL, agent, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list settled duels: %w", queryErr)
	}
	defer rows.Close()
	return collectDuels(rows, limit)
}

// ListExpiredOpen returns ids of open duels created before the cutoff.
func (s *Store) ListExpiredOpen(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listExpiredOpenSQL, cutoff, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list expired open duels: %w", queryErr)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkLive applies the open→live transition; guarded on status.
func (s *Store) MarkLive(ctx context.Context, id uuid.UUID, joiner string, startPrice int64, startedAt, endsAt time.Time, joinTxHash *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, markLiveSQL, id, joiner, startPrice, startedAt, endsAt, joinTxHash)
	if execErr != nil {
		return fmt.Errorf("mark duel live: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// MarkSettled applies the live→settled transition; guarded on status.
func (s *Store) MarkSettled(ctx context.Context, id uuid.UUID, endPrice int64, winner *string, payout, fee *big.Int, settleTxHash string, settledAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, markSettledSQL, id, endPrice, winner, payout.String(), fee.String(), settleTxHash, settledAt)
	if execErr != nil {
		return fmt.Errorf("mark duel settled: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// MarkSettledExternal syncs local state after discovering a prior
// on-chain settlement whose outcome this process never recorded.
func (s *Store) MarkSettledExternal(ctx context.Context, id uuid.UUID, settledAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, markSettledExternalSQL, id, settledAt)
	if execErr != nil {
		return fmt.Errorf("mark duel settled externally: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// MarkCancelled applies open→cancelled; a no-op returns ErrStaleState.
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tag, execErr := pool.Exec(ctx, markCancelledSQL, id)
	if execErr != nil {
		return fmt.Errorf("mark duel cancelled: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// UpsertStat additively folds a delta into the agent's lifetime row.
// The single-statement upsert makes concurrent settlements safe.
func (s *Store) UpsertStat(ctx context.Context, agent string, delta duel.StatDelta) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertStatSQL,
		agent,
		delta.Wins,
		delta.Losses,
		delta.Draws,
		delta.Volume.String(),
		delta.PnL.String(),
		time.Now().UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert stat: %w", execErr)
	}
	return nil
}

// UpsertPeriodBucket additively folds a delta into one period bucket.
func (s *Store) UpsertPeriodBucket(ctx context.Context, period, bucketKey, agent string, delta duel.StatDelta) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPeriodBucketSQL,
		period,
		bucketKey,
		agent,
		delta.Wins,
		delta.Losses,
		delta.Draws,
		delta.Volume.String(),
		delta.PnL.String(),
		time.Now().UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert period bucket: %w", execErr)
	}
	return nil
}

// GetStat loads an agent's lifetime statistics.
func (s *Store) GetStat(ctx context.Context, agent string) (*duel.DuelStat, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		stat      duel.DuelStat
		volumeStr string
		pnlStr    string
	)
	row := pool.QueryRow(ctx, getStatSQL, agent)
	if scanErr := row.Scan(&stat.Agent, &stat.Wins, &stat.Losses, &stat.Draws, &volumeStr, &pnlStr, &stat.UpdatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stat: %w", scanErr)
	}

	if stat.Volume, err = parseBig(volumeStr); err != nil {
		return nil, err
	}
	if stat.PnL, err = parseBig(pnlStr); err != nil {
		return nil, err
	}
	return &stat, nil
}

// ListTopStats returns the lifetime leaderboard ordered by PnL.
func (s *Store) ListTopStats(ctx context.Context, limit int) ([]duel.DuelStat, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTopStatsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list top stats: %w", queryErr)
	}
	defer rows.Close()

	stats := make([]duel.DuelStat, 0, limit)
	for rows.Next() {
		var (
			stat      duel.DuelStat
			volumeStr string
			pnlStr    string
		)
		if err := rows.Scan(&stat.Agent, &stat.Wins, &stat.Losses, &stat.Draws, &volumeStr, &pnlStr, &stat.UpdatedAt); err != nil {
			return nil, err
		}
		if stat.Volume, err = parseBig(volumeStr); err != nil {
			return nil, err
		}
		if stat.PnL, err = parseBig(pnlStr); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// ListLeaderboard returns one period bucket ordered by PnL.
func (s *Store) ListLeaderboard(ctx context.Context, period, bucketKey string, limit int) ([]duel.LeaderboardEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listLeaderboardSQL, period, bucketKey, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list leaderboard: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]duel.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var (
			entry     duel.LeaderboardEntry
			volumeStr string
			pnlStr    string
		)
		if err := rows.Scan(&entry.Period, &entry.BucketKey, &entry.Agent, &entry.Wins, &entry.Losses, &entry.Draws, &volumeStr, &pnlStr, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		if entry.Volume, err = parseBig(volumeStr); err != nil {
			return nil, err
		}
		if entry.PnL, err = parseBig(pnlStr); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse numeric %q", s)
	}
	return v, nil
}

var (
	_ DuelStore = (*Store)(nil)
	_ StatStore = (*Store)(nil)
)
