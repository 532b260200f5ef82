package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"duel-settlement/internal/alerting"
	"duel-settlement/internal/chain"
	"duel-settlement/internal/duel"
	"duel-settlement/internal/lease"
	"duel-settlement/internal/pricing"
	"duel-settlement/internal/storage"
)

// PriceSource resolves asset prices. Satisfied by pricing.Oracle.
type PriceSource interface {
	GetPrice(ctx context.Context, asset string) (pricing.Quote, error)
}

// Recorder receives settled duels for statistics aggregation. Satisfied
// by leaderboard.Aggregator.
type Recorder interface {
	RecordSettlement(ctx context.Context, d *duel.Duel)
}

// Coordinator is the concurrency-safe settlement entry point. Settlement
// for one duel id is serialised by the per-id lease; distinct duels
// settle concurrently and independently.
type Coordinator struct {
	store      storage.DuelStore
	prices     PriceSource
	chain      chain.Oracle
	locker     lease.Locker
	recorder   Recorder
	notifier   alerting.Notifier
	feePercent int64
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs a Coordinator.
func New(store storage.DuelStore, prices PriceSource, chainOracle chain.Oracle, locker lease.Locker, recorder Recorder, notifier alerting.Notifier, feePercent int64, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:      store,
		prices:     prices,
		chain:      chainOracle,
		locker:     locker,
		recorder:   recorder,
		notifier:   notifier,
		feePercent: feePercent,
		logger:     logger.With().Str("component", "settlement").Logger(),
		now:        time.Now,
	}
}

// Settle resolves the duel's outcome exactly once. Idempotent: repeat
// calls on a settled duel return the stored result without touching the
// chain. An optional client claim is cross-checked but never trusted.
func (c *Coordinator) Settle(ctx context.Context, id uuid.UUID, claim *Claim) (Result, error) {
	release, ok, err := c.locker.TryAcquire(ctx, lockKey(id))
	if err != nil {
		return Result{}, fmt.Errorf("acquire settlement lease: %w", err)
	}
	if !ok {
		return Result{
			Code:    CodeConflict,
			Message: "settlement already in progress; back off and retry",
		}, nil
	}
	defer release()

	d, err := c.store.GetDuel(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Code: CodeNotFound, Message: "no such duel"}, nil
		}
		return Result{}, fmt.Errorf("load duel: %w", err)
	}

	// Cheap and harmless for retrying clients: answered from storage,
	// before any external resource is touched.
	if d.Status == duel.StatusSettled {
		return storedResult(d), nil
	}

	if err := d.CanSettle(c.now()); err != nil {
		if errors.Is(err, duel.ErrNotReady) {
			return Result{
				Code:    CodeNotReady,
				Duel:    d,
				Message: fmt.Sprintf("duel not ready: window ends at %s", d.EndsAt.UTC().Format(time.RFC3339)),
			}, nil
		}
		return Result{Code: CodeInvalid, Duel: d, Message: err.Error()}, nil
	}
	if d.OnChainID == nil {
		return Result{Code: CodeInvalid, Duel: d, Message: "duel has no on-chain id"}, nil
	}

	// Never fails on availability; degraded quotes still settle.
	quote, err := c.prices.GetPrice(ctx, d.Asset)
	if err != nil {
		return Result{Code: CodeInvalid, Duel: d, Message: err.Error()}, nil
	}
	if quote.Degraded {
		c.logger.Warn().Str("duel_id", id.String()).Str("source", quote.Source).Msg("settling with degraded price quote")
	}

	winner := duel.DecideWinner(d, quote.Price)
	payout, fee := new(big.Int), new(big.Int)
	if winner != nil {
		payout, fee = duel.SplitPot(d.Stake, c.feePercent)
	}
	c.checkClaim(d, claim, winner, quote.Price)

	txHash, err := c.chain.SettleDuel(ctx, *d.OnChainID, quote.Price)
	if err != nil {
		return c.chainFailure(ctx, d, err)
	}

	settledAt := c.now().UTC()
	if err := c.store.MarkSettled(ctx, d.ID, quote.Price, winner, payout, fee, txHash, settledAt); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			// Lost a race we should not be able to lose under the lease;
			// the duel is settled either way.
			c.logger.Warn().Str("duel_id", id.String()).Msg("duel settled concurrently despite lease")
			return Result{Code: CodeAlreadySettled, Success: true, Duel: d, Message: "settled concurrently"}, nil
		}
		// The chain settled but local persistence failed. The next Settle
		// call recovers through the already-settled revert path.
		c.logger.Error().Err(err).Str("duel_id", id.String()).Str("tx", txHash).Msg("on-chain settlement succeeded but local persist failed")
		return Result{}, fmt.Errorf("persist settlement: %w", err)
	}

	endPrice := quote.Price
	d.Status = duel.StatusSettled
	d.EndPrice = &endPrice
	d.Winner = winner
	d.Payout = payout
	d.Fee = fee
	d.SettleTxHash = &txHash
	d.SettledAt = &settledAt

	if c.recorder != nil {
		c.recorder.RecordSettlement(ctx, d)
	}

	c.logger.Info().
		Str("duel_id", id.String()).
		Str("asset", d.Asset).
		Int64("end_price", quote.Price).
		Str("tx", txHash).
		Msg("duel settled")

	return Result{
		Code:     CodeSettled,
		Success:  true,
		Duel:     d,
		Winner:   winner,
		Payout:   payout,
		Fee:      fee,
		EndPrice: quote.Price,
		TxHash:   txHash,
		Message:  settleMessage(winner),
	}, nil
}

// Join applies the open→live transition, capturing the start price.
func (c *Coordinator) Join(ctx context.Context, id uuid.UUID, joiner string, joinTxHash *string) (*duel.Duel, error) {
	d, err := c.store.GetDuel(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.CanJoin(joiner); err != nil {
		return nil, err
	}

	quote, err := c.prices.GetPrice(ctx, d.Asset)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	if err := d.Join(joiner, quote.Price, now); err != nil {
		return nil, err
	}
	if err := c.store.MarkLive(ctx, d.ID, joiner, quote.Price, *d.StartedAt, *d.EndsAt, joinTxHash); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return nil, &duel.InvalidTransitionError{From: d.Status, Event: duel.EventJoin, Reason: "duel state changed concurrently"}
		}
		return nil, err
	}
	d.JoinTxHash = joinTxHash

	c.logger.Info().Str("duel_id", id.String()).Str("joiner", joiner).Int64("start_price", quote.Price).Msg("duel joined")
	return d, nil
}

// Cancel applies the creator-initiated open→cancelled transition.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID, caller string) (*duel.Duel, error) {
	d, err := c.store.GetDuel(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.CanCancel(caller); err != nil {
		return nil, err
	}

	if err := c.store.MarkCancelled(ctx, d.ID); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return nil, &duel.InvalidTransitionError{From: d.Status, Event: duel.EventCancel, Reason: "duel state changed concurrently"}
		}
		return nil, err
	}
	d.Status = duel.StatusCancelled

	c.logger.Info().Str("duel_id", id.String()).Msg("duel cancelled by creator")
	return d, nil
}

func (c *Coordinator) chainFailure(ctx context.Context, d *duel.Duel, err error) (Result, error) {
	if errors.Is(err, chain.ErrAlreadySettled) {
		// A prior attempt crashed after the on-chain call succeeded.
		// Sync local state; winner/payout of that attempt are unknown.
		settledAt := c.now().UTC()
		if syncErr := c.store.MarkSettledExternal(ctx, d.ID, settledAt); syncErr != nil && !errors.Is(syncErr, storage.ErrStaleState) {
			return Result{}, fmt.Errorf("sync externally settled duel: %w", syncErr)
		}
		c.logger.Info().Str("duel_id", d.ID.String()).Msg("duel was already settled on-chain; local state synchronised")
		return Result{
			Code:    CodeAlreadySettled,
			Success: true,
			Duel:    d,
			Message: "settled in a previous attempt",
		}, nil
	}

	if errors.Is(err, chain.ErrNotReadyOnChain) {
		return Result{Code: CodeNotReady, Duel: d, Message: err.Error()}, nil
	}

	c.logger.Error().Err(err).Str("duel_id", d.ID.String()).Msg("on-chain settlement failed")
	c.alarm(ctx, d, err)
	return Result{
		Code:    CodeChainError,
		Duel:    d,
		Message: fmt.Sprintf("on-chain settlement failed, retry later: %v", err),
	}, nil
}

// checkClaim compares a client-submitted outcome with the locally
// computed one. The local result always wins.
func (c *Coordinator) checkClaim(d *duel.Duel, claim *Claim, winner *string, endPrice int64) {
	if claim == nil {
		return
	}
	mismatch := claim.EndPrice != endPrice ||
		(claim.Winner == nil) != (winner == nil) ||
		(claim.Winner != nil && winner != nil && *claim.Winner != *winner)
	if mismatch {
		c.logger.Warn().
			Str("duel_id", d.ID.String()).
			Interface("claimed_winner", claim.Winner).
			Int64("claimed_end_price", claim.EndPrice).
			Interface("computed_winner", winner).
			Int64("computed_end_price", endPrice).
			Msg("client-submitted settlement claim disagrees with oracle computation")
	}
}

func (c *Coordinator) alarm(ctx context.Context, d *duel.Duel, cause error) {
	if c.notifier == nil {
		return
	}
	note := alerting.Notification{
		Kind:    alerting.KindSettlementFailed,
		Asset:   d.Asset,
		DuelID:  d.ID.String(),
		Message: cause.Error(),
		At:      c.now().UTC(),
	}
	if err := c.notifier.Notify(ctx, note); err != nil {
		c.logger.Error().Err(err).Msg("failed to dispatch settlement alarm")
	}
}

func storedResult(d *duel.Duel) Result {
	res := Result{
		Code:    CodeAlreadySettled,
		Success: true,
		Duel:    d,
		Winner:  d.Winner,
		Payout:  d.Payout,
		Fee:     d.Fee,
		Message: "already settled",
	}
	if d.EndPrice != nil {
		res.EndPrice = *d.EndPrice
	}
	if d.SettleTxHash != nil {
		res.TxHash = *d.SettleTxHash
	}
	return res
}

func settleMessage(winner *string) string {
	if winner == nil {
		return "draw: stakes refundable on-chain"
	}
	return "settled: " + *winner + " wins"
}

func lockKey(id uuid.UUID) string {
	return "duel:settle:" + id.String()
}
