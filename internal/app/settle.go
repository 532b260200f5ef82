package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Settle performs a one-off settlement of a single duel. Same code path
// as the HTTP endpoint, so a manual settle is just as idempotent.
func (a *App) Settle(ctx context.Context, opts SettleOptions) error {
	id, err := uuid.Parse(opts.DuelID)
	if err != nil {
		return fmt.Errorf("invalid duel id %q: %w", opts.DuelID, err)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot settle")
	}
	defer closeStore()

	locker, closeLocker, err := a.newLocker(ctx)
	if err != nil {
		return err
	}
	if closeLocker != nil {
		defer closeLocker()
	}

	notifier := a.newNotifier()
	coordinator := a.newCoordinator(store, a.newPriceOracle(notifier), locker, notifier)

	res, err := coordinator.Settle(ctx, id, nil)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "code: %s\n", res.Code)
	if res.Message != "" {
		fmt.Fprintf(os.Stdout, "message: %s\n", res.Message)
	}
	if res.Winner != nil {
		fmt.Fprintf(os.Stdout, "winner: %s\n", *res.Winner)
	}
	if res.Payout != nil {
		fmt.Fprintf(os.Stdout, "payout: %s wei\n", res.Payout)
	}
	if res.Fee != nil {
		fmt.Fprintf(os.Stdout, "fee: %s wei\n", res.Fee)
	}
	if res.TxHash != "" {
		fmt.Fprintf(os.Stdout, "tx: %s\n", res.TxHash)
	}

	if !res.Success {
		return fmt.Errorf("settlement not performed: %s", res.Code)
	}
	return nil
}
