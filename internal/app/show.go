package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"duel-settlement/internal/duel"
)

// Show prints recent duels.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show duels")
	}
	defer closeStore()

	duels, err := store.ListRecentDuels(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(duels) == 0 {
		fmt.Fprintln(os.Stdout, "no duels found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tID\tAsset\tDir\tStake\tStatus\tWinner\tEnd Price")

	for i := range duels {
		d := &duels[i]
		winner := "-"
		if d.Winner != nil {
			winner = shortAddr(*d.Winner)
		} else if d.Status == duel.StatusSettled {
			winner = "draw"
		}
		endPrice := "-"
		if d.EndPrice != nil {
			endPrice = duel.FormatPrice(*d.EndPrice)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.CreatedAt.UTC().Format(time.RFC3339),
			shortID(d.ID.String()),
			d.Asset,
			d.CreatorDirection,
			d.StakeDisplay,
			d.Status,
			winner,
			endPrice,
		)
	}

	writer.Flush()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:6] + ".." + addr[len(addr)-4:]
	}
	return addr
}
