package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"duel-settlement/internal/duel"
)

// Price fetches and prints a quote through the full fallback chain.
func (a *App) Price(ctx context.Context, opts PriceOptions) error {
	asset := strings.ToUpper(opts.Asset)

	oracle := a.newPriceOracle(a.newNotifier())
	quote, err := oracle.GetPrice(ctx, asset)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "asset: %s\n", quote.Asset)
	fmt.Fprintf(os.Stdout, "price: %s USD\n", duel.FormatPrice(quote.Price))
	fmt.Fprintf(os.Stdout, "source: %s\n", quote.Source)
	fmt.Fprintf(os.Stdout, "fetched: %s\n", quote.FetchedAt.UTC().Format("2006-01-02T15:04:05Z"))
	if quote.Stale {
		fmt.Fprintln(os.Stdout, "warning: quote is stale")
	}
	if quote.Degraded {
		fmt.Fprintln(os.Stdout, "warning: all providers failed, static fallback in use")
	}
	return nil
}
