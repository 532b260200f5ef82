package cli

import (
	"github.com/spf13/cobra"

	"duel-settlement/internal/app"
)

var priceCmd = &cobra.Command{
	Use:   "price <asset>",
	Short: "Fetch the current price of an asset through the oracle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PriceOptions{
			Asset: args[0],
		}
		return getApp().Price(cmd.Context(), opts)
	},
}
