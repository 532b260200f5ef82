package cli

import (
	"github.com/spf13/cobra"

	"duel-settlement/internal/app"
)

var settleCmd = &cobra.Command{
	Use:   "settle <duel-id>",
	Short: "Settle a single duel by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SettleOptions{
			DuelID: args[0],
		}
		return getApp().Settle(cmd.Context(), opts)
	},
}
