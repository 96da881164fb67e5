package cli

import (
	"github.com/spf13/cobra"

	"depthwatch/internal/app"
)

var (
	historySymbol string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display stored analysis records, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.HistoryOptions{
			Symbol: historySymbol,
			Limit:  historyLimit,
		}
		return getApp().History(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historySymbol, "symbol", "BTCUSDT", "Symbol to display")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of records to display")
}
