package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"keen-oracle/internal/app"
)

var (
	showLimit int
	showPair  string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display oracles, latest aggregations and disputes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			Pair:  showPair,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of oracles to display")
	showCmd.Flags().StringVar(&showPair, "pair", "", "Also list the current epoch's submissions for this pair")
}
