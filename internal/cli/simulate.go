package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"keen-oracle/internal/app"
)

var (
	simulatePair   string
	simulatePrices []string
	simulateNotify bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play one epoch in memory with one throwaway oracle per price",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulatePrices) == 0 {
			return errors.New("at least one --price must be provided")
		}

		prices := make([]decimal.Decimal, 0, len(simulatePrices))
		for _, raw := range simulatePrices {
			p, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("invalid --price value %q: %w", raw, err)
			}
			prices = append(prices, p)
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Pair:   simulatePair,
			Prices: prices,
			Notify: simulateNotify,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePair, "pair", "BTC/USD", "Pair symbol")
	simulateCmd.Flags().StringSliceVar(&simulatePrices, "price", nil, "Submitted price, repeat once per oracle")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "Send the aggregation alert through the configured channels")
}
