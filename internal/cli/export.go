package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"keen-oracle/internal/app"
)

var (
	exportPair          string
	exportFrom          string
	exportTo            string
	exportPNGPath       string
	exportCSVPath       string
	exportReputationPNG string
	exportMaxPoints     int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export submission history as CSV and/or PNG charts",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Pair:          exportPair,
			PNGPath:       exportPNGPath,
			CSVPath:       exportCSVPath,
			ReputationPNG: exportReputationPNG,
			MaxPoints:     exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPair, "pair", "", "Pair to export (all pairs when empty; required with --png)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the PNG price chart")
	exportCmd.Flags().StringVar(&exportReputationPNG, "reputation-png", "", "Path to write the PNG reputation bar chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
