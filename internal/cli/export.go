package cli

import (
	"github.com/spf13/cobra"

	"cexdex-arb/internal/app"
)

var (
	exportMinProfit float64
	exportTimeframe string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export opportunities as CSV and/or the price chart as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			MinProfit: minProfitFlag(cmd, exportMinProfit),
			Timeframe: exportTimeframe,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().Float64Var(&exportMinProfit, "min-profit", 0, "Net profit threshold in USD (defaults to config)")
	exportCmd.Flags().StringVar(&exportTimeframe, "timeframe", "", "Chart bucket size, e.g. 1H, 15min (defaults to config)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum chart points to plot (defaults to config)")
}
