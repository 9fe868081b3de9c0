package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cexdex-arb/internal/app"
)

var (
	detectMinProfit float64
	detectTop       int
	detectCSVPath   string
	detectNoAlert   bool
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Rank profitable opportunities, persist the run and raise alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if detectTop < 0 {
			return fmt.Errorf("--top cannot be negative")
		}
		opts := app.DetectOptions{
			MinProfit: minProfitFlag(cmd, detectMinProfit),
			Top:       detectTop,
			CSVPath:   detectCSVPath,
			NoAlert:   detectNoAlert,
		}
		return getApp().Detect(cmd.Context(), opts)
	},
}

func init() {
	detectCmd.Flags().Float64Var(&detectMinProfit, "min-profit", 0, "Net profit threshold in USD (defaults to config)")
	detectCmd.Flags().IntVar(&detectTop, "top", 10, "Number of opportunities to print; 0 prints all")
	detectCmd.Flags().StringVar(&detectCSVPath, "csv", "", "Path to write every opportunity as CSV")
	detectCmd.Flags().BoolVar(&detectNoAlert, "no-alert", false, "Skip alert delivery")
}
