package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"cexdex-arb/internal/app"
	"cexdex-arb/internal/market"
)

var (
	simulateProfit    float64
	simulateSpread    float64
	simulateSize      float64
	simulateDirection string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次套利机会并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateProfit <= 0 {
			return errors.New("--profit 必须大于 0")
		}
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			NetProfit: simulateProfit,
			SpreadPct: simulateSpread,
			TradeSize: simulateSize,
			Direction: simulateDirection,
		})
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateProfit, "profit", 0, "模拟净收益 (USD)")
	simulateCmd.Flags().Float64Var(&simulateSpread, "spread", 1.0, "模拟价差 (%)")
	simulateCmd.Flags().Float64Var(&simulateSize, "size", 10, "模拟交易规模 (ETH)")
	simulateCmd.Flags().StringVar(&simulateDirection, "direction", string(market.BuyOnchainSellOffchain), "BuyOnchainSellOffchain 或 BuyOffchainSellOnchain")
}
