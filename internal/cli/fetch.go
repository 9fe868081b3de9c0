package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cexdex-arb/internal/app"
)

var (
	fetchFromBlock uint64
	fetchToBlock   uint64
	fetchFrom      string
	fetchTo        string
	fetchChain     bool
	fetchTrades    bool
	fetchDryRun    bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download pool swap logs, base fees and exchange trades",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.FetchOptions{
			FromBlock: fetchFromBlock,
			ToBlock:   fetchToBlock,
			Chain:     fetchChain,
			Trades:    fetchTrades,
			DryRun:    fetchDryRun,
		}

		if fetchTrades {
			if fetchFrom == "" || fetchTo == "" {
				return fmt.Errorf("--from and --to must be provided with --trades")
			}
			from, err := time.Parse(time.RFC3339, fetchFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			to, err := time.Parse(time.RFC3339, fetchTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			if !from.Before(to) {
				return fmt.Errorf("--from must be before --to")
			}
			opts.From, opts.To = from, to
		}
		if fetchChain && fetchFromBlock == 0 {
			return fmt.Errorf("--from-block must be provided with --chain")
		}

		return getApp().Fetch(cmd.Context(), opts)
	},
}

func init() {
	fetchCmd.Flags().Uint64Var(&fetchFromBlock, "from-block", 0, "First block to scan (inclusive)")
	fetchCmd.Flags().Uint64Var(&fetchToBlock, "to-block", 0, "Last block to scan (inclusive, defaults to head)")
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "Start timestamp for trades (RFC3339, inclusive)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "End timestamp for trades (RFC3339, exclusive)")
	fetchCmd.Flags().BoolVar(&fetchChain, "chain", false, "Fetch pool swap logs and base fees")
	fetchCmd.Flags().BoolVar(&fetchTrades, "trades", false, "Fetch exchange trades")
	fetchCmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "Fetch without writing data files")
}
