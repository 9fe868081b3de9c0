package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cexdex-arb/internal/app"
)

var (
	showLimit int
	showRunID string

	pruneOlderThan time.Duration
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent detection runs or one run's opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
			RunID: showRunID,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete persisted runs older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 {
			return fmt.Errorf("--older-than must be greater than zero")
		}
		return getApp().Prune(cmd.Context(), app.PruneOptions{
			OlderThan: pruneOlderThan,
			Now:       time.Now().UTC(),
		})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showRunID, "run", "", "Show the opportunities of this run id")

	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Retention window")
}
