package cli

import (
	"github.com/spf13/cobra"

	"cexdex-arb/internal/app"
)

var alignCSVPath string

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Build or load the aligned event dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Align(cmd.Context(), app.AlignOptions{CSVPath: alignCSVPath})
	},
}

func init() {
	alignCmd.Flags().StringVar(&alignCSVPath, "csv", "", "Path to write the aligned events as CSV")
}
