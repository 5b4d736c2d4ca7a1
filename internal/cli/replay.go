package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tempmon/internal/app"
)

var (
	replayCSVPath string
	replayDryRun  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded readings (machine,temperature,timestamp) through a fresh engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayCSVPath == "" {
			return fmt.Errorf("--csv must be provided")
		}

		opts := app.ReplayOptions{
			CSVPath: replayCSVPath,
			DryRun:  replayDryRun,
		}

		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayCSVPath, "csv", "", "Path to the CSV file to replay")
	replayCmd.Flags().BoolVar(&replayDryRun, "dry-run", false, "Print decisions without publishing or auditing")
}
