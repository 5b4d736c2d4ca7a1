package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tempmon/internal/app"
	"tempmon/internal/transport"
)

var (
	exportFrom      string
	exportTo        string
	exportMachine   string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the alert history as CSV and/or a PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Machine:   exportMachine,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := transport.ParseTimestamp(exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := transport.ParseTimestamp(exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp, RFC3339 or local time (inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp, RFC3339 or local time (exclusive)")
	exportCmd.Flags().StringVar(&exportMachine, "machine", "", "Only export alerts for this machine")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum alerts to export (defaults to export.max_data_points)")
}
