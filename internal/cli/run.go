package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample every sensor and evaluate thresholds in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Sample every sensor and publish averaged readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunSampler(cmd.Context())
	},
}

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Consume published readings and emit threshold alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunEngine(cmd.Context())
	},
}
