package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"tempmon/internal/app"
)

var (
	showLimit   int
	showMachine string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently published alerts from the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return errors.New("--limit must be greater than zero")
		}
		return getApp().Show(cmd.Context(), app.ShowOptions{Limit: showLimit, Machine: showMachine})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of alerts to display")
	showCmd.Flags().StringVar(&showMachine, "machine", "", "Only show alerts for this machine")
}
