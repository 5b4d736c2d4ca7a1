package cli

import (
	"errors"
	"math"

	"github.com/spf13/cobra"
)

var (
	simulateMachine string
	simulateValue   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate one reading through the live engine and notifiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateMachine == "" {
			return errors.New("--machine is required")
		}
		if math.IsNaN(simulateValue) || math.IsInf(simulateValue, 0) {
			return errors.New("--value must be a finite number")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateMachine, simulateValue)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMachine, "machine", "", "Machine identifier")
	simulateCmd.Flags().Float64Var(&simulateValue, "value", 0, "Temperature in °C")
}
