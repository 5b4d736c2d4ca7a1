package threshold

import "tempmon/internal/models"

// Classify maps a value to an alert given the machine's prior alert. The high
// band is checked before the low band; inside a deadband the prior alert is
// kept only if it is the alert that band belongs to. An unknown prior should be
// passed as known=false.
func Classify(value float64, prior models.Alert, known bool, spec Spec) models.Alert {
	switch {
	case value > spec.High.Value:
		return models.AlertHigh
	case known && prior == models.AlertHigh && value > spec.High.Value-spec.High.Hysteresis:
		return models.AlertHigh
	case value < spec.Low.Value:
		return models.AlertLow
	case known && prior == models.AlertLow && value < spec.Low.Value+spec.Low.Hysteresis:
		return models.AlertLow
	default:
		return models.AlertNormal
	}
}
