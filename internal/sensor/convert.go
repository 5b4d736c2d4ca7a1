package sensor

import (
	"fmt"
	"strings"
)

// Converter maps a raw backend value to degrees Celsius.
type Converter interface {
	Convert(raw float64) float64
}

// Identity passes values through; used by backends that already report Celsius.
type Identity struct{}

// Convert returns raw.
func (Identity) Convert(raw float64) float64 { return raw }

// PT RTD curve fit, resistance (ohms at 100 ohm nominal) to Celsius.
const (
	rtdC5 = -2.10678e-11
	rtdC4 = 2.27311e-08
	rtdC3 = -8.20888e-06
	rtdC2 = 2.38589e-03
	rtdC1 = 2.24745e+00
	rtdC0 = -2.42522e+02
)

// PTRTD converts platinum RTD resistance to Celsius. Nominal is the sensor's
// resistance at 0 °C (100 for PT100, 1000 for PT1000).
type PTRTD struct {
	Nominal float64
}

// Convert evaluates the polynomial on the resistance rescaled to 100 ohm nominal.
func (p PTRTD) Convert(ohms float64) float64 {
	r := ohms
	if p.Nominal > 0 {
		r = ohms * 100 / p.Nominal
	}
	return ((((rtdC5*r+rtdC4)*r+rtdC3)*r+rtdC2)*r+rtdC1)*r + rtdC0
}

// NewConverter resolves a conversion name.
func NewConverter(name string, nominal float64) (Converter, error) {
	switch strings.ToLower(name) {
	case "", "identity", "celsius":
		return Identity{}, nil
	case "pt_rtd", "pt100", "pt1000":
		if nominal <= 0 {
			nominal = 100
			if strings.EqualFold(name, "pt1000") {
				nominal = 1000
			}
		}
		return PTRTD{Nominal: nominal}, nil
	default:
		return nil, fmt.Errorf("unknown conversion %q", name)
	}
}
