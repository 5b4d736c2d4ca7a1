package threshold

import (
	"errors"
	"fmt"
)

// Band is one side of a threshold: the trip value and the deadband that keeps
// an alert latched once tripped.
type Band struct {
	Value      float64 `mapstructure:"value" json:"value"`
	Hysteresis float64 `mapstructure:"hysteresis" json:"hysteresis"`
}

// Spec is the pair of bands applied to one machine.
type Spec struct {
	High Band `mapstructure:"high" json:"high"`
	Low  Band `mapstructure:"low" json:"low"`
}

// Override replaces one or both bands for a named machine. A side left nil
// keeps the default band.
type Override struct {
	Machine string `mapstructure:"machine"`
	High    *Band  `mapstructure:"high"`
	Low     *Band  `mapstructure:"low"`
}

// Apply returns def with the override's bands substituted.
func (o Override) Apply(def Spec) Spec {
	s := def
	if o.High != nil {
		s.High = *o.High
	}
	if o.Low != nil {
		s.Low = *o.Low
	}
	return s
}

// Validate rejects inverted or negative bands.
func (s Spec) Validate() error {
	if s.High.Hysteresis < 0 || s.Low.Hysteresis < 0 {
		return errors.New("hysteresis cannot be negative")
	}
	if s.High.Value <= s.Low.Value {
		return fmt.Errorf("high threshold %.3f must exceed low threshold %.3f", s.High.Value, s.Low.Value)
	}
	return nil
}

// Resolver maps machines to their Spec, falling back to a default.
type Resolver struct {
	def       Spec
	overrides map[string]Spec
}

// NewResolver builds an immutable resolver. Each side is resolved on its own:
// an override's missing band falls back to the default band. Later overrides
// for the same machine are applied on top of earlier ones.
func NewResolver(def Spec, overrides []Override) *Resolver {
	m := make(map[string]Spec, len(overrides))
	for _, o := range overrides {
		base, ok := m[o.Machine]
		if !ok {
			base = def
		}
		m[o.Machine] = o.Apply(base)
	}
	return &Resolver{def: def, overrides: m}
}

// Resolve returns the machine's Spec, or the default when none is configured.
func (r *Resolver) Resolve(machine string) Spec {
	if s, ok := r.overrides[machine]; ok {
		return s
	}
	return r.def
}

// Default returns the fallback Spec.
func (r *Resolver) Default() Spec {
	return r.def
}
