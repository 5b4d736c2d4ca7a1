package sensor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"tempmon/internal/models"
)

// Simulated is a seeded random walk around Base, used for demos and tests.
type Simulated struct {
	rng         *rand.Rand
	base        float64
	value       float64
	failureRate float64
	now         func() time.Time
}

func newSimulated(cfg Config) (Reader, error) {
	if cfg.FailureRate < 0 || cfg.FailureRate >= 1 {
		return nil, fmt.Errorf("failure_rate must be in [0,1), got %v", cfg.FailureRate)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewSimulated(seed, cfg.Base, cfg.FailureRate), nil
}

// NewSimulated returns a walk starting at base that fails with the given rate.
func NewSimulated(seed int64, base, failureRate float64) *Simulated {
	return &Simulated{
		rng:         rand.New(rand.NewSource(seed)),
		base:        base,
		value:       base,
		failureRate: failureRate,
		now:         time.Now,
	}
}

// ReadRaw steps the walk, pulling back toward base.
func (s *Simulated) ReadRaw(ctx context.Context) (models.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return models.RawSample{}, err
	}
	if s.failureRate > 0 && s.rng.Float64() < s.failureRate {
		return models.RawSample{}, fmt.Errorf("simulated bus fault: %w", ErrTransient)
	}
	s.value += s.rng.NormFloat64()*0.25 + (s.base-s.value)*0.05
	return models.RawSample{Value: s.value, AcquiredAt: s.now()}, nil
}

// Close is a no-op.
func (s *Simulated) Close() error { return nil }
