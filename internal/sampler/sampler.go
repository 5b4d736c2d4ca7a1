// Package sampler turns raw sensor reads into one averaged sample per
// reporting window.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tempmon/internal/metrics"
	"tempmon/internal/models"
	"tempmon/internal/scheduler"
	"tempmon/internal/sensor"
)

const defaultAcquireTimeout = 2 * time.Second

// Emitter hands an averaged sample downstream. It may block; a bounded
// channel applies backpressure to the sampler this way.
type Emitter func(ctx context.Context, s models.AveragedSample) error

// Options tune one sampler.
type Options struct {
	Machine string
	// Sensor is the driver tag, carried on emitted samples.
	Sensor         string
	Interval       time.Duration
	Count          int
	AcquireTimeout time.Duration
	// Round the mean to Precision decimal places.
	Round         bool
	Precision     int32
	EmitWarnAfter time.Duration
	StartupDelay  time.Duration
	Clock         scheduler.Clock
	Zone          *ZoneTracker
}

// Sampler owns one sensor reader and its accumulator.
type Sampler struct {
	opts   Options
	reader sensor.Reader
	emit   Emitter
	zone   *ZoneTracker
	logger zerolog.Logger

	sum float64
	n   int
}

// New constructs a Sampler. The reader is owned by the caller.
func New(opts Options, reader sensor.Reader, emit Emitter, logger zerolog.Logger) (*Sampler, error) {
	if opts.Machine == "" {
		return nil, errors.New("sampler: machine is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("sampler %s: interval must be positive", opts.Machine)
	}
	if opts.Count <= 0 {
		return nil, fmt.Errorf("sampler %s: count must be positive", opts.Machine)
	}
	if reader == nil || emit == nil {
		return nil, fmt.Errorf("sampler %s: reader and emitter are required", opts.Machine)
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	zone := opts.Zone
	if zone == nil {
		zone = NewZoneTracker(nil, nil)
	}
	return &Sampler{
		opts:   opts,
		reader: reader,
		emit:   emit,
		zone:   zone,
		logger: logger.With().Str("component", "sampler").Str("machine", opts.Machine).Logger(),
	}, nil
}

// Run samples on the configured interval until ctx is cancelled or the
// sensor fails fatally. A partially filled window is discarded.
func (s *Sampler) Run(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{
		Interval:     s.opts.Interval,
		StartupDelay: s.opts.StartupDelay,
		Name:         "sampler/" + s.opts.Machine,
		Clock:        s.opts.Clock,
	}, s.logger)

	s.logger.Info().
		Dur("interval", s.opts.Interval).
		Int("count", s.opts.Count).
		Str("sensor", s.opts.Sensor).
		Msg("sampler started")

	err := sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return s.Step(ctx)
	})
	if s.n > 0 {
		s.logger.Debug().Int("discarded", s.n).Msg("partial window discarded")
	}
	return err
}

// Step performs one acquisition and, when the window is full, emits the mean.
// Only non-transient acquisition errors are returned.
func (s *Sampler) Step(ctx context.Context) error {
	acqCtx, cancel := context.WithTimeout(ctx, s.opts.AcquireTimeout)
	raw, err := s.reader.ReadRaw(acqCtx)
	cancel()

	if err == nil && (math.IsNaN(raw.Value) || math.IsInf(raw.Value, 0)) {
		err = fmt.Errorf("non-finite reading %v: %w", raw.Value, sensor.ErrTransient)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, sensor.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
			metrics.AcquisitionsTotal.WithLabelValues(s.opts.Machine, "transient").Inc()
			s.logger.Warn().Err(err).Msg("acquisition failed, sample skipped")
			return nil
		}
		metrics.AcquisitionsTotal.WithLabelValues(s.opts.Machine, "fatal").Inc()
		return fmt.Errorf("acquire %s: %w", s.opts.Machine, err)
	}
	metrics.AcquisitionsTotal.WithLabelValues(s.opts.Machine, "ok").Inc()

	s.sum += raw.Value
	s.n++
	if s.n < s.opts.Count {
		return nil
	}

	sample := models.AveragedSample{
		EntityID:    s.opts.Machine,
		Value:       s.mean(),
		SampleCount: s.n,
		ProducedAt:  s.zone.Now(),
		Sensor:      s.opts.Sensor,
	}
	s.sum, s.n = 0, 0

	s.deliver(ctx, sample)
	return nil
}

// Pending reports how many good reads the current window holds.
func (s *Sampler) Pending() int {
	return s.n
}

func (s *Sampler) mean() float64 {
	m := s.sum / float64(s.n)
	if !s.opts.Round {
		return m
	}
	f, _ := decimal.NewFromFloat(m).Round(s.opts.Precision).Float64()
	return f
}

func (s *Sampler) deliver(ctx context.Context, sample models.AveragedSample) {
	start := time.Now()
	err := s.emit(ctx, sample)
	blocked := time.Since(start)
	metrics.EmitBlockDuration.WithLabelValues(s.opts.Machine).Observe(blocked.Seconds())

	if s.opts.EmitWarnAfter > 0 && blocked > s.opts.EmitWarnAfter {
		s.logger.Warn().Dur("blocked", blocked).Msg("downstream slow to accept samples")
	}
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Float64("value", sample.Value).Msg("sample emit failed")
		}
		return
	}

	metrics.SamplesEmitted.WithLabelValues(s.opts.Machine).Inc()
	metrics.LastSampleValue.WithLabelValues(s.opts.Machine).Set(sample.Value)
	s.logger.Debug().Float64("value", sample.Value).Int("samples", sample.SampleCount).Msg("sample emitted")
}

// ChannelEmitter sends samples on ch, blocking while it is full.
func ChannelEmitter(ch chan<- models.AveragedSample) Emitter {
	return func(ctx context.Context, s models.AveragedSample) error {
		select {
		case ch <- s:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
