package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tempmon/internal/metrics"
)

// TickFunc is invoked once per interval with the virtual tick time. A
// non-nil error stops the scheduler.
type TickFunc func(ctx context.Context, tick time.Time) error

// Clock abstracts time so tests can drive the scheduler deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// After returns time.After.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// Name labels logs and the overrun counter.
	Name  string
	Clock Clock
}

// Scheduler fires a tick function on a drift-compensated period.
type Scheduler struct {
	opts   Options
	clock  Clock
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Scheduler{
		opts:   opts,
		clock:  clock,
		logger: logger.With().Str("component", "scheduler").Str("scheduler", opts.Name).Logger(),
	}
}

// Run blocks, invoking tick once per interval until ctx is cancelled or tick
// fails. The next wake time advances by exactly one interval per tick, so
// time spent sleeping and ticking does not accumulate as drift. When a tick
// overruns past the next wake time, the schedule is re-baselined to now and
// the next tick fires immediately; missed ticks are not replayed.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.opts.StartupDelay):
		}
	}

	next := s.clock.Now()
	for {
		delay := next.Sub(s.clock.Now())
		if delay < 0 {
			metrics.TickOverruns.WithLabelValues(s.opts.Name).Inc()
			s.logger.Warn().Dur("overrun", -delay).Msg("tick overran its interval, re-baselining")
			next = s.clock.Now()
		} else if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(delay):
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := tick(ctx, next); err != nil {
			return fmt.Errorf("scheduler %s: %w", s.opts.Name, err)
		}

		next = next.Add(s.opts.Interval)
	}
}
