package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tempmon/internal/scheduler"
)

// Prune deletes audited alerts older than retention once per interval until
// ctx is cancelled. A failed pass is logged and retried on the next tick.
func Prune(ctx context.Context, store AlertStore, retention, interval time.Duration, logger zerolog.Logger) error {
	if store == nil {
		return ErrNotConfigured
	}
	if retention <= 0 || interval <= 0 {
		return errors.New("retention and prune interval must be positive")
	}
	log := logger.With().Str("component", "alert_retention").Logger()

	sched := scheduler.New(scheduler.Options{Interval: interval, Name: "retention"}, logger)
	err := sched.Run(ctx, func(ctx context.Context, tick time.Time) error {
		cutoff := tick.Add(-retention)
		if err := store.DeleteAlertsBefore(ctx, cutoff); err != nil {
			log.Warn().Err(err).Time("cutoff", cutoff).Msg("alert prune failed")
			return nil
		}
		log.Debug().Time("cutoff", cutoff).Msg("alert log pruned")
		return nil
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
