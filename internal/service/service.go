package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tempmon/internal/config"
	"tempmon/internal/metrics"
	"tempmon/internal/models"
	"tempmon/internal/sampler"
	"tempmon/internal/scheduler"
	"tempmon/internal/sensor"
	"tempmon/internal/storage"
	"tempmon/internal/threshold"
	"tempmon/internal/transport"
)

const (
	defaultBuffer    = 64
	lockRetryBackoff = 30 * time.Second
)

// Source is one opened sensor and the configuration it was opened from.
type Source struct {
	Config sensor.Config
	Reader sensor.Reader
}

// Service wires samplers, the transport and the threshold engine together.
type Service struct {
	sampling config.SamplingConfig
	prefix   string
	engine   *threshold.Engine
	bus      transport.Transport
	zone     *sampler.ZoneTracker
	clock    scheduler.Clock
	logger   zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the monitoring service. bus is the inbound transport: samples
// are published to it and the engine subscribes to it. Either engine or bus
// may be nil when the mode that needs it is not used.
func New(cfg *config.Config, engine *threshold.Engine, bus transport.Transport, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		sampling: cfg.Sampling,
		prefix:   cfg.Engine.TopicPrefix,
		engine:   engine,
		bus:      bus,
		zone:     sampler.NewZoneTracker(nil, nil),
		logger:   logger.With().Str("component", "service").Logger(),
		locker:   locker,
		lockKey:  cfg.Engine.LockKey,
	}
}

// WithClock overrides the sampler clock.
func (s *Service) WithClock(clock scheduler.Clock) *Service {
	s.clock = clock
	return s
}

// RunPipeline samples every source and evaluates the samples in-process. It
// returns nil on cancellation, or the sampler errors once every sampler has
// stopped.
func (s *Service) RunPipeline(ctx context.Context, sources []Source) error {
	if s.engine == nil {
		return fmt.Errorf("engine not configured")
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sensors configured")
	}

	readings := make(chan models.Reading, s.buffer())
	engineDone := make(chan error, 1)
	go func() { engineDone <- s.engine.Run(ctx, readings) }()

	samplerErr := s.runSamplers(ctx, sources, s.engineEmitter(readings))
	close(readings)
	engineErr := <-engineDone

	if ctx.Err() != nil {
		return nil
	}
	return errors.Join(samplerErr, engineErr)
}

// RunSamplers samples every source and publishes the averaged samples to the
// transport for a remote engine.
func (s *Service) RunSamplers(ctx context.Context, sources []Source) error {
	if s.bus == nil {
		return fmt.Errorf("transport not configured")
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sensors configured")
	}
	err := s.runSamplers(ctx, sources, func(ctx context.Context, sample models.AveragedSample) error {
		return s.publishSample(ctx, sample)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// RunEngine subscribes to sample topics and evaluates every reading. When an
// advisory lock key is configured the engine waits until it holds the lock, so
// only one instance publishes alerts.
func (s *Service) RunEngine(ctx context.Context) error {
	if s.engine == nil || s.bus == nil {
		return fmt.Errorf("engine and transport must be configured")
	}

	unlock, err := s.waitForLock(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if unlock != nil {
		defer unlock()
	}

	pattern := transport.SamplePattern(s.prefix)
	msgs, err := s.bus.Subscribe(ctx, pattern)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	s.logger.Info().Str("pattern", pattern).Msg("engine subscribed")

	readings := make(chan models.Reading, s.buffer())
	engineDone := make(chan error, 1)
	go func() { engineDone <- s.engine.Run(ctx, readings) }()

	Intake(ctx, msgs, readings, s.logger)
	close(readings)
	engineErr := <-engineDone

	if ctx.Err() != nil {
		return nil
	}
	if engineErr != nil {
		return engineErr
	}
	return fmt.Errorf("subscription %s ended: %w", pattern, transport.ErrClosed)
}

// Intake decodes inbound messages onto out until msgs closes or ctx is
// cancelled. Malformed messages are logged and dropped.
func Intake(ctx context.Context, msgs <-chan transport.Message, out chan<- models.Reading, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r, err := transport.DecodeSample(msg.Topic, msg.Payload)
			if err != nil {
				metrics.EngineMessages.WithLabelValues("malformed").Inc()
				logger.Warn().Err(err).Str("topic", msg.Topic).Msg("dropping malformed sample")
				continue
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Service) runSamplers(ctx context.Context, sources []Source, emit sampler.Emitter) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, src := range sources {
		smp, err := sampler.New(s.samplerOptions(src.Config), src.Reader, emit, s.logger)
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(machine string, smp *sampler.Sampler) {
			defer wg.Done()
			err := smp.Run(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			// fatal for this machine only; the others keep sampling
			s.logger.Error().Err(err).Str("machine", machine).Msg("sampler stopped")
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(src.Config.Machine, smp)
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (s *Service) samplerOptions(cfg sensor.Config) sampler.Options {
	return sampler.Options{
		Machine:        cfg.Machine,
		Sensor:         cfg.Driver,
		Interval:       s.sampling.Interval,
		Count:          s.sampling.Count,
		AcquireTimeout: s.sampling.AcquireTimeout,
		Round:          s.sampling.Round,
		Precision:      s.sampling.Precision,
		EmitWarnAfter:  s.sampling.EmitWarnAfter,
		StartupDelay:   s.sampling.StartupDelay,
		Clock:          s.clock,
		Zone:           s.zone,
	}
}

func (s *Service) engineEmitter(readings chan<- models.Reading) sampler.Emitter {
	return func(ctx context.Context, sample models.AveragedSample) error {
		if s.sampling.PublishSamples && s.bus != nil {
			if err := s.publishSample(ctx, sample); err != nil {
				s.logger.Warn().Err(err).Str("machine", sample.EntityID).Msg("sample publish failed")
			}
		}
		r := models.ReadingFromSample(sample, transport.MachineTopic(s.prefix, sample.EntityID))
		select {
		case readings <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) publishSample(ctx context.Context, sample models.AveragedSample) error {
	payload, err := transport.EncodeSample(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	return s.bus.Publish(ctx, transport.MachineTopic(s.prefix, sample.EntityID), payload, false)
}

func (s *Service) buffer() int {
	if s.sampling.Buffer > 0 {
		return s.sampling.Buffer
	}
	return defaultBuffer
}

func (s *Service) waitForLock(ctx context.Context) (func(), error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, nil
	}
	for {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
		if err != nil {
			return nil, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if acquired {
			s.logger.Info().Int64("lock_key", s.lockKey).Msg("engine lock acquired")
			return unlock, nil
		}
		s.logger.Info().Dur("retry_in", lockRetryBackoff).Msg("engine lock held elsewhere, standing by")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryBackoff):
		}
	}
}
