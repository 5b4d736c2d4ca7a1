package threshold

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"tempmon/internal/alerting"
	"tempmon/internal/metrics"
	"tempmon/internal/models"
	"tempmon/internal/state"
)

// DefaultHeartbeat bounds how long an unchanged alert goes without being
// re-published.
const DefaultHeartbeat = time.Hour

const shardBuffer = 32

// Decision is the outcome of evaluating one reading.
type Decision struct {
	Entity     string
	Value      float64
	Timestamp  time.Time
	Spec       Spec
	Alert      models.Alert
	Prior      models.Alert
	PriorKnown bool
	Changed    bool
	Heartbeat  bool
	Publish    bool
}

// Notification converts a publishing decision for the alert notifier.
func (d Decision) Notification(topic string) alerting.Notification {
	return alerting.Notification{
		Machine:       d.Entity,
		Topic:         topic,
		Alert:         d.Alert,
		Prior:         d.Prior,
		PriorKnown:    d.PriorKnown,
		Changed:       d.Changed,
		Heartbeat:     d.Heartbeat,
		Value:         d.Value,
		ThresholdLow:  d.Spec.Low.Value,
		ThresholdHigh: d.Spec.High.Value,
		Timestamp:     d.Timestamp,
	}
}

// Decide applies hysteresis and the publish rule to one reading. It returns
// the decision and the state to store. The stored publish time only advances
// when the decision publishes.
func Decide(prior models.EntityState, r models.Reading, spec Spec, heartbeat time.Duration) (Decision, models.EntityState) {
	alert := Classify(r.Value, prior.Alert, prior.Known, spec)

	d := Decision{
		Entity:     r.EntityID,
		Value:      r.Value,
		Timestamp:  r.Timestamp,
		Spec:       spec,
		Alert:      alert,
		Prior:      prior.Alert,
		PriorKnown: prior.Known,
	}
	d.Changed = !prior.Known || alert != prior.Alert
	// An unknown prior has no publish time; the zero time is far enough in
	// the past that the heartbeat would fire anyway.
	d.Heartbeat = r.Timestamp.Sub(prior.LastPublishedAt) > heartbeat
	d.Publish = d.Changed || d.Heartbeat

	next := models.EntityState{
		EntityID:        r.EntityID,
		Alert:           alert,
		Known:           true,
		LastPublishedAt: prior.LastPublishedAt,
	}
	if d.Publish {
		next.LastPublishedAt = r.Timestamp
	}
	return d, next
}

// Options tune the engine.
type Options struct {
	Heartbeat time.Duration
	Workers   int
}

// Engine turns readings into alert decisions and publishes the ones that
// change state or are due a heartbeat.
type Engine struct {
	resolver  *Resolver
	store     state.Store
	notifier  alerting.Notifier
	heartbeat time.Duration
	workers   int
	logger    zerolog.Logger
}

// NewEngine wires the engine. The store is owned by the caller.
func NewEngine(opts Options, resolver *Resolver, store state.Store, notifier alerting.Notifier, logger zerolog.Logger) *Engine {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Engine{
		resolver:  resolver,
		store:     store,
		notifier:  notifier,
		heartbeat: opts.Heartbeat,
		workers:   opts.Workers,
		logger:    logger.With().Str("component", "threshold_engine").Logger(),
	}
}

// Evaluate decides the reading and stores the resulting state without
// publishing. A store failure leaves the stored state untouched.
func (e *Engine) Evaluate(ctx context.Context, r models.Reading) (Decision, error) {
	prior, _, err := e.store.Get(ctx, r.EntityID)
	if err != nil {
		return Decision{}, fmt.Errorf("load state: %w", err)
	}

	d, next := Decide(prior, r, e.resolver.Resolve(r.EntityID), e.heartbeat)
	if err := e.store.Put(ctx, next); err != nil {
		return Decision{}, fmt.Errorf("store state: %w", err)
	}
	return d, nil
}

// Handle evaluates the reading and, when due, hands the alert to the
// notifier. Notifier failures are logged and not retried.
func (e *Engine) Handle(ctx context.Context, r models.Reading) (Decision, error) {
	log := e.logger.With().Str("machine", r.EntityID).Logger()

	d, err := e.Evaluate(ctx, r)
	if err != nil {
		metrics.EngineMessages.WithLabelValues("state_error").Inc()
		log.Error().Err(err).Msg("reading dropped")
		return d, err
	}
	metrics.EngineMessages.WithLabelValues("evaluated").Inc()
	metrics.AlertState.WithLabelValues(r.EntityID).Set(float64(d.Alert))

	if !d.Publish {
		metrics.AlertsSuppressed.Inc()
		log.Debug().Float64("value", r.Value).Str("alert", d.Alert.String()).Msg("alert unchanged")
		return d, nil
	}

	note := d.Notification(r.Topic)
	metrics.AlertsPublished.WithLabelValues(r.EntityID, note.Reason()).Inc()
	if e.notifier == nil {
		return d, nil
	}
	if err := e.notifier.Notify(ctx, note); err != nil {
		metrics.PublishFailures.Inc()
		log.Error().Err(err).Str("alert", d.Alert.String()).Msg("alert publish failed")
	}
	return d, nil
}

// ShardFor routes a machine to a worker. A machine always maps to the same
// worker so its state has a single writer.
func ShardFor(entity string, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(entity) % uint64(shards))
}

// Run consumes readings until in is closed or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, in <-chan models.Reading) error {
	shards := make([]chan models.Reading, e.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan models.Reading, shardBuffer)
		wg.Add(1)
		go e.worker(ctx, i, shards[i], &wg)
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	e.logger.Info().Int("workers", e.workers).Dur("heartbeat", e.heartbeat).Msg("engine started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case shards[ShardFor(r.EntityID, len(shards))] <- r:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (e *Engine) worker(ctx context.Context, id int, in <-chan models.Reading, wg *sync.WaitGroup) {
	defer wg.Done()
	log := e.logger.With().Int("worker_id", id).Logger()

	for r := range in {
		if ctx.Err() != nil {
			return
		}
		e.handleSafe(ctx, log, r)
	}
}

func (e *Engine) handleSafe(ctx context.Context, log zerolog.Logger, r models.Reading) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("machine", r.EntityID).
				Msg("engine panic recovered")
			metrics.PanicsRecovered.WithLabelValues("threshold_engine").Inc()
		}
	}()
	_, _ = e.Handle(ctx, r)
}
