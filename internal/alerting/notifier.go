package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tempmon/internal/models"
	"tempmon/internal/transport"
)

// Notification is one alert decision that the engine chose to publish.
type Notification struct {
	Machine       string
	Topic         string
	Alert         models.Alert
	Prior         models.Alert
	PriorKnown    bool
	Changed       bool
	Heartbeat     bool
	Value         float64
	ThresholdLow  float64
	ThresholdHigh float64
	Timestamp     time.Time
}

// Reason labels why the notification was sent.
func (n Notification) Reason() string {
	switch {
	case !n.PriorKnown:
		return "initial"
	case n.Changed:
		return "change"
	case n.Heartbeat:
		return "heartbeat"
	default:
		return "forced"
	}
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, note Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, note Notification) error {
	return f(ctx, note)
}

// TransportNotifier publishes the alert payload, retained, beneath the
// machine's inbound topic.
type TransportNotifier struct {
	publisher transport.Publisher
	logger    zerolog.Logger
}

// NewTransportNotifier wraps a publisher.
func NewTransportNotifier(pub transport.Publisher, logger zerolog.Logger) *TransportNotifier {
	return &TransportNotifier{
		publisher: pub,
		logger:    logger.With().Str("component", "alert_transport").Logger(),
	}
}

// Notify encodes and publishes the alert.
func (n *TransportNotifier) Notify(ctx context.Context, note Notification) error {
	payload, err := transport.EncodeAlert(note.Machine, note.Alert, note.ThresholdLow, note.ThresholdHigh, note.Timestamp)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	topic := transport.AlertTopic(note.Topic)
	if err := n.publisher.Publish(ctx, topic, payload, true); err != nil {
		return err
	}

	n.logger.Info().
		Str("machine", note.Machine).
		Str("topic", topic).
		Int("alert_val", int(note.Alert)).
		Str("reason", note.Reason()).
		Msg("alert published")
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

// Notify calls each notifier in order.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnChange forwards only notifications whose alert differs from the prior
// one, dropping heartbeats. The first observation is forwarded only when it
// is not NORMAL.
func OnChange(next Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, note Notification) error {
		if !note.PriorKnown && note.Alert == models.AlertNormal {
			return nil
		}
		if note.PriorKnown && !note.Changed {
			return nil
		}
		return next.Notify(ctx, note)
	})
}

var _ Notifier = (*TransportNotifier)(nil)
var _ Notifier = Fanout(nil)
