package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const retainHeader = "retain"

// KafkaOptions parameterise the Kafka transport.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	GroupID      string
	WriteTimeout time.Duration
}

// Kafka carries every logical topic on one Kafka topic, using the logical
// topic as the message key. With log compaction enabled on the Kafka topic
// the latest message per key is kept, which stands in for retained delivery.
type Kafka struct {
	opts   KafkaOptions
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafka builds an asynchronous writer; readers are created per subscription.
func NewKafka(opts KafkaOptions, logger zerolog.Logger) (*Kafka, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	k := &Kafka{
		opts:   opts,
		logger: logger.With().Str("component", "kafka").Str("topic", opts.Topic).Logger(),
	}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: opts.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   k.completion,
	}
	return k, nil
}

func (k *Kafka) completion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, msg := range messages {
		k.logger.Error().Err(err).Str("key", string(msg.Key)).Msg("publish failed")
	}
}

// Publish enqueues the message; the writer flushes asynchronously.
func (k *Kafka) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	flag := []byte("0")
	if retain {
		flag = []byte("1")
	}
	msg := kafka.Message{
		Key:     []byte(topic),
		Value:   payload,
		Headers: []kafka.Header{{Key: retainHeader, Value: flag}},
		Time:    time.Now(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes the Kafka topic in the configured group and forwards
// messages whose key matches pattern.
func (k *Kafka) Subscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.opts.Brokers,
		Topic:    k.opts.Topic,
		GroupID:  k.opts.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		defer reader.Close()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					k.logger.Error().Err(err).Msg("read failed")
				}
				return
			}
			converted, ok := fromKafka(pattern, msg)
			if !ok {
				continue
			}
			select {
			case out <- converted:
			case <-ctx.Done():
				return
			}
		}
	}()

	k.logger.Info().Str("pattern", pattern).Str("group", k.opts.GroupID).Msg("subscribed")
	return out, nil
}

func fromKafka(pattern string, msg kafka.Message) (Message, bool) {
	topic := string(msg.Key)
	if !Match(pattern, topic) {
		return Message{}, false
	}
	retained := false
	for _, h := range msg.Headers {
		if h.Key == retainHeader {
			retained = string(h.Value) == "1"
		}
	}
	return Message{Topic: topic, Payload: msg.Value, Retained: retained}, true
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

var _ Transport = (*Kafka)(nil)
