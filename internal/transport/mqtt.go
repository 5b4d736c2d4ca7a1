package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MQTTOptions parameterise the MQTT client.
type MQTTOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTT is a Transport backed by a paho client. Subscriptions are restored
// after reconnects.
type MQTT struct {
	opts   MQTTOptions
	client mqtt.Client
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

// ClientID returns id, or a random `tempmon-<uuid>` when id is empty.
func ClientID(id string) string {
	if id != "" {
		return id
	}
	return "tempmon-" + uuid.NewString()
}

// NewMQTT connects to the broker, waiting at most opts.ConnectTimeout.
func NewMQTT(opts MQTTOptions, logger zerolog.Logger) (*MQTT, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.QoS > 2 {
		opts.QoS = 1
	}
	opts.ClientID = ClientID(opts.ClientID)

	m := &MQTT{
		opts: opts,
		logger: logger.With().
			Str("component", "mqtt").
			Str("broker", opts.Broker).
			Str("client_id", opts.ClientID).
			Logger(),
		subs: make(map[string]mqtt.MessageHandler),
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(opts.ConnectTimeout).
		SetOrderMatters(true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.logger.Warn().Err(err).Msg("connection lost")
		})
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}

	m.client = mqtt.NewClient(co)
	token := m.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		m.client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: timed out after %s", opts.Broker, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.Broker, err)
	}

	return m, nil
}

func (m *MQTT) onConnect(c mqtt.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info().Int("subscriptions", len(m.subs)).Msg("connected")
	for pattern, handler := range m.subs {
		c.Subscribe(pattern, m.opts.QoS, handler)
	}
}

// Publish hands the message to the client without waiting for the broker.
// Completion is observed in the background and failures are logged.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if !m.client.IsConnectionOpen() {
		return fmt.Errorf("publish %s: %w", topic, errNotConnected)
	}
	token := m.client.Publish(topic, m.opts.QoS, retain, payload)

	go func() {
		timer := time.NewTimer(m.opts.PublishTimeout)
		defer timer.Stop()
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				m.logger.Error().Err(err).Str("topic", topic).Msg("publish failed")
			}
		case <-timer.C:
			m.logger.Warn().Str("topic", topic).Dur("timeout", m.opts.PublishTimeout).Msg("publish not acknowledged")
		}
	}()
	return nil
}

var errNotConnected = errors.New("mqtt not connected")

// Subscribe registers pattern and streams matching messages until ctx ends.
func (m *MQTT) Subscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	sub := newSubscription(64)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		sub.deliver(Message{Topic: msg.Topic(), Payload: msg.Payload(), Retained: msg.Retained()})
	}

	m.mu.Lock()
	m.subs[pattern] = handler
	m.mu.Unlock()

	token := m.client.Subscribe(pattern, m.opts.QoS, handler)
	if !token.WaitTimeout(m.opts.ConnectTimeout) {
		m.forget(pattern)
		return nil, fmt.Errorf("subscribe %s: timed out", pattern)
	}
	if err := token.Error(); err != nil {
		m.forget(pattern)
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	m.logger.Info().Str("pattern", pattern).Msg("subscribed")

	go func() {
		<-ctx.Done()
		m.forget(pattern)
		m.client.Unsubscribe(pattern).WaitTimeout(time.Second)
		sub.close()
	}()

	return sub.out, nil
}

// subscription is the channel side of one Subscribe call. The paho handler
// may still fire after the context ends; deliver never sends on a closed
// channel and never blocks past close.
type subscription struct {
	out  chan Message
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newSubscription(buffer int) *subscription {
	return &subscription{out: make(chan Message, buffer), done: make(chan struct{})}
}

func (s *subscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- msg:
	case <-s.done:
	}
}

func (s *subscription) close() {
	close(s.done)
	s.mu.Lock()
	s.closed = true
	close(s.out)
	s.mu.Unlock()
}

func (m *MQTT) forget(pattern string) {
	m.mu.Lock()
	delete(m.subs, pattern)
	m.mu.Unlock()
}

// Close disconnects, allowing in-flight work a short grace period.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

var _ Transport = (*MQTT)(nil)
