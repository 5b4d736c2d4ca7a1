// Package transport is the publish/subscribe boundary: MQTT, Kafka, or an
// in-process bus, plus the JSON payloads carried over it.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport: closed")

// Message is one delivery from a subscription.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Publisher sends payloads. Implementations must not wait for broker
// acknowledgement; delivery failures surface through logs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Subscriber streams messages whose topic matches pattern until ctx is done,
// then closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string) (<-chan Message, error)
}

// Transport is a connected pub/sub client.
type Transport interface {
	Publisher
	Subscriber
	Close() error
}
