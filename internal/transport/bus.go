package transport

import (
	"context"
	"sync"
)

// Bus is an in-process Transport. It keeps the last retained message per
// topic and replays matching ones to new subscribers. Slow subscribers drop
// messages rather than block publishers.
type Bus struct {
	mu       sync.Mutex
	retained map[string]Message
	subs     map[int]*busSub
	nextID   int
	buffer   int
	closed   bool
}

type busSub struct {
	pattern string
	ch      chan Message
}

// NewBus returns a bus whose subscriptions buffer up to buffer messages.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		retained: make(map[string]Message),
		subs:     make(map[int]*busSub),
		buffer:   buffer,
	}
}

// Publish delivers payload to every matching subscriber.
func (b *Bus) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if retain {
		b.retained[topic] = Message{Topic: topic, Payload: msg.Payload, Retained: true}
	}
	for _, s := range b.subs {
		if !Match(s.pattern, topic) {
			continue
		}
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers pattern; retained matches are delivered first.
func (b *Bus) Subscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	sub := &busSub{pattern: pattern, ch: make(chan Message, b.buffer)}
	b.subs[id] = sub
	for topic, msg := range b.retained {
		if Match(pattern, topic) {
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}()

	return sub.ch, nil
}

// Retained returns the retained message for topic, if any.
func (b *Bus) Retained(topic string) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, ok := b.retained[topic]
	return msg, ok
}

// Close ends every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
	return nil
}

var _ Transport = (*Bus)(nil)
