package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tempmon/internal/metrics"
)

// ErrQueueFull is returned by Queue.Notify when the buffer has no room.
var ErrQueueFull = errors.New("notification queue full")

// ErrQueueClosed is returned by Queue.Notify after Close.
var ErrQueueClosed = errors.New("notification queue closed")

const (
	defaultQueueSize    = 256
	defaultQueueTimeout = 30 * time.Second
)

// QueueOptions tune a Queue.
type QueueOptions struct {
	Name string
	Size int
	// Timeout bounds each background delivery.
	Timeout time.Duration
}

// Queue delivers notifications to next on a background goroutine so slow
// sinks (database, chat APIs) do not hold up the caller. When the buffer is
// full the notification is dropped and counted.
type Queue struct {
	next    Notifier
	name    string
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan Notification
	done   chan struct{}
}

// NewQueue starts the delivery goroutine. Close stops it after draining.
func NewQueue(next Notifier, opts QueueOptions, logger zerolog.Logger) *Queue {
	if opts.Size <= 0 {
		opts.Size = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultQueueTimeout
	}
	if opts.Name == "" {
		opts.Name = "notify"
	}
	q := &Queue{
		next:    next,
		name:    opts.Name,
		timeout: opts.Timeout,
		logger:  logger.With().Str("component", "notify_queue").Str("queue", opts.Name).Logger(),
		ch:      make(chan Notification, opts.Size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Notify enqueues note without waiting for delivery.
func (q *Queue) Notify(_ context.Context, note Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- note:
		metrics.NotifyQueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
		return nil
	default:
		metrics.NotifyQueueDropped.WithLabelValues(q.name).Inc()
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits until the queued ones are
// delivered or ctx ends.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for note := range q.ch {
		metrics.NotifyQueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.next.Notify(ctx, note); err != nil {
			q.logger.Error().Err(err).
				Str("machine", note.Machine).
				Str("alert", note.Alert.String()).
				Msg("background notification failed")
		}
		cancel()
	}
}

var _ Notifier = (*Queue)(nil)
