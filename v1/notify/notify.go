// Package notify publishes cache removals as events on a syncbus.Bus.
//
// A cache calls its removal listener while holding its lock, so the
// listener returned by Listener only enqueues. A single goroutine owned by
// the Publisher encodes events and hands them to the bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-lrucache/v1/cache"
	"github.com/mirkobrombin/go-lrucache/v1/syncbus"
)

const (
	// DefaultTopic is the topic removal events are published on.
	DefaultTopic = "lrucache.removals"

	defaultQueueSize      = 1024
	defaultPublishTimeout = 5 * time.Second
)

// Event describes one entry leaving a cache.
type Event struct {
	ID     string    `json:"id"`
	Cache  string    `json:"cache"`
	Key    string    `json:"key"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Stats counts what happened to enqueued events.
type Stats struct {
	Published uint64
	// Dropped events never reached the bus because the queue was full or
	// the publisher was closed.
	Dropped uint64
	// Failed events were rejected by the bus.
	Failed uint64
}

// Publisher forwards events to a bus in the background.
type Publisher struct {
	bus     syncbus.Bus
	topic   string
	timeout time.Duration
	logger  *slog.Logger
	queue   chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Publisher.
type Option func(*publisherOptions)

type publisherOptions struct {
	topic     string
	queueSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// WithTopic overrides DefaultTopic.
func WithTopic(topic string) Option {
	return func(o *publisherOptions) {
		o.topic = topic
	}
}

// WithQueueSize bounds the number of events waiting to be published.
func WithQueueSize(n int) Option {
	return func(o *publisherOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithPublishTimeout bounds each Publish call on the bus.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *publisherOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *publisherOptions) {
		o.logger = l
	}
}

// NewPublisher starts a Publisher on bus. Close must be called to stop it.
func NewPublisher(bus syncbus.Bus, opts ...Option) *Publisher {
	o := publisherOptions{
		topic:     DefaultTopic,
		queueSize: defaultQueueSize,
		timeout:   defaultPublishTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	p := &Publisher{
		bus:     bus,
		topic:   o.topic,
		timeout: o.timeout,
		logger:  o.logger,
		queue:   make(chan Event, o.queueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Topic returns the topic events are published on.
func (p *Publisher) Topic() string {
	return p.topic
}

// Enqueue schedules ev for publishing without blocking. It reports false
// when the event was dropped.
func (p *Publisher) Enqueue(ev Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return false
	}
	select {
	case p.queue <- ev:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		data, err := json.Marshal(ev)
		if err != nil {
			p.failed.Add(1)
			p.logger.Warn("notify: encode event", "key", ev.Key, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err = p.bus.Publish(ctx, p.topic, data)
		cancel()
		if err != nil {
			p.failed.Add(1)
			p.logger.Warn("notify: publish event", "topic", p.topic, "cache", ev.Cache, "key", ev.Key, "error", err)
			continue
		}
		p.published.Add(1)
	}
}

// Close stops accepting events and waits until the queued ones have been
// handed to the bus or ctx ends. It is safe to call more than once.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Listener returns a removal listener publishing an Event for every entry
// leaving the cache called cacheName. Keys are rendered with fmt.
func Listener[K comparable](p *Publisher, cacheName string) cache.RemovalListener[K] {
	return func(key K, reason cache.RemovalReason) {
		p.Enqueue(Event{
			ID:     uuid.NewString(),
			Cache:  cacheName,
			Key:    fmt.Sprint(key),
			Reason: reason.String(),
			At:     time.Now().UTC(),
		})
	}
}

// Subscribe decodes the events published on topic. Payloads that are not
// events are skipped. The returned channel is closed once ctx ends.
func Subscribe(ctx context.Context, bus syncbus.Bus, topic string) (<-chan Event, error) {
	raw, err := bus.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("notify: subscribe %s: %w", topic, err)
	}
	out := make(chan Event, syncbus.SubscriberBuffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-raw:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal(data, &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
