// Package syncbus carries cache events between processes. Every Bus fans a
// topic out to any number of local subscribers; slow subscribers lose
// messages instead of blocking the publisher.
package syncbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"

	lcerrors "github.com/mirkobrombin/go-lrucache/v1/errors"
)

// SubscriberBuffer is the capacity of every subscription channel.
const SubscriberBuffer = 64

// Bus provides a simple pub/sub mechanism for cache events.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe returns a channel receiving every payload published on topic
	// from now on. The channel is closed by Unsubscribe or when ctx ends.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Unsubscribe(ctx context.Context, topic string, ch <-chan []byte) error
}

// Metrics counts bus traffic as seen by this process.
type Metrics struct {
	Published uint64
	Delivered uint64
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped uint64
}

// fanout tracks the local subscribers of each topic. Deliveries happen
// under the lock so a channel is never written after it was closed.
type fanout struct {
	mu        sync.Mutex
	subs      map[string][]chan []byte
	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string][]chan []byte)}
}

// add registers a new subscriber and reports whether it is the first one
// for topic.
func (f *fanout) add(topic string) (chan []byte, bool) {
	ch := make(chan []byte, SubscriberBuffer)
	f.mu.Lock()
	first := len(f.subs[topic]) == 0
	f.subs[topic] = append(f.subs[topic], ch)
	f.mu.Unlock()
	return ch, first
}

// remove closes ch and reports whether topic has no subscribers left.
// Removing an unknown channel is a no-op reporting false.
func (f *fanout) remove(topic string, ch <-chan []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[topic]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			if len(subs) == 0 {
				delete(f.subs, topic)
				return true
			}
			f.subs[topic] = subs
			return false
		}
	}
	return false
}

func (f *fanout) deliver(topic string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[topic] {
		select {
		case ch <- payload:
			f.delivered.Add(1)
		default:
			f.dropped.Add(1)
		}
	}
}

// closeAll closes every subscriber channel.
func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for topic, subs := range f.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(f.subs, topic)
	}
}

func (f *fanout) has(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic]) > 0
}

func (f *fanout) metrics() Metrics {
	return Metrics{
		Published: f.published.Load(),
		Delivered: f.delivered.Load(),
		Dropped:   f.dropped.Load(),
	}
}

// unsubscribeOnDone detaches ch once ctx ends.
func unsubscribeOnDone(ctx context.Context, b Bus, topic string, ch <-chan []byte) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return mapErr(err)
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return lcerrors.ErrTimeout
	case errors.Is(err, redis.ErrClosed):
		return lcerrors.ErrConnectionClosed
	default:
		return err
	}
}

// InMemoryBus is a process-local Bus, mainly for tests and single-node
// setups.
type InMemoryBus struct {
	f *fanout
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{f: newFanout()}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	b.f.published.Add(1)
	b.f.deliver(topic, append([]byte(nil), payload...))
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	ch, _ := b.f.add(topic)
	unsubscribeOnDone(ctx, b, topic, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, topic string, ch <-chan []byte) error {
	b.f.remove(topic, ch)
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return b.f.metrics()
}
