package syncbus

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const redisBusTimeout = 5 * time.Second

var tracer = otel.Tracer("github.com/mirkobrombin/go-lrucache/v1/syncbus")

// RedisBus implements Bus on Redis pub/sub. One Redis subscription is
// opened per topic and shared by all local subscribers.
type RedisBus struct {
	client *redis.Client
	mu     sync.Mutex
	subs   map[string]*redis.PubSub
	f      *fanout
}

// NewRedisBus returns a new RedisBus using the provided Redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		subs:   make(map[string]*redis.PubSub),
		f:      newFanout(),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, "RedisBus.Publish", trace.WithAttributes(attribute.String("lrucache.bus.topic", topic)))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, topic, payload).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return mapErr(err)
	}
	b.f.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The Redis subscription is confirmed
// before Subscribe returns, so a later Publish is never missed.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	ch, first := b.f.add(topic)
	if first {
		cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
		ps := b.client.Subscribe(cctx, topic)
		_, err := ps.Receive(cctx)
		cancel()
		if err != nil {
			_ = ps.Close()
			b.f.remove(topic, ch)
			b.mu.Unlock()
			return nil, mapErr(err)
		}
		b.subs[topic] = ps
		go b.dispatch(topic, ps)
	}
	b.mu.Unlock()
	unsubscribeOnDone(ctx, b, topic, ch)
	return ch, nil
}

func (b *RedisBus) dispatch(topic string, ps *redis.PubSub) {
	for msg := range ps.Channel() {
		b.f.deliver(topic, []byte(msg.Payload))
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string, ch <-chan []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.f.remove(topic, ch) {
		return nil
	}
	ps := b.subs[topic]
	delete(b.subs, topic)
	if ps == nil {
		return nil
	}
	return mapErr(ps.Close())
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return b.f.metrics()
}

// Close drops every subscription. The Redis client stays open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, ps := range b.subs {
		_ = ps.Close()
		delete(b.subs, topic)
	}
	b.f.closeAll()
	return nil
}
