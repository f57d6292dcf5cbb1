package syncbus

import (
	"context"
	"sync"

	nats "github.com/nats-io/nats.go"
)

// NATSBus implements Bus using a NATS backend. Topics map to subjects.
type NATSBus struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
	f    *fanout
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn: conn,
		subs: make(map[string]*nats.Subscription),
		f:    newFanout(),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := b.conn.Publish(topic, payload); err != nil {
		return err
	}
	b.f.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	ch, first := b.f.add(topic)
	if first {
		sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
			b.f.deliver(topic, msg.Data)
		})
		if err == nil {
			// Make sure the server knows about the subscription before
			// the caller starts publishing.
			err = b.conn.Flush()
			if err != nil {
				_ = sub.Unsubscribe()
			}
		}
		if err != nil {
			b.f.remove(topic, ch)
			b.mu.Unlock()
			return nil, err
		}
		b.subs[topic] = sub
	}
	b.mu.Unlock()
	unsubscribeOnDone(ctx, b, topic, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, topic string, ch <-chan []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.f.remove(topic, ch) {
		return nil
	}
	sub := b.subs[topic]
	delete(b.subs, topic)
	if sub == nil || !sub.IsValid() {
		return nil
	}
	return sub.Unsubscribe()
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return b.f.metrics()
}
