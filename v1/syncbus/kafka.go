package syncbus

import (
	"context"
	"sync"

	sarama "github.com/IBM/sarama"
)

// KafkaBus implements Bus using a Kafka backend. Every topic is consumed
// from partition 0 starting at the newest offset, so subscribers only see
// messages produced after they subscribed.
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	client   sarama.Client
	mu       sync.Mutex
	subs     map[string]sarama.PartitionConsumer
	f        *fanout
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	b := NewKafkaBusFromClients(producer, consumer)
	b.client = client
	return b, nil
}

// NewKafkaBusFromClients builds a KafkaBus on an existing producer and
// consumer. Close closes both.
func NewKafkaBusFromClients(producer sarama.SyncProducer, consumer sarama.Consumer) *KafkaBus {
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		subs:     make(map[string]sarama.PartitionConsumer),
		f:        newFanout(),
	}
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(payload)}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	b.f.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	ch, first := b.f.add(topic)
	if first {
		pc, err := b.consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
		if err != nil {
			b.f.remove(topic, ch)
			b.mu.Unlock()
			return nil, err
		}
		b.subs[topic] = pc
		go b.dispatch(topic, pc)
	}
	b.mu.Unlock()
	unsubscribeOnDone(ctx, b, topic, ch)
	return ch, nil
}

func (b *KafkaBus) dispatch(topic string, pc sarama.PartitionConsumer) {
	for msg := range pc.Messages() {
		b.f.deliver(topic, msg.Value)
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, topic string, ch <-chan []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.f.remove(topic, ch) {
		return nil
	}
	pc := b.subs[topic]
	delete(b.subs, topic)
	if pc == nil {
		return nil
	}
	return pc.Close()
}

// Metrics returns the published and delivered counts.
func (b *KafkaBus) Metrics() Metrics {
	return b.f.metrics()
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() {
	b.mu.Lock()
	for topic, pc := range b.subs {
		_ = pc.Close()
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	b.f.closeAll()
	_ = b.producer.Close()
	_ = b.consumer.Close()
	if b.client != nil {
		_ = b.client.Close()
	}
}
