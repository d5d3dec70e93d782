package syncbus

import (
	"context"
	"sync"

	sarama "github.com/IBM/sarama"
)

// DefaultKafkaTopic is the topic used when none is configured.
const DefaultKafkaTopic = "ward.notifications"

// KafkaBus implements Bus using a single Kafka topic. The bus key travels as
// the message key and is fanned out to local subscribers on consumption, so
// any key can be used regardless of Kafka topic naming rules.
type KafkaBus struct {
	counters

	client    sarama.Client
	producer  sarama.SyncProducer
	consumer  sarama.Consumer
	partition []sarama.PartitionConsumer
	topic     string

	mu        sync.Mutex
	subs      map[string][]chan struct{}
	closeOnce sync.Once
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers and
// consuming every partition of topic from the newest offset.
func NewKafkaBus(brokers []string, topic string, cfg *sarama.Config) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
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
	b := &KafkaBus{
		client:   client,
		producer: producer,
		consumer: consumer,
		topic:    topic,
		subs:     make(map[string][]chan struct{}),
	}
	partitions, err := consumer.Partitions(topic)
	if err != nil {
		b.Close()
		return nil, err
	}
	for _, p := range partitions {
		pc, err := consumer.ConsumePartition(topic, p, sarama.OffsetNewest)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.partition = append(b.partition, pc)
		go b.dispatch(pc)
	}
	return b, nil
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, key string) error {
	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder("1"),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

func (b *KafkaBus) dispatch(pc sarama.PartitionConsumer) {
	for msg := range pc.Messages() {
		key := string(msg.Key)
		b.mu.Lock()
		chans := append([]chan struct{}(nil), b.subs[key]...)
		b.mu.Unlock()
		b.notify(chans)
	}
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()
	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, _ := removeChan(b.subs[key], ch)
	if len(subs) == 0 {
		delete(b.subs, key)
	} else {
		b.subs[key] = subs
	}
	return nil
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() {
	b.closeOnce.Do(func() {
		for _, pc := range b.partition {
			_ = pc.Close()
		}
		_ = b.producer.Close()
		_ = b.consumer.Close()
		_ = b.client.Close()
	})
}
