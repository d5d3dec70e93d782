package syncbus

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

const defaultRedisChannelPrefix = "ward:bus:"

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan struct{}
}

// RedisBus implements Bus on Redis pub/sub. It is the natural companion of
// the Redis lock store since it needs no extra infrastructure.
type RedisBus struct {
	counters

	client redis.UniversalClient
	prefix string

	mu   sync.Mutex
	subs map[string]*redisSubscription
}

// NewRedisBus returns a new RedisBus using the provided Redis client.
func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{
		client: client,
		prefix: defaultRedisChannelPrefix,
		subs:   make(map[string]*redisSubscription),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	if err := b.client.Publish(ctx, b.prefix+key, "1").Err(); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		ps := b.client.Subscribe(ctx, b.prefix+key)
		// Wait for the subscription confirmation so that a publish issued
		// right after Subscribe returns is not lost.
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			b.mu.Unlock()
			return nil, err
		}
		sub = &redisSubscription{pubsub: ps}
		b.subs[key] = sub
		go b.dispatch(key, sub)
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

func (b *RedisBus) dispatch(key string, sub *redisSubscription) {
	for range sub.pubsub.Channel() {
		b.mu.Lock()
		var chans []chan struct{}
		if b.subs[key] == sub {
			chans = append(chans, sub.chans...)
		}
		b.mu.Unlock()
		b.notify(chans)
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	sub.chans, _ = removeChan(sub.chans, ch)
	if len(sub.chans) == 0 {
		delete(b.subs, key)
		b.mu.Unlock()
		return sub.pubsub.Close()
	}
	b.mu.Unlock()
	return nil
}

// Close drops every subscription.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, sub := range b.subs {
		for _, ch := range sub.chans {
			close(ch)
		}
		_ = sub.pubsub.Close()
		delete(b.subs, key)
	}
	return nil
}
