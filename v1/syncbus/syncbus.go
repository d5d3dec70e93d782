// Package syncbus propagates lock and unlock notifications between processes
// so that waiters can retry as soon as a key is released instead of waiting
// for their next poll. Notifications are hints: losing one only delays a
// waiter until its poll interval elapses.
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus provides a simple pub/sub mechanism keyed by topic.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, key string, ch chan struct{}) error
}

// LockTopic is the topic published when key is acquired.
func LockTopic(key string) string { return "lock:" + key }

// UnlockTopic is the topic published when key is released.
func UnlockTopic(key string) string { return "unlock:" + key }

// Metrics reports how many notifications a bus sent and handed to local
// subscribers.
type Metrics struct {
	Published uint64
	Delivered uint64
}

type counters struct {
	published atomic.Uint64
	delivered atomic.Uint64
}

func (c *counters) Metrics() Metrics {
	return Metrics{
		Published: c.published.Load(),
		Delivered: c.delivered.Load(),
	}
}

// notify performs a non-blocking send on every channel. Subscriber channels
// are buffered with capacity one, so a pending notification is never doubled.
func (c *counters) notify(chans []chan struct{}) {
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
			c.delivered.Add(1)
		default:
		}
	}
}

// unsubscribeOnDone removes ch once ctx is cancelled.
func unsubscribeOnDone(ctx context.Context, b Bus, key string, ch chan struct{}) {
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
}

// removeChan deletes ch from chans and closes it. It reports whether ch was
// found.
func removeChan(chans []chan struct{}, ch chan struct{}) ([]chan struct{}, bool) {
	for i, c := range chans {
		if c == ch {
			chans[i] = chans[len(chans)-1]
			chans = chans[:len(chans)-1]
			close(c)
			return chans, true
		}
	}
	return chans, false
}

// InMemoryBus is a local implementation of Bus, used by single-process
// deployments and tests.
type InMemoryBus struct {
	counters

	mu      sync.Mutex
	subs    map[string][]chan struct{}
	pending map[string]struct{}
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan struct{}), pending: make(map[string]struct{})}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if _, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[key] = struct{}{}
	chans := append([]chan struct{}(nil), b.subs[key]...)
	b.mu.Unlock()

	b.published.Add(1)
	b.notify(chans)

	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()
	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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
