package syncbus

import (
	"context"
	"sync"

	nats "github.com/nats-io/nats.go"
)

const defaultNATSSubjectPrefix = "ward."

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan struct{}
}

// NATSBus implements Bus using a NATS backend. Each topic maps to one
// subject under the configured prefix.
type NATSBus struct {
	counters

	conn    *nats.Conn
	prefix  string
	mu      sync.Mutex
	subs    map[string]*natsSubscription
	pending map[string]struct{}
}

// NATSOption configures a NATSBus.
type NATSOption func(*NATSBus)

// WithSubjectPrefix overrides the subject prefix (default "ward.").
func WithSubjectPrefix(prefix string) NATSOption {
	return func(b *NATSBus) {
		b.prefix = prefix
	}
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn, opts ...NATSOption) *NATSBus {
	b := &NATSBus{
		conn:    conn,
		prefix:  defaultNATSSubjectPrefix,
		subs:    make(map[string]*natsSubscription),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	if _, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return nil // deduplicate
	}
	b.pending[key] = struct{}{}
	b.mu.Unlock()

	err := b.conn.Publish(b.prefix+key, []byte("1"))
	if err == nil {
		b.published.Add(1)
	}

	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()
	return err
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		ns, err := b.conn.Subscribe(b.prefix+key, func(_ *nats.Msg) {
			b.mu.Lock()
			var chans []chan struct{}
			if s := b.subs[key]; s != nil {
				chans = append(chans, s.chans...)
			}
			b.mu.Unlock()
			b.notify(chans)
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		// Make sure the server knows about the subscription before returning,
		// otherwise an immediate publish may be missed.
		if err := b.conn.Flush(); err != nil {
			_ = ns.Unsubscribe()
			b.mu.Unlock()
			return nil, err
		}
		sub = &natsSubscription{sub: ns}
		b.subs[key] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
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
		return sub.sub.Unsubscribe()
	}
	b.mu.Unlock()
	return nil
}
