package presets

import (
	"context"
	"errors"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mirkobrombin/go-ward/v1/lock"
	"github.com/mirkobrombin/go-ward/v1/retry"
	"github.com/mirkobrombin/go-ward/v1/store"
	"github.com/mirkobrombin/go-ward/v1/syncbus"
)

// Breaker settings applied to networked buses. Notifications are hints, so a
// failing bus is simply skipped for a while.
const (
	breakerThreshold = 5
	breakerTimeout   = 10 * time.Second
)

// Ward bundles a lock manager with a retry executor sharing it.
type Ward struct {
	Manager  *lock.Manager
	Executor *retry.Executor
	Bus      syncbus.Bus

	closers []func() error
}

// Run is a shortcut for w.Executor.Run.
func (w *Ward) Run(ctx context.Context, key string, ttl time.Duration, maxRetries int, work func(ctx context.Context) error) error {
	return w.Executor.Run(ctx, key, ttl, maxRetries, work)
}

// Close releases every lease and closes the connections the preset opened.
func (w *Ward) Close(ctx context.Context) error {
	errs := []error{w.Manager.Close(ctx)}
	for i := len(w.closers) - 1; i >= 0; i-- {
		errs = append(errs, w.closers[i]())
	}
	return errors.Join(errs...)
}

// Options holds settings shared by every preset.
type Options struct {
	Logger *slog.Logger
	// Tracing enables OpenTelemetry spans on the executor.
	Tracing bool
	// MaxRetries caps the retry budget of a single Run.
	MaxRetries int
	// Bus carries release notifications between instances. Presets pick a
	// default when it is nil; without any bus waiters fall back to polling.
	Bus syncbus.Bus
}

func (o Options) build(s store.Store, bus syncbus.Bus) *Ward {
	lockOpts := []lock.Option{lock.WithLogger(o.Logger)}
	if bus != nil {
		lockOpts = append(lockOpts, lock.WithBus(bus))
	}
	m := lock.New(s, lockOpts...)

	retryOpts := []retry.Option{retry.WithLogger(o.Logger)}
	if o.MaxRetries > 0 {
		retryOpts = append(retryOpts, retry.WithMaxRetries(o.MaxRetries))
	}
	if o.Tracing {
		retryOpts = append(retryOpts, retry.WithTracing())
	}
	return &Ward{Manager: m, Executor: retry.New(m, retryOpts...), Bus: bus}
}

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Options

	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// UseRedisLock stores leases through bsm/redislock instead of the
	// built-in scripts.
	UseRedisLock bool
}

// NewRedis creates a Ward using Redis as both the lease store and the
// notification bus.
func NewRedis(opts RedisOptions) *Ward {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	var s store.Store
	if opts.UseRedisLock {
		s = store.NewRedisLock(client)
	} else {
		s = store.NewRedis(client, store.WithKeyPrefix(opts.KeyPrefix))
	}

	if opts.Bus != nil {
		w := opts.build(s, opts.Bus)
		w.closers = append(w.closers, client.Close)
		return w
	}
	rb := syncbus.NewRedisBus(client)
	w := opts.build(s, syncbus.NewCircuitBreaker(rb, breakerThreshold, breakerTimeout))
	w.closers = append(w.closers, client.Close, rb.Close)
	return w
}

// EtcdOptions configures the etcd preset.
type EtcdOptions struct {
	Options

	Prefix string
}

// NewEtcd creates a Ward storing leases in etcd through client. The client
// stays owned by the caller.
func NewEtcd(client *clientv3.Client, opts EtcdOptions) *Ward {
	var storeOpts []store.EtcdOption
	if opts.Prefix != "" {
		storeOpts = append(storeOpts, store.WithEtcdPrefix(opts.Prefix))
	}
	return opts.build(store.NewEtcd(client, storeOpts...), opts.Bus)
}

// NewInMemory creates a Ward on the in-memory store. Locks only exclude
// callers within this process.
func NewInMemory(opts Options) *Ward {
	bus := opts.Bus
	if bus == nil {
		bus = syncbus.NewInMemoryBus()
	}
	return opts.build(store.NewInMemory(), bus)
}

// NewInMemoryStandalone creates a Ward that runs entirely in-memory with no
// external dependencies and default settings.
func NewInMemoryStandalone() *Ward {
	return NewInMemory(Options{})
}
