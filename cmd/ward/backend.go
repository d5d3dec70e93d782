package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mirkobrombin/go-ward/v1/presets"
	"github.com/mirkobrombin/go-ward/v1/syncbus"
)

const (
	busBreakerThreshold = 5
	busBreakerTimeout   = 10 * time.Second
)

// openWard builds the lock manager and executor selected by the
// configuration. The returned cleanup releases every lease and closes
// everything it opened.
func openWard(ctx context.Context) (*presets.Ward, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("ward: cleanup failed", "error", err)
			}
		}
	}

	bus, closeBus, err := openBus()
	if err != nil {
		return nil, nil, err
	}
	if closeBus != nil {
		closers = append(closers, closeBus)
	}

	opts := presets.Options{
		Logger:     slog.Default(),
		Tracing:    viper.GetBool("trace"),
		MaxRetries: viper.GetInt("max-retries"),
		Bus:        bus,
	}

	var w *presets.Ward
	switch backend := viper.GetString("backend"); backend {
	case "memory":
		w = presets.NewInMemory(opts)
	case "redis", "redislock":
		w = presets.NewRedis(presets.RedisOptions{
			Options:      opts,
			Addr:         viper.GetString("redis-addr"),
			Password:     viper.GetString("redis-password"),
			DB:           viper.GetInt("redis-db"),
			KeyPrefix:    viper.GetString("key-prefix"),
			UseRedisLock: backend == "redislock",
		})
	case "etcd":
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   splitList(viper.GetString("etcd-endpoints")),
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("etcd: %w", err)
		}
		closers = append(closers, client.Close)
		w = presets.NewEtcd(client, presets.EtcdOptions{Options: opts, Prefix: viper.GetString("key-prefix")})
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}

	return w, func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := w.Close(closeCtx); err != nil {
			slog.Warn("ward: close failed", "error", err)
		}
		cleanup()
	}, nil
}

// openBus returns nil for "auto" so that each preset picks its own default:
// the redis backends use redis pub/sub, memory uses an in-process bus and
// etcd polls.
func openBus() (syncbus.Bus, func() error, error) {
	switch kind := viper.GetString("bus"); kind {
	case "auto":
		return nil, nil, nil
	case "none":
		return noopBus{}, nil, nil
	case "memory":
		return syncbus.NewInMemoryBus(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     viper.GetString("redis-addr"),
			Password: viper.GetString("redis-password"),
			DB:       viper.GetInt("redis-db"),
		})
		rb := syncbus.NewRedisBus(client)
		return breaker(rb), func() error {
			return errors.Join(rb.Close(), client.Close())
		}, nil
	case "nats":
		conn, err := nats.Connect(viper.GetString("nats-url"))
		if err != nil {
			return nil, nil, fmt.Errorf("nats: %w", err)
		}
		return breaker(syncbus.NewNATSBus(conn)), func() error {
			conn.Close()
			return nil
		}, nil
	case "kafka":
		cfg := sarama.NewConfig()
		cfg.ClientID = "ward"
		kb, err := syncbus.NewKafkaBus(splitList(viper.GetString("kafka-brokers")), viper.GetString("kafka-topic"), cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka: %w", err)
		}
		return breaker(kb), func() error {
			kb.Close()
			return nil
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus %q", kind)
	}
}

func breaker(b syncbus.Bus) syncbus.Bus {
	return syncbus.NewCircuitBreaker(b, busBreakerThreshold, busBreakerTimeout)
}

// noopBus disables notifications.
type noopBus struct{}

func (noopBus) Publish(context.Context, string) error { return nil }

func (noopBus) Subscribe(context.Context, string) (chan struct{}, error) {
	return make(chan struct{}), nil
}

func (noopBus) Unsubscribe(context.Context, string, chan struct{}) error { return nil }
