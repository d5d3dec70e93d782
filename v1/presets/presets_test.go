package presets

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mirkobrombin/go-ward/v1/lock"
)

func TestNewInMemoryStandalone(t *testing.T) {
	w := NewInMemoryStandalone()
	ctx := context.Background()
	defer func() { _ = w.Close(ctx) }()

	ran := false
	if err := w.Run(ctx, "admission:create:1", time.Second, 3, func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ran {
		t.Fatal("work did not run")
	}
	if leases := w.Manager.Leases(); len(leases) != 0 {
		t.Fatalf("expected no leases after Run, got %v", leases)
	}
}

func TestNewRedis(t *testing.T) {
	for _, useRedisLock := range []bool{false, true} {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis run: %v", err)
		}

		w := NewRedis(RedisOptions{Addr: mr.Addr(), UseRedisLock: useRedisLock})
		ctx := context.Background()

		err = w.Run(ctx, "record:mutate:9", time.Minute, 3, func(context.Context) error {
			if !mr.Exists("record:mutate:9") {
				return errors.New("lease not stored in redis")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Run failed (redislock=%v): %v", useRedisLock, err)
		}
		if mr.Exists("record:mutate:9") {
			t.Fatalf("lease still stored after Run (redislock=%v)", useRedisLock)
		}
		if err := w.Close(ctx); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		mr.Close()
	}
}

func TestNewRedisKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	w := NewRedis(RedisOptions{Addr: mr.Addr(), KeyPrefix: "ward:"})
	ctx := lock.WithOwner(context.Background(), "alice")
	defer func() { _ = w.Close(ctx) }()

	ok, err := w.Manager.TryLock(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock: ok %v err %v", ok, err)
	}
	if !mr.Exists("ward:k") {
		t.Fatal("expected prefixed key in redis")
	}
}

func TestNewEtcd(t *testing.T) {
	addr := os.Getenv("WARD_TEST_ETCD_ADDR")
	if addr == "" {
		t.Skip("WARD_TEST_ETCD_ADDR not set, skipping etcd integration test")
	}
	client, err := clientv3.New(clientv3.Config{Endpoints: []string{addr}, DialTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("etcd client: %v", err)
	}
	defer client.Close()

	w := NewEtcd(client, EtcdOptions{Prefix: "/ward-test/" + uuid.NewString() + "/"})
	ctx := context.Background()
	defer func() { _ = w.Close(ctx) }()

	calls := 0
	err = w.Run(ctx, "review:auto:1", 5*time.Second, 3, func(context.Context) error {
		calls++
		if calls == 1 {
			return lock.Conflict(nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
