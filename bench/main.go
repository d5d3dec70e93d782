package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-ward/v1/presets"
	"github.com/mirkobrombin/go-ward/v1/retry"
)

var (
	concurrency = flag.Int("c", 50, "Concurrency")
	requests    = flag.Int("n", 20000, "Guarded executions")
	keys        = flag.Int("k", 16, "Distinct lock keys")
	target      = flag.String("target", "all", "Target: ward-local, ward-redis, ward-redislock, redis-setnx")
	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis Address")
)

func main() {
	flag.Parse()

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = []string{"ward-local", "ward-redis", "ward-redislock", "redis-setnx"}
	}

	fmt.Printf("| %-15s | %-10s | %-12s | %-12s | %-8s |\n", "System", "Ops/sec", "Avg Latency", "P99 Latency", "Failed")
	fmt.Println("|:---|:---|:---|:---|:---|")

	for _, t := range targets {
		runBenchmark(strings.TrimSpace(t))
	}
}

func runBenchmark(name string) {
	var (
		runFn   func(ctx context.Context, key string) error
		cleanup func()
	)

	ctx := context.Background()
	work := func(context.Context) error { return nil }

	switch name {
	case "ward-local":
		w := presets.NewInMemory(presets.Options{MaxRetries: retry.DefaultMaxRetries})
		runFn = func(ctx context.Context, k string) error { return w.Run(ctx, k, time.Second, retry.DefaultMaxRetries, work) }
		cleanup = func() { _ = w.Close(ctx) }

	case "ward-redis", "ward-redislock":
		w := presets.NewRedis(presets.RedisOptions{
			Addr:         *redisAddr,
			KeyPrefix:    "bench:",
			UseRedisLock: name == "ward-redislock",
		})
		runFn = func(ctx context.Context, k string) error { return w.Run(ctx, k, time.Second, retry.DefaultMaxRetries, work) }
		cleanup = func() { _ = w.Close(ctx) }

	case "redis-setnx":
		// Baseline: a bare SET NX / DEL pair without renewal or retries.
		r := redis.NewClient(&redis.Options{Addr: *redisAddr})
		runFn = func(ctx context.Context, k string) error {
			token := uuid.NewString()
			ok, err := r.SetNX(ctx, "bench:"+k, token, time.Second).Result()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("busy")
			}
			return r.Del(ctx, "bench:"+k).Err()
		}
		cleanup = func() { r.Close() }

	default:
		log.Printf("Unknown target: %s", name)
		return
	}

	if cleanup != nil {
		defer cleanup()
	}

	var (
		wg     sync.WaitGroup
		ops    int64
		failed int64
		mu     sync.Mutex
		lats   = make([]time.Duration, 0, *requests)
	)

	start := time.Now()
	chunk := *requests / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			local := make([]time.Duration, 0, chunk)
			for j := 0; j < chunk; j++ {
				key := fmt.Sprintf("bench:run:%d", (worker+j)%*keys)
				t0 := time.Now()
				if err := runFn(ctx, key); err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				local = append(local, time.Since(t0))
				atomic.AddInt64(&ops, 1)
			}
			mu.Lock()
			lats = append(lats, local...)
			mu.Unlock()
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	if ops == 0 {
		fmt.Printf("| %-15s | %-10s | %-12s | %-12s | %-8d |\n", name, "ERROR", "-", "-", failed)
		return
	}

	sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })
	p99 := lats[len(lats)*99/100]
	throughput := float64(ops) / elapsed.Seconds()
	var total time.Duration
	for _, l := range lats {
		total += l
	}
	avgLat := total / time.Duration(len(lats))

	fmt.Printf("| %-15s | %-10.0f | %-12s | %-12s | %-8d |\n", name, throughput, avgLat, p99, failed)
}
