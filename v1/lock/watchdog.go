package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mirkobrombin/go-ward/v1/metrics"
)

const (
	maxRenewInterval = 10 * time.Second
	minRenewInterval = 10 * time.Millisecond

	defaultWatchdogPool = 4
)

// watchdog renews leases in the background. Every lease gets its own
// goroutine and ticker; the store calls themselves go through a weighted
// semaphore so a large number of leases cannot flood the backend.
type watchdog struct {
	m    *Manager
	pool *semaphore.Weighted
}

func newWatchdog(m *Manager, size int64) *watchdog {
	if size <= 0 {
		size = defaultWatchdogPool
	}
	return &watchdog{m: m, pool: semaphore.NewWeighted(size)}
}

// start launches renewal for l. The goroutine exits once ctx is cancelled
// through l.cancel or the lease is found lost; l.done is closed on exit.
func (w *watchdog) start(l *lease) {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go w.run(ctx, l)
}

func (w *watchdog) run(ctx context.Context, l *lease) {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.renew(ctx, l) {
				return
			}
		}
	}
}

// renew performs one extension and reports whether the watchdog should keep
// going.
func (w *watchdog) renew(ctx context.Context, l *lease) bool {
	if err := w.pool.Acquire(ctx, 1); err != nil {
		return false
	}
	ttl := l.ttl.Load()
	callCtx, cancel := context.WithTimeout(ctx, ttl)
	ok, err := w.m.store.TryExtend(callCtx, l.key, l.token, ttl)
	cancel()
	w.pool.Release(1)

	if ctx.Err() != nil {
		// Released while the call was in flight.
		return false
	}
	switch {
	case err != nil:
		metrics.LeaseRenewTotal.WithLabelValues("error").Inc()
		w.m.logger.Warn("ward: lease renewal failed",
			"key", l.key,
			"error", fmt.Errorf("%w: %w", ErrRenewal, err))
		if time.Since(l.renewedAt.Load()) < ttl {
			return true
		}
		w.lost(l, errors.New("no successful renewal within ttl"))
		return false
	case !ok:
		w.lost(l, ErrNotHeld)
		return false
	default:
		l.renewedAt.Store(time.Now())
		metrics.LeaseRenewTotal.WithLabelValues("renewed").Inc()
		return true
	}
}

// lost marks l expired and removes it from the registry. Work running under
// the lease is not interrupted.
func (w *watchdog) lost(l *lease, reason error) {
	if l.transition(StateActive, StateExpired) {
		metrics.LeasesActive.Dec()
	}
	w.m.leases.drop(l)
	metrics.LeaseRenewTotal.WithLabelValues("lost").Inc()
	w.m.logger.Warn("ward: lease lost, another holder may own the key",
		"key", l.key,
		"held_for", time.Since(l.acquiredAt),
		"error", reason)
}
