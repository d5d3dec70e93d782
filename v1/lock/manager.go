package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/mirkobrombin/go-ward/v1/metrics"
	"github.com/mirkobrombin/go-ward/v1/store"
	"github.com/mirkobrombin/go-ward/v1/syncbus"
)

const (
	// DefaultTTL is the lease duration used by callers that have no better
	// estimate of their critical section.
	DefaultTTL = 30 * time.Second

	defaultPollInterval   = 100 * time.Millisecond
	defaultReleaseTimeout = 5 * time.Second
)

// Manager hands out leases on a store.Store. It is safe for concurrent use.
type Manager struct {
	store  store.Store
	bus    syncbus.Bus
	logger *slog.Logger

	renewInterval  time.Duration
	poolSize       int64
	pollInterval   time.Duration
	releaseTimeout time.Duration

	leases   *registry
	holds    *reentrancy
	watchdog *watchdog
	closed   atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for renewal and release diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBus publishes lock and unlock notifications on b and lets Acquire wake
// up on them.
func WithBus(b syncbus.Bus) Option {
	return func(m *Manager) {
		m.bus = b
	}
}

// WithRenewInterval overrides the default renewal interval of min(10s, ttl/3).
func WithRenewInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.renewInterval = d
	}
}

// WithWatchdogPool bounds how many renewals may hit the store at once.
func WithWatchdogPool(n int) Option {
	return func(m *Manager) {
		m.poolSize = int64(n)
	}
}

// WithPollInterval sets how often Acquire retries when no release
// notification arrives.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithReleaseTimeout bounds the store call made by Release. The call runs
// even if the caller's context is already cancelled.
func WithReleaseTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.releaseTimeout = d
		}
	}
}

// New returns a Manager backed by s.
func New(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:          s,
		logger:         slog.Default(),
		pollInterval:   defaultPollInterval,
		releaseTimeout: defaultReleaseTimeout,
		leases:         newRegistry(),
		holds:          newReentrancy(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.watchdog = newWatchdog(m, m.poolSize)
	return m
}

type lockOptions struct {
	watchdog bool
	interval time.Duration
}

// LockOption tunes a single acquisition.
type LockOption func(*lockOptions)

// WithoutWatchdog disables background renewal. The lease then expires after
// its ttl unless extended with Refresh.
func WithoutWatchdog() LockOption {
	return func(o *lockOptions) {
		o.watchdog = false
	}
}

// WithInterval overrides the renewal interval for this lease only.
func WithInterval(d time.Duration) LockOption {
	return func(o *lockOptions) {
		o.interval = d
	}
}

func (m *Manager) interval(ttl time.Duration, o lockOptions) time.Duration {
	switch {
	case o.interval > 0:
		return o.interval
	case m.renewInterval > 0:
		return m.renewInterval
	default:
		return renewInterval(ttl)
	}
}

func owner(ctx context.Context) (string, error) {
	o, ok := OwnerFrom(ctx)
	if !ok {
		return "", ErrNoOwner
	}
	return o, nil
}

// TryLock attempts to acquire key for the owner carried by ctx without
// waiting. It returns false, nil when another owner holds the key. If the
// owner already holds an active lease on key the call succeeds immediately
// and must be matched by one more Release. A lease lost to expiry is not
// reused: the key is requested from the store again.
func (m *Manager) TryLock(ctx context.Context, key string, ttl time.Duration, opts ...LockOption) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	if key == "" {
		return false, ErrInvalidKey
	}
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	o, err := owner(ctx)
	if err != nil {
		return false, err
	}

	live := func() bool {
		l, ok := m.leases.get(o, key)
		return ok && l.State() == StateActive
	}
	if m.holds.enter(o, key, live) {
		metrics.LockAcquireTotal.WithLabelValues("reentrant").Inc()
		return true, nil
	}

	lo := lockOptions{watchdog: true}
	for _, opt := range opts {
		opt(&lo)
	}

	token, err := newToken(o)
	if err != nil {
		metrics.LockAcquireTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("ward: acquire %q: %w", key, err)
	}
	ok, err := m.store.TryCreate(ctx, key, token, ttl)
	if err != nil {
		metrics.LockAcquireTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("ward: acquire %q: %w", key, err)
	}
	if !ok {
		metrics.LockAcquireTotal.WithLabelValues("contended").Inc()
		return false, nil
	}

	l := newLease(key, o, token, ttl, m.interval(ttl, lo))
	l.watchdog = lo.watchdog
	l.transition(StateCreated, StateActive)
	m.leases.put(l)
	m.holds.commit(o, key)
	if l.watchdog {
		m.watchdog.start(l)
	} else {
		close(l.done)
	}
	metrics.LockAcquireTotal.WithLabelValues("acquired").Inc()
	metrics.LeasesActive.Inc()
	m.notify(ctx, syncbus.LockTopic(key))
	return true, nil
}

// Acquire blocks until key is acquired or ctx is done. Between attempts it
// waits for an unlock notification on the configured bus or the poll
// interval, whichever comes first. Giving up yields an *AcquisitionError.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration, opts ...LockOption) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wake chan struct{}
	subscribed := false
	attempts := 0
	for {
		attempts++
		ok, err := m.TryLock(ctx, key, ttl, opts...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &AcquisitionError{Key: key, Attempts: attempts, Cause: ctxErr}
			}
			return err
		}
		if ok {
			return nil
		}
		if !subscribed && m.bus != nil {
			subscribed = true
			ch, err := m.bus.Subscribe(subCtx, syncbus.UnlockTopic(key))
			if err != nil {
				m.logger.Debug("ward: unlock subscription failed, polling", "key", key, "error", err)
			} else {
				wake = ch
			}
		}
		timer := time.NewTimer(m.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &AcquisitionError{Key: key, Attempts: attempts, Cause: ctx.Err()}
		case _, open := <-wake:
			if !open {
				wake = nil
			}
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Release gives up one hold on key. The final release of a reentrant hold
// stops the watchdog, waits for it to exit and deletes the token from the
// store. A lease that was lost in the meantime is logged and not reported as
// an error; releasing a key the owner never acquired returns ErrNotHeld.
// After Close every Release returns nil, since Close already released all
// leases.
func (m *Manager) Release(ctx context.Context, key string) error {
	o, err := owner(ctx)
	if err != nil {
		return err
	}
	final, held := m.holds.exit(o, key)
	if !held {
		if m.closed.Load() {
			m.logger.Debug("ward: release after close", "key", key)
			return nil
		}
		return ErrNotHeld
	}
	if !final {
		return nil
	}

	l, ok := m.leases.take(o, key)
	if !ok {
		if m.closed.Load() {
			m.logger.Debug("ward: release after close", "key", key)
			return nil
		}
		metrics.LockReleaseTotal.WithLabelValues("mismatch").Inc()
		m.logger.Warn("ward: released lease was already lost", "key", key, "error", ErrNotHeld)
		return nil
	}
	return m.release(ctx, l)
}

func (m *Manager) release(ctx context.Context, l *lease) error {
	l.stopWatchdog()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.releaseTimeout)
	defer cancel()

	if l.transition(StateActive, StateReleased) {
		metrics.LeasesActive.Dec()
	}
	metrics.LockHoldSeconds.Observe(time.Since(l.acquiredAt).Seconds())

	ok, err := m.store.TryDelete(rctx, l.key, l.token)
	switch {
	case err != nil:
		metrics.LockReleaseTotal.WithLabelValues("error").Inc()
		m.logger.Error("ward: release failed, lease will expire on its own", "key", l.key, "error", err)
		return fmt.Errorf("ward: release %q: %w", l.key, err)
	case !ok:
		metrics.LockReleaseTotal.WithLabelValues("mismatch").Inc()
		m.logger.Warn("ward: lease expired before release", "key", l.key, "error", ErrNotHeld)
		return nil
	}
	metrics.LockReleaseTotal.WithLabelValues("released").Inc()
	m.notify(rctx, syncbus.UnlockTopic(l.key))
	return nil
}

// Refresh extends a held lease to ttl, or to its current ttl when ttl is
// zero. It is mostly useful for leases acquired WithoutWatchdog.
func (m *Manager) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	o, err := owner(ctx)
	if err != nil {
		return err
	}
	l, ok := m.leases.get(o, key)
	if !ok || l.State() != StateActive {
		return ErrNotHeld
	}
	if ttl < 0 {
		return ErrInvalidTTL
	}
	if ttl == 0 {
		ttl = l.ttl.Load()
	}
	ok, err = m.store.TryExtend(ctx, key, l.token, ttl)
	if err != nil {
		return fmt.Errorf("ward: refresh %q: %w", key, err)
	}
	if !ok {
		if l.transition(StateActive, StateExpired) {
			metrics.LeasesActive.Dec()
		}
		m.leases.drop(l)
		return ErrNotHeld
	}
	l.ttl.Store(ttl)
	l.renewedAt.Store(time.Now())
	return nil
}

// Held reports whether the owner in ctx holds an active lease on key as far
// as this process knows. It does not contact the store.
func (m *Manager) Held(ctx context.Context, key string) bool {
	o, ok := OwnerFrom(ctx)
	if !ok {
		return false
	}
	l, ok := m.leases.get(o, key)
	return ok && l.State() == StateActive
}

// Leases returns a snapshot of the leases held by this process, ordered by
// key.
func (m *Manager) Leases() []LeaseInfo {
	return m.leases.snapshot()
}

// Close stops every watchdog and releases every lease held by this process,
// regardless of reentrancy depth. Further acquisitions fail with ErrClosed;
// releases of holds it dropped succeed silently.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, l := range m.leases.all() {
		if _, ok := m.leases.take(l.owner, l.key); !ok {
			continue
		}
		if err := m.release(ctx, l); err != nil {
			errs = append(errs, err)
		}
	}
	m.holds.clear()
	return errors.Join(errs...)
}

func (m *Manager) notify(ctx context.Context, topic string) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, topic); err != nil {
		m.logger.Debug("ward: notification not published", "topic", topic, "error", err)
	}
}
