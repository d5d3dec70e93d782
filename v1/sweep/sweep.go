// Package sweep runs a periodic job on exactly one instance at a time.
//
// Every instance runs a Runner for the same well-known key. On each tick the
// runner tries to lock the key; the instance that gets it runs the job, the
// others stay idle until the next tick. Failing to get the key is not an
// error.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/mirkobrombin/go-ward/v1/lock"
	"github.com/mirkobrombin/go-ward/v1/metrics"
)

const (
	stateNone = iota + 1
	stateRunning
	stateStopped
)

var (
	ErrAlreadyStarted = errors.New("ward: sweep runner already started")
	ErrInvalidConfig  = errors.New("ward: invalid sweep runner config")
)

// Locker is the part of *lock.Manager a Runner needs.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration, opts ...lock.LockOption) (bool, error)
	Release(ctx context.Context, key string) error
}

var _ Locker = (*lock.Manager)(nil)

// Job is the work performed by the instance holding the sweep key.
type Job func(ctx context.Context) error

// Stats counts ticks by outcome.
type Stats struct {
	Ran     uint64
	Skipped uint64
	Failed  uint64
}

// Runner ticks a Job under a singleton lock.
type Runner struct {
	state  atomic.Int32
	locker Locker
	key    string
	every  time.Duration
	ttl    time.Duration
	job    Job
	owner  string
	logger *slog.Logger

	immediate bool
	busy      atomic.Bool

	ran     atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithTTL sets the lease duration held while the job runs. The lease is
// renewed by the manager's watchdog, so it only bounds how long a crashed
// instance blocks the others. Default lock.DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithImmediate makes Start run a first tick right away instead of waiting a
// full period.
func WithImmediate() Option {
	return func(r *Runner) {
		r.immediate = true
	}
}

// New returns a Runner executing job every period while holding key.
func New(l Locker, key string, every time.Duration, job Job, opts ...Option) (*Runner, error) {
	if l == nil || job == nil {
		return nil, ErrInvalidConfig
	}
	if key == "" {
		return nil, lock.ErrInvalidKey
	}
	if every <= 0 {
		return nil, ErrInvalidConfig
	}
	r := &Runner{
		locker: l,
		key:    key,
		every:  every,
		ttl:    lock.DefaultTTL,
		job:    job,
		owner:  lock.NewOwner(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state.Store(stateNone)
	return r, nil
}

// Start launches the ticking goroutine. It returns once the goroutine is
// running; use Stop to end it.
func (r *Runner) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(stateNone, stateRunning) {
		return ErrAlreadyStarted
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	if r.immediate {
		_, _ = r.Tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Tick(ctx)
		}
	}
}

// Stop ends the ticking goroutine and waits for an in-flight job to finish.
func (r *Runner) Stop() {
	if !r.state.CompareAndSwap(stateRunning, stateStopped) {
		return
	}
	r.cancel()
	r.wg.Wait()
}

// Tick performs a single sweep attempt. It reports whether this instance ran
// the job; a key held elsewhere, or a tick already in flight on this Runner,
// yields false and no error.
func (r *Runner) Tick(ctx context.Context) (bool, error) {
	if !r.busy.CompareAndSwap(false, true) {
		r.skipped.Inc()
		metrics.SweepTotal.WithLabelValues("skipped").Inc()
		r.logger.Debug("ward: sweep already running on this instance", "key", r.key)
		return false, nil
	}
	defer r.busy.Store(false)

	ctx = lock.WithOwner(ctx, r.owner)
	ok, err := r.locker.TryLock(ctx, r.key, r.ttl)
	if err != nil {
		r.failed.Inc()
		metrics.SweepTotal.WithLabelValues("failed").Inc()
		r.logger.Error("ward: sweep lock failed", "key", r.key, "error", err)
		return false, err
	}
	if !ok {
		r.skipped.Inc()
		metrics.SweepTotal.WithLabelValues("skipped").Inc()
		r.logger.Debug("ward: sweep held by another instance", "key", r.key)
		return false, nil
	}
	defer func() {
		if err := r.locker.Release(ctx, r.key); err != nil {
			r.logger.Error("ward: sweep release failed", "key", r.key, "error", err)
		}
	}()

	start := time.Now()
	if err := r.job(ctx); err != nil {
		r.failed.Inc()
		metrics.SweepTotal.WithLabelValues("failed").Inc()
		r.logger.Error("ward: sweep failed", "key", r.key, "error", err)
		return true, err
	}
	r.ran.Inc()
	metrics.SweepTotal.WithLabelValues("ran").Inc()
	r.logger.Info("ward: sweep done", "key", r.key, "took", time.Since(start))
	return true, nil
}

// Stats returns the tick counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Ran:     r.ran.Load(),
		Skipped: r.skipped.Load(),
		Failed:  r.failed.Load(),
	}
}
