package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-ward/v1/lock"
	"github.com/mirkobrombin/go-ward/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-ward/v1/retry")

const (
	// DefaultRetries is the attempt budget used when Run gets a non-positive
	// maxRetries.
	DefaultRetries = 3
	// DefaultMaxRetries caps the budget a single call may ask for.
	DefaultMaxRetries = 50
)

// Locker is the part of *lock.Manager an Executor needs.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration, opts ...lock.LockOption) (bool, error)
	Release(ctx context.Context, key string) error
}

var _ Locker = (*lock.Manager)(nil)

// Executor acquires a key, runs work while holding it and releases it,
// retrying on contention and on conflicts.
type Executor struct {
	locker       Locker
	acquire      Policy
	conflict     Policy
	ceiling      int
	logger       *slog.Logger
	traceEnabled bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithAcquireBackoff sets the policy used while another owner holds the key.
func WithAcquireBackoff(p Policy) Option {
	return func(e *Executor) {
		if p != nil {
			e.acquire = p
		}
	}
}

// WithConflictBackoff sets the policy used after the work reported a
// conflict.
func WithConflictBackoff(p Policy) Option {
	return func(e *Executor) {
		if p != nil {
			e.conflict = p
		}
	}
}

// WithMaxRetries sets the highest attempt budget a call may request.
// Larger requests are clamped.
func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.ceiling = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracing enables OpenTelemetry spans around Run.
func WithTracing() Option {
	return func(e *Executor) {
		e.traceEnabled = true
	}
}

// New returns an Executor that locks through l.
func New(l Locker, opts ...Option) *Executor {
	e := &Executor{
		locker:   l,
		acquire:  DefaultAcquireBackoff,
		conflict: DefaultConflictBackoff,
		ceiling:  DefaultMaxRetries,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes work while holding key, making at most maxRetries attempts.
//
// An attempt fails when the key is held by another owner or when work
// returns an error wrapping lock.ErrConflict; in both cases Run backs off and
// tries again. Any other error from work is returned unchanged. When the
// budget runs out, or ctx ends while waiting, Run returns a
// *lock.AcquisitionError. The lock is released on every exit path of work,
// including panics.
//
// If ctx carries no owner a fresh one is attached, so concurrent Runs on the
// same key from plain contexts exclude each other.
func (e *Executor) Run(ctx context.Context, key string, ttl time.Duration, maxRetries int, work func(ctx context.Context) error) (err error) {
	ctx = lock.EnsureOwner(ctx)
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}
	if maxRetries <= 0 {
		maxRetries = DefaultRetries
	}
	if maxRetries > e.ceiling {
		e.logger.Warn("ward: retry budget clamped", "key", key, "requested", maxRetries, "max", e.ceiling)
		maxRetries = e.ceiling
	}

	var span trace.Span
	if e.traceEnabled {
		ctx, span = tracer.Start(ctx, "Executor.Run", trace.WithAttributes(
			attribute.String("ward.key", key),
			attribute.Int("ward.max_retries", maxRetries),
		))
		defer span.End()
	}

	attempts := 0
	defer func() {
		outcome := outcomeOf(err)
		p := recover()
		if p != nil {
			outcome = "panic"
		}
		metrics.RunTotal.WithLabelValues(outcome).Inc()
		metrics.RunAttempts.Observe(float64(attempts))
		if span != nil {
			span.SetAttributes(
				attribute.Int("ward.attempts", attempts),
				attribute.String("ward.outcome", outcome),
			)
			if err != nil || p != nil {
				if err != nil {
					span.RecordError(err)
				}
				span.SetStatus(codes.Error, outcome)
			}
		}
		if p != nil {
			panic(p)
		}
	}()

	var last error
	for attempts < maxRetries {
		attempts++

		ok, err := e.locker.TryLock(ctx, key, ttl)
		if err != nil {
			return err
		}

		var policy Policy
		if !ok {
			last = lock.ErrNotObtained
			policy = e.acquire
			e.logger.Debug("ward: key busy", "key", key, "attempt", attempts)
		} else {
			err := e.runLocked(ctx, key, work)
			switch {
			case err == nil:
				return nil
			case !lock.IsConflict(err):
				return err
			}
			last = err
			policy = e.conflict
			e.logger.Debug("ward: conflict, retrying", "key", key, "attempt", attempts, "error", err)
		}

		if attempts == maxRetries {
			break
		}
		if err := Wait(ctx, policy, attempts); err != nil {
			return &lock.AcquisitionError{Key: key, Attempts: attempts, Cause: err}
		}
	}
	return &lock.AcquisitionError{Key: key, Attempts: attempts, Cause: last}
}

// runLocked runs work and always releases key afterwards. Release failures
// are lock-layer concerns and are only logged.
func (e *Executor) runLocked(ctx context.Context, key string, work func(ctx context.Context) error) error {
	defer func() {
		if err := e.locker.Release(ctx, key); err != nil {
			e.logger.Error("ward: release after work failed", "key", key, "error", err)
		}
	}()
	return work(ctx)
}

func outcomeOf(err error) string {
	var acqErr *lock.AcquisitionError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.As(err, &acqErr):
		return "exhausted"
	default:
		return "error"
	}
}

// Do is Run for work that produces a value.
func Do[T any](ctx context.Context, e *Executor, key string, ttl time.Duration, maxRetries int, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Run(ctx, key, ttl, maxRetries, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
