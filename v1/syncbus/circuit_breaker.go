package syncbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("ward: notification bus circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	default:
		return "half-open"
	}
}

// CircuitBreakerBus decorates a Bus so that a failing transport is skipped
// for a while instead of adding its timeout to every lock release. Only
// Publish is guarded: a failed Subscribe already makes waiters fall back to
// polling.
type CircuitBreakerBus struct {
	bus    Bus
	logger *slog.Logger

	mu        sync.RWMutex
	state     breakerState
	failures  int
	threshold int
	timeout   time.Duration
	lastFail  time.Time
}

// BreakerOption configures a CircuitBreakerBus.
type BreakerOption func(*CircuitBreakerBus)

// WithBreakerLogger logs state changes on l.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(cb *CircuitBreakerBus) {
		if l != nil {
			cb.logger = l
		}
	}
}

// NewCircuitBreaker opens the circuit after threshold consecutive publish
// failures and probes again once timeout has passed.
func NewCircuitBreaker(bus Bus, threshold int, timeout time.Duration, opts ...BreakerOption) *CircuitBreakerBus {
	if threshold <= 0 {
		threshold = 1
	}
	cb := &CircuitBreakerBus{
		bus:       bus,
		logger:    slog.Default(),
		threshold: threshold,
		timeout:   timeout,
		state:     breakerClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// IsHealthy returns true if the circuit is closed or ready for a probe.
func (cb *CircuitBreakerBus) IsHealthy() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state == breakerOpen {
		return time.Since(cb.lastFail) > cb.timeout
	}
	return true
}

// State reports "closed", "open" or "half-open".
func (cb *CircuitBreakerBus) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state.String()
}

// allow moves an expired open circuit to half-open and lets exactly one
// probe through.
func (cb *CircuitBreakerBus) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(cb.lastFail) > cb.timeout {
			cb.state = breakerHalfOpen
			return true
		}
	}
	return false
}

func (cb *CircuitBreakerBus) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != breakerClosed {
		cb.logger.Info("ward: notification bus recovered")
	}
	cb.state = breakerClosed
	cb.failures = 0
}

func (cb *CircuitBreakerBus) onFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFail = time.Now()
	cb.failures++
	if (cb.state == breakerClosed && cb.failures >= cb.threshold) || cb.state == breakerHalfOpen {
		cb.state = breakerOpen
		cb.logger.Warn("ward: notification bus circuit opened",
			"failures", cb.failures,
			"retry_in", cb.timeout,
			"error", err)
	}
}

// Publish implements Bus.Publish.
func (cb *CircuitBreakerBus) Publish(ctx context.Context, key string) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	if err := cb.bus.Publish(ctx, key); err != nil {
		cb.onFailure(err)
		return err
	}
	cb.onSuccess()
	return nil
}

// Subscribe implements Bus.Subscribe.
func (cb *CircuitBreakerBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	return cb.bus.Subscribe(ctx, key)
}

// Unsubscribe implements Bus.Unsubscribe.
func (cb *CircuitBreakerBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	return cb.bus.Unsubscribe(ctx, key, ch)
}
