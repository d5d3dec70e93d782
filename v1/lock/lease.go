package lock

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

// State is the lifecycle stage of a lease. Transitions only move forward:
// Created to Active, then Active to Released or Expired.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateReleased
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateReleased:
		return "released"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// LeaseInfo is a read-only snapshot of a held lease. Tokens are not exposed.
type LeaseInfo struct {
	Key        string
	Owner      string
	TTL        time.Duration
	Interval   time.Duration
	Watchdog   bool
	State      State
	AcquiredAt time.Time
	RenewedAt  time.Time
}

type lease struct {
	key      string
	owner    string
	token    string
	interval time.Duration
	watchdog bool

	acquiredAt time.Time
	ttl        atomic.Duration
	renewedAt  atomic.Time
	state      atomic.Int32

	cancel context.CancelFunc
	done   chan struct{}
}

func newLease(key, owner, token string, ttl, interval time.Duration) *lease {
	now := time.Now()
	l := &lease{
		key:        key,
		owner:      owner,
		token:      token,
		interval:   interval,
		acquiredAt: now,
		done:       make(chan struct{}),
	}
	l.ttl.Store(ttl)
	l.renewedAt.Store(now)
	l.state.Store(int32(StateCreated))
	return l
}

func (l *lease) State() State {
	return State(l.state.Load())
}

// transition moves the lease from one state to another and reports whether
// this call performed the move.
func (l *lease) transition(from, to State) bool {
	return l.state.CompareAndSwap(int32(from), int32(to))
}

// stopWatchdog cancels the renewal goroutine and waits for it to exit. It is
// safe to call on leases without a watchdog and more than once.
func (l *lease) stopWatchdog() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

func (l *lease) info() LeaseInfo {
	return LeaseInfo{
		Key:        l.key,
		Owner:      l.owner,
		TTL:        l.ttl.Load(),
		Interval:   l.interval,
		Watchdog:   l.watchdog,
		State:      l.State(),
		AcquiredAt: l.acquiredAt,
		RenewedAt:  l.renewedAt.Load(),
	}
}

// renewInterval is min(10s, ttl/3) with a 10ms floor.
func renewInterval(ttl time.Duration) time.Duration {
	interval := ttl / 3
	if interval > maxRenewInterval {
		interval = maxRenewInterval
	}
	if interval < minRenewInterval {
		interval = minRenewInterval
	}
	return interval
}
