package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy computes how long to wait before the next attempt. attempt is the
// 1-based number of the attempt that just failed.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Linear waits Base + attempt*Step plus a random duration in [0, Jitter).
type Linear struct {
	Base   time.Duration
	Step   time.Duration
	Jitter time.Duration
}

// Delay implements Policy.
func (p Linear) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.Base + time.Duration(attempt)*p.Step + jitter(p.Jitter)
}

// Jitter waits a random duration in [Min, Max), regardless of the attempt.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

// Delay implements Policy.
func (p Jitter) Delay(int) time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + jitter(p.Max-p.Min)
}

var (
	// DefaultAcquireBackoff is used while the key is held by another owner.
	DefaultAcquireBackoff Policy = Linear{Base: 50 * time.Millisecond, Step: 50 * time.Millisecond, Jitter: 50 * time.Millisecond}
	// DefaultConflictBackoff is used after the work reported a conflict.
	DefaultConflictBackoff Policy = Jitter{Min: 5 * time.Millisecond, Max: 25 * time.Millisecond}
)

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// Wait sleeps for p.Delay(attempt) or until ctx is done, in which case it
// returns ctx.Err().
func Wait(ctx context.Context, p Policy, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
