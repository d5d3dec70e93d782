package lock

import (
	"errors"
	"fmt"
)

var (
	// ErrNotObtained is the cause of an AcquisitionError when the key stayed
	// held by someone else for every attempt.
	ErrNotObtained = errors.New("ward: lock not obtained")
	// ErrNotHeld is returned when releasing or refreshing a key the caller does
	// not hold.
	ErrNotHeld = errors.New("ward: lock not held")
	// ErrConflict marks an optimistic-concurrency failure raised by guarded
	// work. Work returning it is retried.
	ErrConflict = errors.New("ward: conflict")
	// ErrRenewal is recorded when the watchdog cannot extend a lease.
	ErrRenewal = errors.New("ward: lease renewal failed")
	// ErrNoOwner is returned when the context carries no owner scope.
	ErrNoOwner = errors.New("ward: no owner in context")
	// ErrInvalidKey is returned for empty or malformed lock keys.
	ErrInvalidKey = errors.New("ward: invalid lock key")
	// ErrInvalidTTL is returned for non-positive lease durations.
	ErrInvalidTTL = errors.New("ward: lease ttl must be positive")
	// ErrClosed is returned by a Manager after Close.
	ErrClosed = errors.New("ward: lock manager closed")
)

// AcquisitionError reports that a key could not be locked, or guarded work
// kept conflicting, within the allowed number of attempts.
type AcquisitionError struct {
	Key      string
	Attempts int
	Cause    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("ward: could not acquire %q after %d attempt(s): %v", e.Key, e.Attempts, e.Cause)
}

func (e *AcquisitionError) Unwrap() error { return e.Cause }

// Conflict wraps err so that it matches ErrConflict. A nil err yields
// ErrConflict itself.
func Conflict(err error) error {
	if err == nil {
		return ErrConflict
	}
	if errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConflict, err)
}

// IsConflict reports whether err carries ErrConflict in its chain.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
