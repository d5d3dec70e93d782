package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTTL is returned when a non-positive TTL is passed to TryCreate or
// TryExtend.
var ErrInvalidTTL = errors.New("ward: store ttl must be positive")

// Store is the contract every lock backend fulfils.
//
// A false result with a nil error means the precondition did not hold and
// nothing was changed. A non-nil error means the backend could not answer;
// callers must not assume anything about the stored value in that case.
type Store interface {
	// TryCreate stores token under key with the given expiry, only if no
	// live value exists for key.
	TryCreate(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// TryExtend resets the expiry of key to ttl, only if its current value
	// equals token.
	TryExtend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// TryDelete removes key, only if its current value equals token.
	TryDelete(ctx context.Context, key, token string) (bool, error)
}

func checkTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
