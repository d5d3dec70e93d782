package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// RedisLock implements Store on top of github.com/bsm/redislock. The library
// already evaluates obtain, refresh and release as server-side scripts; this
// adapter keeps the *redislock.Lock handles it creates so that later extend
// and delete calls can be routed to them.
//
// Handles live in this process only: a token created by another process is
// never extended or deleted through a RedisLock store, which matches how the
// lock manager uses the contract.
type RedisLock struct {
	client *redislock.Client

	mu    sync.Mutex
	locks map[string]*redislock.Lock
}

// NewRedisLock returns a store backed by the given Redis client.
func NewRedisLock(c redislock.RedisClient) *RedisLock {
	return &RedisLock{
		client: redislock.New(c),
		locks:  make(map[string]*redislock.Lock),
	}
}

func handleID(key, token string) string {
	return key + "\x00" + token
}

// TryCreate implements Store.TryCreate.
func (s *RedisLock) TryCreate(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	l, err := s.client.Obtain(ctx, key, ttl, &redislock.Options{
		Token: token,
		// No retry strategy, retries belong to the caller.
		RetryStrategy: redislock.NoRetry(),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return false, nil
		}
		return false, mapRedisErr(err)
	}
	s.mu.Lock()
	s.locks[handleID(key, token)] = l
	s.mu.Unlock()
	return true, nil
}

// TryExtend implements Store.TryExtend.
func (s *RedisLock) TryExtend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	id := handleID(key, token)
	s.mu.Lock()
	l, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := l.Refresh(ctx, ttl, nil); err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			s.forget(id, l)
			return false, nil
		}
		return false, mapRedisErr(err)
	}
	return true, nil
}

// TryDelete implements Store.TryDelete.
func (s *RedisLock) TryDelete(ctx context.Context, key, token string) (bool, error) {
	id := handleID(key, token)
	s.mu.Lock()
	l, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := l.Release(ctx); err != nil {
		if errors.Is(err, redislock.ErrLockNotHeld) {
			s.forget(id, l)
			return false, nil
		}
		return false, mapRedisErr(err)
	}
	s.forget(id, l)
	return true, nil
}

func (s *RedisLock) forget(id string, l *redislock.Lock) {
	s.mu.Lock()
	if s.locks[id] == l {
		delete(s.locks, id)
	}
	s.mu.Unlock()
}
