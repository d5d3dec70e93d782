package store

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// InMemory implements Store in local memory. Expired entries are dropped
// lazily, whenever a primitive touches their key. It is only shared between
// managers living in the same process and is meant for tests and single-node
// deployments.
type InMemory struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{items: make(map[string]entry), now: time.Now}
}

// live returns the entry for key if it has not expired. Callers hold s.mu.
func (s *InMemory) live(key string) (entry, bool) {
	e, ok := s.items[key]
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.items, key)
		return entry{}, false
	}
	return e, true
}

// TryCreate implements Store.TryCreate.
func (s *InMemory) TryCreate(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.items[key] = entry{token: token, expiresAt: s.now().Add(ttl)}
	return true, nil
}

// TryExtend implements Store.TryExtend.
func (s *InMemory) TryExtend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.token != token {
		return false, nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.items[key] = e
	return true, nil
}

// TryDelete implements Store.TryDelete.
func (s *InMemory) TryDelete(ctx context.Context, key, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.token != token {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// Len reports the number of live entries.
func (s *InMemory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.items {
		if _, ok := s.live(k); ok {
			n++
		}
	}
	return n
}
