package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestInMemoryContract(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewInMemory()
	s.now = clock.Now
	runStoreContract(t, s, func(ttl time.Duration) { clock.Advance(ttl) })
}

func TestInMemoryExpiresOnWallClock(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	ok, err := s.TryCreate(ctx, "k", "a", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, s.Len())

	time.Sleep(40 * time.Millisecond)

	ok, err = s.TryCreate(ctx, "k", "b", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInMemoryHonoursCancelledContext(t *testing.T) {
	s := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.TryCreate(ctx, "k", "a", time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, s.Len())
}
