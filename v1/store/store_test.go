package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the three primitives against s. expire must make
// every entry written with ttl appear expired to the backend.
func runStoreContract(t *testing.T, s Store, expire func(ttl time.Duration)) {
	t.Helper()
	ctx := context.Background()
	ttl := 2 * time.Second

	t.Run("create is exclusive", func(t *testing.T) {
		ok, err := s.TryCreate(ctx, "contract:create", "a", ttl)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryCreate(ctx, "contract:create", "b", ttl)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("extend requires matching token", func(t *testing.T) {
		ok, err := s.TryCreate(ctx, "contract:extend", "a", ttl)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryExtend(ctx, "contract:extend", "b", ttl)
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = s.TryExtend(ctx, "contract:extend", "a", ttl)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryExtend(ctx, "contract:missing", "a", ttl)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("delete requires matching token", func(t *testing.T) {
		ok, err := s.TryCreate(ctx, "contract:delete", "a", ttl)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryDelete(ctx, "contract:delete", "b")
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = s.TryDelete(ctx, "contract:delete", "a")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryCreate(ctx, "contract:delete", "b", ttl)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("stale holder cannot touch new owner", func(t *testing.T) {
		ok, err := s.TryCreate(ctx, "contract:stale", "old", ttl)
		require.NoError(t, err)
		require.True(t, ok)

		expire(ttl)

		ok, err = s.TryCreate(ctx, "contract:stale", "new", ttl)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryExtend(ctx, "contract:stale", "old", ttl)
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = s.TryDelete(ctx, "contract:stale", "old")
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = s.TryCreate(ctx, "contract:stale", "third", ttl)
		require.NoError(t, err)
		require.False(t, ok, "new owner's entry must survive the stale release")
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		_, err := s.TryCreate(ctx, "contract:ttl", "a", 0)
		require.ErrorIs(t, err, ErrInvalidTTL)
		_, err = s.TryExtend(ctx, "contract:ttl", "a", -time.Second)
		require.ErrorIs(t, err, ErrInvalidTTL)
	})
}
