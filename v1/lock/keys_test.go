package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	k, err := Key("admission", "create", "tenant:42")
	require.NoError(t, err)
	require.Equal(t, "admission:create:tenant:42", k)

	for _, tc := range [][3]string{
		{"", "create", "1"},
		{"admission", "", "1"},
		{"admission", "create", ""},
		{"adm:ission", "create", "1"},
		{"admission", "cre:ate", "1"},
	} {
		_, err := Key(tc[0], tc[1], tc[2])
		require.ErrorIs(t, err, ErrInvalidKey, "%v", tc)
	}
	require.Panics(t, func() { MustKey("", "sweep", "x") })
}

func TestOwnerScope(t *testing.T) {
	_, ok := OwnerFrom(context.Background())
	require.False(t, ok)

	ctx := EnsureOwner(context.Background())
	o, ok := OwnerFrom(ctx)
	require.True(t, ok)
	require.NotEmpty(t, o)
	require.Equal(t, ctx, EnsureOwner(ctx))

	_, ok = OwnerFrom(WithOwner(context.Background(), ""))
	require.False(t, ok)
}

func TestTokensAreUnique(t *testing.T) {
	a, err := newToken("alice")
	require.NoError(t, err)
	b, err := newToken("alice")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Contains(t, a, "alice:")
}

func TestRenewInterval(t *testing.T) {
	require.Equal(t, 10*time.Second, renewInterval(30*time.Second))
	require.Equal(t, time.Second, renewInterval(3*time.Second))
	require.Equal(t, 10*time.Millisecond, renewInterval(9*time.Millisecond))
	require.Equal(t, 10*time.Second, renewInterval(time.Hour))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "created", StateCreated.String())
	require.Equal(t, "active", StateActive.String())
	require.Equal(t, "released", StateReleased.String())
	require.Equal(t, "expired", StateExpired.String())
	require.Equal(t, "unknown", State(42).String())
}
