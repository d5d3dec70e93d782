package lock

import (
	"context"

	"github.com/google/uuid"
)

type ownerKey struct{}

// WithOwner returns a context whose lock operations act on behalf of owner.
// Acquisitions made under the same owner are reentrant.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// NewOwner returns a fresh owner scope id.
func NewOwner() string {
	return uuid.NewString()
}

// OwnerFrom returns the owner scope carried by ctx.
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// EnsureOwner returns ctx unchanged if it already carries an owner, otherwise
// a child context with a new one.
func EnsureOwner(ctx context.Context) context.Context {
	if _, ok := OwnerFrom(ctx); ok {
		return ctx
	}
	return WithOwner(ctx, NewOwner())
}
