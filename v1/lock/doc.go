// Package lock implements lease-based distributed locks on top of a
// store.Store.
//
// A Manager hands out leases: a key holds one token with an expiry in the
// external store, and whoever's token is stored owns the key. Acquisition is
// reentrant per owner scope, carried in the context with WithOwner. While a
// lease is held a watchdog goroutine keeps extending it; if an extension is
// refused the lease is considered lost and the work running under it is not
// interrupted. Release only ever deletes the caller's own token.
//
// Contention is reported as (false, nil) by TryLock. Blocking callers can use
// Acquire, which wakes up on release notifications published on a
// syncbus.Bus. Retrying guarded work with backoff is left to the retry
// package.
package lock
