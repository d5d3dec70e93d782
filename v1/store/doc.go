// Package store defines the atomic key-value primitives the lock manager is
// built on and ships implementations for local memory, Redis (Lua scripts or
// github.com/bsm/redislock) and etcd (transactions bound to leases).
//
// Every primitive is a single conditional operation evaluated by the backend:
// implementations never read a value and then write it in a second call.
package store
