package lock

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// reentrancy counts nested acquisitions per owner and key. Only the first
// acquisition touches the store, only the last release deletes from it.
type reentrancy struct {
	counts *xsync.MapOf[holdKey, int]
}

func newReentrancy() *reentrancy {
	return &reentrancy{counts: xsync.NewMapOf[holdKey, int]()}
}

// enter increments the count if owner already holds key and live reports
// that hold is still backed by an active lease. A false result means the
// caller must acquire in the store and then call commit; a count left over
// from a lost lease is kept as is so its pending releases still balance.
func (r *reentrancy) enter(owner, key string, live func() bool) (nested bool) {
	r.counts.Compute(holdKey{owner: owner, key: key}, func(n int, loaded bool) (int, bool) {
		if !loaded {
			return 0, true
		}
		if !live() {
			return n, false
		}
		nested = true
		return n + 1, false
	})
	return nested
}

// commit records the first hold after a successful store acquisition.
func (r *reentrancy) commit(owner, key string) {
	r.counts.Compute(holdKey{owner: owner, key: key}, func(n int, _ bool) (int, bool) {
		return n + 1, false
	})
}

// exit decrements the count. held is false if owner had no hold on key;
// final is true when the count dropped to zero and the entry was removed.
func (r *reentrancy) exit(owner, key string) (final, held bool) {
	r.counts.Compute(holdKey{owner: owner, key: key}, func(n int, loaded bool) (int, bool) {
		if !loaded {
			return 0, true
		}
		held = true
		if n <= 1 {
			final = true
			return 0, true
		}
		return n - 1, false
	})
	return final, held
}

func (r *reentrancy) depth(owner, key string) int {
	n, _ := r.counts.Load(holdKey{owner: owner, key: key})
	return n
}

func (r *reentrancy) clear() {
	r.counts.Clear()
}
