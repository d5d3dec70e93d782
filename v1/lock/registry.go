package lock

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// holdKey identifies one owner's hold on one key.
type holdKey struct {
	owner string
	key   string
}

// registry is the process-wide table of held leases. Entries are inserted and
// removed by the acquiring call path; the watchdog only removes a lease it
// has found lost, and only if the entry still points at that lease.
type registry struct {
	leases *xsync.MapOf[holdKey, *lease]
}

func newRegistry() *registry {
	return &registry{leases: xsync.NewMapOf[holdKey, *lease]()}
}

func (r *registry) put(l *lease) {
	r.leases.Store(holdKey{owner: l.owner, key: l.key}, l)
}

func (r *registry) get(owner, key string) (*lease, bool) {
	return r.leases.Load(holdKey{owner: owner, key: key})
}

func (r *registry) take(owner, key string) (*lease, bool) {
	return r.leases.LoadAndDelete(holdKey{owner: owner, key: key})
}

// drop removes l if it is still the registered lease for its hold.
func (r *registry) drop(l *lease) {
	r.leases.Compute(holdKey{owner: l.owner, key: l.key}, func(cur *lease, loaded bool) (*lease, bool) {
		if !loaded {
			return nil, true
		}
		return cur, cur == l
	})
}

func (r *registry) size() int {
	return r.leases.Size()
}

func (r *registry) all() []*lease {
	out := make([]*lease, 0, r.leases.Size())
	r.leases.Range(func(_ holdKey, l *lease) bool {
		out = append(out, l)
		return true
	})
	return out
}

func (r *registry) snapshot() []LeaseInfo {
	leases := r.all()
	infos := make([]LeaseInfo, 0, len(leases))
	for _, l := range leases {
		infos = append(infos, l.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Key != infos[j].Key {
			return infos[i].Key < infos[j].Key
		}
		return infos[i].Owner < infos[j].Owner
	})
	return infos
}
