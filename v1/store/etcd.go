package store

import (
	"context"
	stdErrors "errors"
	"math"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	warderrors "github.com/mirkobrombin/go-ward/v1/errors"
)

const defaultEtcdOpTimeout = 5 * time.Second

// Etcd implements Store on etcd. Each token is attached to its own etcd lease
// so that expiry is enforced by the cluster; every primitive is a single
// transaction guarded by a compare on the key.
//
// etcd leases have a granularity of one second, so ttls are rounded up to the
// next whole second.
type Etcd struct {
	client  *clientv3.Client
	prefix  string
	timeout time.Duration
}

// EtcdOption configures an Etcd store.
type EtcdOption func(*Etcd)

// WithEtcdPrefix prepends prefix to every key written to etcd.
func WithEtcdPrefix(prefix string) EtcdOption {
	return func(s *Etcd) {
		s.prefix = prefix
	}
}

// WithEtcdTimeout sets the per-call timeout for etcd requests.
func WithEtcdTimeout(d time.Duration) EtcdOption {
	return func(s *Etcd) {
		s.timeout = d
	}
}

// NewEtcd returns an etcd-backed store.
func NewEtcd(client *clientv3.Client, opts ...EtcdOption) *Etcd {
	s := &Etcd{client: client, timeout: defaultEtcdOpTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func leaseSeconds(ttl time.Duration) int64 {
	s := int64(math.Ceil(ttl.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// TryCreate implements Store.TryCreate.
func (s *Etcd) TryCreate(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	grant, err := s.client.Grant(cctx, leaseSeconds(ttl))
	if err != nil {
		return false, mapEtcdErr(err)
	}
	k := s.prefix + key
	resp, err := s.client.Txn(cctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, token, clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil || !resp.Succeeded {
		s.revoke(grant.ID)
		if err != nil {
			return false, mapEtcdErr(err)
		}
		return false, nil
	}
	return true, nil
}

// TryExtend implements Store.TryExtend. The key is moved to a freshly granted
// lease in the same transaction that checks the token, then the previous lease
// is revoked.
func (s *Etcd) TryExtend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	grant, err := s.client.Grant(cctx, leaseSeconds(ttl))
	if err != nil {
		return false, mapEtcdErr(err)
	}
	k := s.prefix + key
	resp, err := s.client.Txn(cctx).
		If(clientv3.Compare(clientv3.Value(k), "=", token)).
		Then(clientv3.OpGet(k), clientv3.OpPut(k, token, clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil || !resp.Succeeded {
		s.revoke(grant.ID)
		if err != nil {
			return false, mapEtcdErr(err)
		}
		return false, nil
	}
	s.revokePrevious(resp)
	return true, nil
}

// TryDelete implements Store.TryDelete.
func (s *Etcd) TryDelete(ctx context.Context, key, token string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	k := s.prefix + key
	resp, err := s.client.Txn(cctx).
		If(clientv3.Compare(clientv3.Value(k), "=", token)).
		Then(clientv3.OpGet(k), clientv3.OpDelete(k)).
		Commit()
	if err != nil {
		return false, mapEtcdErr(err)
	}
	if !resp.Succeeded {
		return false, nil
	}
	s.revokePrevious(resp)
	return true, nil
}

// revokePrevious drops the lease the key was attached to before the
// transaction, as read by its leading OpGet.
func (s *Etcd) revokePrevious(resp *clientv3.TxnResponse) {
	if len(resp.Responses) == 0 {
		return
	}
	rng := resp.Responses[0].GetResponseRange()
	if rng == nil || len(rng.Kvs) == 0 || rng.Kvs[0].Lease == 0 {
		return
	}
	s.revoke(clientv3.LeaseID(rng.Kvs[0].Lease))
}

func (s *Etcd) revoke(id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.client.Revoke(ctx, id)
}

func mapEtcdErr(err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return warderrors.ErrTimeout
	case stdErrors.Is(err, clientv3.ErrNoAvailableEndpoints):
		return warderrors.ErrUnavailable
	}
	return err
}
