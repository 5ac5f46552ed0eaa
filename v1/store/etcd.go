package store

import (
	"context"
	stdErrors "errors"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	cerrors "github.com/mirkobrombin/go-cachelock/v1/errors"
)

const defaultEtcdDialTimeout = 5 * time.Second

// Etcd implements Store on top of an etcd v3 client. SetIfAbsent is a
// transaction guarded on the key's create revision, Swap is a put that
// returns the previous key-value pair.
type Etcd struct {
	client  *clientv3.Client
	timeout time.Duration
}

// NewEtcd returns an Etcd store using the provided client. The store owns
// the client and closes it in Close.
func NewEtcd(client *clientv3.Client, opts ...Option) *Etcd {
	o := options{timeout: defaultOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Etcd{client: client, timeout: o.timeout}
}

// DialEtcd connects to the given endpoints and wraps the client in an Etcd
// store.
func DialEtcd(endpoints []string, opts ...Option) (*Etcd, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: defaultEtcdDialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return NewEtcd(cli, opts...), nil
}

func (s *Etcd) opContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, mapEtcdErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return cctx, cancel, nil
}

// SetIfAbsent implements Store.SetIfAbsent.
func (s *Etcd) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	resp, err := s.client.Txn(cctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return false, mapEtcdErr(err)
	}
	return resp.Succeeded, nil
}

// Get implements Store.Get.
func (s *Etcd) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return nil, false, err
	}
	defer cancel()
	resp, err := s.client.Get(cctx, key)
	if err != nil {
		return nil, false, mapEtcdErr(err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// Swap implements Store.Swap.
func (s *Etcd) Swap(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return nil, false, err
	}
	defer cancel()
	resp, err := s.client.Put(cctx, key, string(value), clientv3.WithPrevKV())
	if err != nil {
		return nil, false, mapEtcdErr(err)
	}
	if resp.PrevKv == nil {
		return nil, false, nil
	}
	return resp.PrevKv.Value, true, nil
}

// Set implements Store.Set.
func (s *Etcd) Set(ctx context.Context, key string, value []byte) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	_, err = s.client.Put(cctx, key, string(value))
	return mapEtcdErr(err)
}

// Delete implements Store.Delete.
func (s *Etcd) Delete(ctx context.Context, key string) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	_, err = s.client.Delete(cctx, key)
	return mapEtcdErr(err)
}

// Exists implements Store.Exists.
func (s *Etcd) Exists(ctx context.Context, key string) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	resp, err := s.client.Get(cctx, key, clientv3.WithCountOnly())
	if err != nil {
		return false, mapEtcdErr(err)
	}
	return resp.Count > 0, nil
}

// CompareAndDelete implements CompareAndDeleter.
func (s *Etcd) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	resp, err := s.client.Txn(cctx).
		If(clientv3.Compare(clientv3.Value(key), "=", string(expected))).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return false, mapEtcdErr(err)
	}
	return resp.Succeeded, nil
}

// Close implements Store.Close.
func (s *Etcd) Close() error {
	return s.client.Close()
}

func mapEtcdErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return cerrors.ErrTimeout
	case stdErrors.Is(err, clientv3.ErrNoAvailableEndpoints):
		return cerrors.ErrConnectionClosed
	}
	return err
}
