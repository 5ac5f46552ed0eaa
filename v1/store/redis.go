package store

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	cerrors "github.com/mirkobrombin/go-cachelock/v1/errors"
)

var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Store on top of a go-redis client. SetIfAbsent maps to
// SETNX and Swap to GETSET, both atomic on the server.
type Redis struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedis returns a Redis store using the provided client. The store owns
// the client from now on and closes it in Close.
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	o := options{timeout: defaultOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis{client: client, timeout: o.timeout}
}

func (s *Redis) opContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return cctx, cancel, nil
}

// SetIfAbsent implements Store.SetIfAbsent.
func (s *Redis) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	ok, err := s.client.SetNX(cctx, key, value, 0).Result()
	if err != nil {
		return false, mapRedisErr(err)
	}
	return ok, nil
}

// Get implements Store.Get.
func (s *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return nil, false, err
	}
	defer cancel()
	data, err := s.client.Get(cctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapRedisErr(err)
	}
	return data, true, nil
}

// Swap implements Store.Swap.
func (s *Redis) Swap(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return nil, false, err
	}
	defer cancel()
	prev, err := s.client.GetSet(cctx, key, value).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapRedisErr(err)
	}
	return prev, true, nil
}

// Set implements Store.Set.
func (s *Redis) Set(ctx context.Context, key string, value []byte) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return mapRedisErr(s.client.Set(cctx, key, value, 0).Err())
}

// Delete implements Store.Delete.
func (s *Redis) Delete(ctx context.Context, key string) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return mapRedisErr(s.client.Del(cctx, key).Err())
}

// Exists implements Store.Exists.
func (s *Redis) Exists(ctx context.Context, key string) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	n, err := s.client.Exists(cctx, key).Result()
	if err != nil {
		return false, mapRedisErr(err)
	}
	return n > 0, nil
}

// CompareAndDelete implements CompareAndDeleter with a Lua script so the
// comparison and the delete happen in one server-side step.
func (s *Redis) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	n, err := compareAndDeleteScript.Run(cctx, s.client, []string{key}, expected).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, mapRedisErr(err)
	}
	return n > 0, nil
}

// Close implements Store.Close and returns the client's pooled connections.
func (s *Redis) Close() error {
	err := s.client.Close()
	if stdErrors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func mapRedisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return cerrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return cerrors.ErrConnectionClosed
	}
	return err
}
