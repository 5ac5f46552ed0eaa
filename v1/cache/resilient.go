package cache

import "context"

// Resilient wraps a Cache and logs data operation failures instead of
// returning them, so an unreachable store looks like a cold cache. Lock and
// Unlock are not wrapped: callers must see lock errors.
type Resilient[T any] struct {
	*Cache[T]
}

// NewResilient returns a Resilient view of inner.
func NewResilient[T any](inner *Cache[T]) *Resilient[T] {
	return &Resilient[T]{Cache: inner}
}

// Get reports a failed read as a miss.
func (r *Resilient[T]) Get(ctx context.Context, key string) (T, bool, error) {
	val, ok, err := r.Cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("cachelock: cache get failed (resiliency active)", "key", key, "error", err)
		var zero T
		return zero, false, nil
	}
	return val, ok, nil
}

// Put skips the write when it fails.
func (r *Resilient[T]) Put(ctx context.Context, key string, value T) error {
	if err := r.Cache.Put(ctx, key, value); err != nil {
		r.logger.Warn("cachelock: cache put failed (resiliency active)", "key", key, "error", err)
	}
	return nil
}

// Remove ignores a failed delete.
func (r *Resilient[T]) Remove(ctx context.Context, key string) error {
	if err := r.Cache.Remove(ctx, key); err != nil {
		r.logger.Warn("cachelock: cache remove failed (resiliency active)", "key", key, "error", err)
	}
	return nil
}
