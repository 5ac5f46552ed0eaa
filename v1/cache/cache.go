package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-cachelock/v1/codec"
	cerrors "github.com/mirkobrombin/go-cachelock/v1/errors"
	"github.com/mirkobrombin/go-cachelock/v1/lock"
	"github.com/mirkobrombin/go-cachelock/v1/metrics"
	"github.com/mirkobrombin/go-cachelock/v1/store"
)

const tracerName = "github.com/mirkobrombin/go-cachelock/v1/cache"

// Unknown is reported by the size and count accessors, which a shared store
// cannot answer cheaply.
const Unknown int64 = -1

const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultOK    = "ok"
	resultError = "error"
)

// Cache is a typed view over a Store. It is safe for concurrent use as long as
// the underlying store is.
type Cache[T any] struct {
	store    store.Store
	codec    codec.Codec
	region   string
	lockWait time.Duration
	locks    *lock.Coordinator
	logger   *slog.Logger
	tracing  bool
	tracer   trace.Tracer
}

type options struct {
	codec    codec.Codec
	region   string
	lockWait time.Duration
	locks    *lock.Coordinator
	logger   *slog.Logger
	tracing  bool
}

// Option configures a Cache.
type Option func(*options)

// WithCodec sets the codec for keys and values. JSON with DefaultConfig is
// used otherwise.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithRegion sets the name returned by RegionName.
func WithRegion(name string) Option {
	return func(o *options) {
		o.region = name
	}
}

// WithLockWait sets how long Lock keeps polling a contended lock. The
// default of zero makes a single attempt followed by one poll interval.
func WithLockWait(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.lockWait = d
		}
	}
}

// WithCoordinator sets the lock coordinator used by Lock and Unlock. By
// default one is built over the same store.
func WithCoordinator(c *lock.Coordinator) Option {
	return func(o *options) {
		o.locks = c
	}
}

// WithLogger sets the logger used for degraded operations.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracing enables OpenTelemetry spans for cache operations and for the
// default lock coordinator.
func WithTracing() Option {
	return func(o *options) {
		o.tracing = true
	}
}

// New returns a Cache over st.
func New[T any](st store.Store, opts ...Option) *Cache[T] {
	o := options{
		codec:  codec.NewJSON(codec.DefaultConfig()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locks == nil {
		lockOpts := []lock.Option{lock.WithLogger(o.logger)}
		if o.tracing {
			lockOpts = append(lockOpts, lock.WithTracing())
		}
		o.locks = lock.New(st, lockOpts...)
	}
	c := &Cache[T]{
		store:    st,
		codec:    o.codec,
		region:   o.region,
		lockWait: o.lockWait,
		locks:    o.locks,
		logger:   o.logger,
		tracing:  o.tracing,
	}
	if o.tracing {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

func (c *Cache[T]) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	if !c.tracing {
		return ctx, nil
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("cachelock.key", key),
		attribute.String("cachelock.region", c.region),
	))
}

func (c *Cache[T]) finish(span trace.Span, op, result string, err error) {
	metrics.CacheOpsCounter.WithLabelValues(op, result).Inc()
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("cachelock.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Cache[T]) encodeKey(key string) (string, error) {
	data, err := c.codec.Marshal(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func opErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", cerrors.ErrCacheOperation, op, key, err)
}

// Get returns the value stored for key. A missing or empty entry is a miss.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	ctx, span := c.startSpan(ctx, "Cache.Get", key)

	k, err := c.encodeKey(key)
	if err != nil {
		err = opErr("get", key, err)
		c.finish(span, "get", resultError, err)
		return zero, false, err
	}
	data, found, err := c.store.Get(ctx, k)
	if err != nil {
		err = opErr("get", key, err)
		c.finish(span, "get", resultError, err)
		return zero, false, err
	}
	if !found || len(data) == 0 {
		c.finish(span, "get", resultMiss, nil)
		return zero, false, nil
	}
	var v T
	if err := c.codec.Unmarshal(data, &v); err != nil {
		err = opErr("get", key, err)
		c.finish(span, "get", resultError, err)
		return zero, false, err
	}
	c.finish(span, "get", resultHit, nil)
	return v, true, nil
}

// Put stores value under key, replacing whatever was there.
func (c *Cache[T]) Put(ctx context.Context, key string, value T) error {
	ctx, span := c.startSpan(ctx, "Cache.Put", key)

	k, err := c.encodeKey(key)
	if err != nil {
		err = opErr("put", key, err)
		c.finish(span, "put", resultError, err)
		return err
	}
	data, err := c.codec.Marshal(value)
	if err != nil {
		err = opErr("put", key, err)
		c.finish(span, "put", resultError, err)
		return err
	}
	if err := c.store.Set(ctx, k, data); err != nil {
		err = opErr("put", key, err)
		c.finish(span, "put", resultError, err)
		return err
	}
	c.finish(span, "put", resultOK, nil)
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (c *Cache[T]) Remove(ctx context.Context, key string) error {
	ctx, span := c.startSpan(ctx, "Cache.Remove", key)

	k, err := c.encodeKey(key)
	if err != nil {
		err = opErr("remove", key, err)
		c.finish(span, "remove", resultError, err)
		return err
	}
	if err := c.store.Delete(ctx, k); err != nil {
		err = opErr("remove", key, err)
		c.finish(span, "remove", resultError, err)
		return err
	}
	c.finish(span, "remove", resultOK, nil)
	return nil
}

// Exists reports whether Get would find key. Empty entries count as absent.
// Failures are logged and reported as false.
func (c *Cache[T]) Exists(ctx context.Context, key string) bool {
	ctx, span := c.startSpan(ctx, "Cache.Exists", key)

	k, err := c.encodeKey(key)
	if err == nil {
		var data []byte
		var found bool
		data, found, err = c.store.Get(ctx, k)
		if err == nil {
			// an empty entry is a miss for Get, so it is absent here too
			ok := found && len(data) > 0
			result := resultMiss
			if ok {
				result = resultHit
			}
			c.finish(span, "exists", result, nil)
			return ok
		}
	}
	c.logger.Warn("cachelock: exists check failed", "region", c.region, "key", key, "error", err)
	c.finish(span, "exists", resultError, err)
	return false
}

// Lock acquires the lock for key with the given lease, waiting up to the
// configured lock wait. See lock.Coordinator.Acquire.
func (c *Cache[T]) Lock(ctx context.Context, key string, lease time.Duration) (bool, error) {
	return c.locks.Acquire(ctx, key, lease, c.lockWait)
}

// Unlock releases the lock for key if this cache holds it.
func (c *Cache[T]) Unlock(ctx context.Context, key string) error {
	return c.locks.Release(ctx, key)
}

// RegionName returns the configured region name.
func (c *Cache[T]) RegionName() string { return c.region }

// Timeout returns the entry timeout. Entries never expire on their own.
func (c *Cache[T]) Timeout() int { return 0 }

// SizeInMemory returns Unknown.
func (c *Cache[T]) SizeInMemory() int64 { return Unknown }

// ElementCountInMemory returns Unknown.
func (c *Cache[T]) ElementCountInMemory() int64 { return Unknown }

// ElementCountOnDisk returns Unknown.
func (c *Cache[T]) ElementCountOnDisk() int64 { return Unknown }

// Close releases the locks this cache still holds and closes the store.
func (c *Cache[T]) Close() error {
	c.locks.ReleaseAll(context.Background())
	return c.store.Close()
}
