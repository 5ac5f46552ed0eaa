package lock

import (
	"bytes"
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cerrors "github.com/mirkobrombin/go-cachelock/v1/errors"
	"github.com/mirkobrombin/go-cachelock/v1/metrics"
	"github.com/mirkobrombin/go-cachelock/v1/store"
)

const (
	// Suffix is appended to a key to form its lock key.
	Suffix = ".lock"
	// DefaultPollInterval is the delay between attempts on a contended lock.
	DefaultPollInterval = 100 * time.Millisecond

	tracerName = "github.com/mirkobrombin/go-cachelock/v1/lock"
)

// LockKey derives the lock key for key. An empty key is rejected.
func LockKey(key string) (string, error) {
	if key == "" {
		return "", cerrors.ErrNilKey
	}
	return key + Suffix, nil
}

// SleepFunc blocks for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Coordinator acquires and releases leased locks stored in a Store. The lock
// value is the lease expiry in milliseconds since the epoch; an expired lease
// can be stolen by anyone. There is no lock manager: the store's SetIfAbsent
// and Swap are the only ordering primitives.
//
// The set of locks a Coordinator believes it holds is local bookkeeping only.
// Another process may have stolen an expired lease without this instance
// knowing.
type Coordinator struct {
	store        store.Store
	clock        clockwork.Clock
	sleep        SleepFunc
	poll         time.Duration
	logger       *slog.Logger
	holderToken  bool
	retryOnStore bool
	tracer       trace.Tracer

	mu   sync.Mutex
	held map[string][]byte
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for expiry timestamps and poll sleeps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithSleep replaces the poll sleep. The default waits on the clock.
func WithSleep(fn SleepFunc) Option {
	return func(c *Coordinator) {
		c.sleep = fn
	}
}

// WithPollInterval sets the delay between attempts. Non-positive values are
// ignored.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHolderToken appends a random token to every lock value this
// coordinator writes. Release then deletes the lock key only if it still
// carries that token, so a lease stolen by someone else is left alone.
func WithHolderToken() Option {
	return func(c *Coordinator) {
		c.holderToken = true
	}
}

// WithRetryOnStoreError keeps polling after a failed store call instead of
// aborting the acquire. The last store error is returned if the wait budget
// runs out.
func WithRetryOnStoreError() Option {
	return func(c *Coordinator) {
		c.retryOnStore = true
	}
}

// WithTracing enables OpenTelemetry spans using the global tracer provider.
func WithTracing() Option {
	return func(c *Coordinator) {
		c.tracer = otel.Tracer(tracerName)
	}
}

// New returns a Coordinator using st.
func New(st store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  st,
		clock:  clockwork.NewRealClock(),
		poll:   DefaultPollInterval,
		logger: slog.Default(),
		held:   make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sleep == nil {
		c.sleep = c.clockSleep
	}
	return c
}

func (c *Coordinator) clockSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-c.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire tries to take the lock for key with the given lease, retrying every
// poll interval for up to wait. It returns false with a nil error when the
// budget runs out; the caller decides what to do then.
//
// An attempt first tries SetIfAbsent on the lock key. If the key exists and
// its expiry has passed, the attempt swaps in a new expiry and wins only if
// the value it replaced is the one it read.
//
// A cancelled ctx while waiting yields an error wrapping ErrLockCanceled. A
// store failure aborts the call with an error wrapping ErrStore unless
// WithRetryOnStoreError is set.
func (c *Coordinator) Acquire(ctx context.Context, key string, lease, wait time.Duration) (bool, error) {
	return c.acquire(ctx, key, lease, wait, true)
}

// TryAcquire makes a single attempt without sleeping.
func (c *Coordinator) TryAcquire(ctx context.Context, key string, lease time.Duration) (bool, error) {
	return c.acquire(ctx, key, lease, 0, false)
}

func (c *Coordinator) acquire(ctx context.Context, key string, lease, wait time.Duration, block bool) (acquired bool, err error) {
	lockKey, err := LockKey(key)
	if err != nil {
		return false, err
	}
	if lease <= 0 {
		return false, cerrors.ErrInvalidLease
	}
	if wait < 0 {
		return false, cerrors.ErrInvalidWait
	}

	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "Lock.Acquire", trace.WithAttributes(
			attribute.String("cachelock.lock_key", lockKey),
			attribute.Int64("cachelock.lease_ms", lease.Milliseconds()),
			attribute.Int64("cachelock.wait_ms", wait.Milliseconds()),
		))
		defer span.End()
	}

	start := c.clock.Now()
	result := metrics.ResultTimeout
	defer func() {
		metrics.LockAcquireCounter.WithLabelValues(result).Inc()
		metrics.LockWaitHistogram.Observe(c.clock.Since(start).Seconds())
		if span != nil {
			span.SetAttributes(attribute.String("cachelock.result", result))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
	}()

	var lastErr error
	for remaining := wait; remaining >= 0; remaining -= c.poll {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result = metrics.ResultCanceled
			return false, fmt.Errorf("%w: %w", cerrors.ErrLockCanceled, ctxErr)
		}

		won, path, attemptErr := c.attempt(ctx, lockKey, lease)
		switch {
		case attemptErr == nil && won:
			result = path
			return true, nil
		case attemptErr == nil:
			lastErr = nil
		case ctx.Err() != nil:
			// backends may have mapped the context error away
			result = metrics.ResultCanceled
			return false, fmt.Errorf("%w: %w", cerrors.ErrLockCanceled, ctx.Err())
		case c.retryOnStore && stdErrors.Is(attemptErr, cerrors.ErrStore):
			c.logger.Warn("cachelock: lock attempt failed, retrying", "lock_key", lockKey, "error", attemptErr)
			lastErr = attemptErr
		default:
			result = metrics.ResultError
			return false, attemptErr
		}

		if !block {
			break
		}
		metrics.LockPollCounter.Inc()
		if sleepErr := c.sleep(ctx, c.poll); sleepErr != nil {
			result = metrics.ResultCanceled
			return false, fmt.Errorf("%w: %w", cerrors.ErrLockCanceled, sleepErr)
		}
	}

	if lastErr != nil {
		result = metrics.ResultError
		return false, lastErr
	}
	return false, nil
}

// attempt runs the fast path and, if the lease found is expired, the steal
// path once. It reports the metrics result of a win.
func (c *Coordinator) attempt(ctx context.Context, lockKey string, lease time.Duration) (bool, string, error) {
	candidate := c.lockValue(c.clock.Now().Add(lease + time.Millisecond))

	ok, err := c.store.SetIfAbsent(ctx, lockKey, candidate)
	if err != nil {
		return false, "", storeErr("set-if-absent", lockKey, err)
	}
	if ok {
		c.markHeld(lockKey, candidate)
		return true, metrics.ResultFast, nil
	}

	current, found, err := c.store.Get(ctx, lockKey)
	if err != nil {
		return false, "", storeErr("get", lockKey, err)
	}
	if !found {
		// released between the two calls; the next attempt will see it free
		return false, "", nil
	}
	expiry, err := ParseExpiry(current)
	if err != nil {
		return false, "", err
	}
	if expiry >= c.clock.Now().UnixMilli() {
		return false, "", nil
	}

	previous, found, err := c.store.Swap(ctx, lockKey, candidate)
	if err != nil {
		return false, "", storeErr("swap", lockKey, err)
	}
	if !found {
		// Released between Get and Swap. Our candidate is now stored but not
		// recorded as held; it blocks others until its own expiry.
		c.logger.Debug("cachelock: lock vanished during steal", "lock_key", lockKey)
		return false, "", nil
	}
	if !bytes.Equal(previous, current) {
		c.logger.Debug("cachelock: lost steal race", "lock_key", lockKey)
		return false, "", nil
	}
	c.logger.Debug("cachelock: stole expired lock", "lock_key", lockKey, "expired_at", expiry)
	c.markHeld(lockKey, candidate)
	return true, metrics.ResultSteal, nil
}

// Release deletes the lock key for key if this coordinator holds it and
// forgets it locally. Releasing a lock that is not held is a no-op. Store
// failures are logged, not returned; only an empty key is an error.
func (c *Coordinator) Release(ctx context.Context, key string) error {
	lockKey, err := LockKey(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	value, ok := c.held[lockKey]
	delete(c.held, lockKey)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "Lock.Release", trace.WithAttributes(
			attribute.String("cachelock.lock_key", lockKey),
		))
		defer span.End()
	}

	if !c.holderToken {
		if err := c.store.Delete(ctx, lockKey); err != nil {
			c.logger.Warn("cachelock: release failed", "lock_key", lockKey, "error", err)
			return nil
		}
		metrics.LockReleaseCounter.Inc()
		return nil
	}

	var deleted bool
	if cd, isCD := c.store.(store.CompareAndDeleter); isCD {
		deleted, err = cd.CompareAndDelete(ctx, lockKey, value)
	} else {
		deleted, err = store.GetCompareDelete(ctx, c.store, lockKey, value)
	}
	switch {
	case err != nil:
		c.logger.Warn("cachelock: release failed", "lock_key", lockKey, "error", err)
	case !deleted:
		c.logger.Warn("cachelock: lock taken over before release", "lock_key", lockKey)
	default:
		metrics.LockReleaseCounter.Inc()
	}
	return nil
}

// Held reports whether this coordinator believes it holds the lock for key.
func (c *Coordinator) Held(key string) bool {
	lockKey, err := LockKey(key)
	if err != nil {
		return false
	}
	c.mu.Lock()
	_, ok := c.held[lockKey]
	c.mu.Unlock()
	return ok
}

// ReleaseAll releases every lock this coordinator believes it holds.
func (c *Coordinator) ReleaseAll(ctx context.Context) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.held))
	for lockKey := range c.held {
		keys = append(keys, strings.TrimSuffix(lockKey, Suffix))
	}
	c.mu.Unlock()
	for _, key := range keys {
		_ = c.Release(ctx, key)
	}
}

func (c *Coordinator) markHeld(lockKey string, value []byte) {
	c.mu.Lock()
	c.held[lockKey] = value
	c.mu.Unlock()
}

func (c *Coordinator) lockValue(expiry time.Time) []byte {
	v := strconv.FormatInt(expiry.UnixMilli(), 10)
	if c.holderToken {
		v += ":" + uuid.NewString()
	}
	return []byte(v)
}

// ParseExpiry extracts the expiry, in milliseconds since the epoch, from a
// lock value. Values written in holder token mode carry a ":token" suffix.
func ParseExpiry(value []byte) (int64, error) {
	s, _, _ := strings.Cut(string(value), ":")
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", cerrors.ErrMalformedLockValue, value)
	}
	return ms, nil
}

func storeErr(op, lockKey string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", cerrors.ErrStore, op, lockKey, err)
}
