package store

import (
	"context"
	stdErrors "errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	cerrors "github.com/mirkobrombin/go-cachelock/v1/errors"
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker decorates a Store with circuit breaker logic. After threshold
// consecutive transport failures every call fails fast with ErrCircuitOpen
// until timeout has passed; then a single probe is let through.
//
// A miss, a lost SetIfAbsent race or a failed compare are answers, not
// failures, and never trip the breaker. Context cancellation by the caller
// does not either.
type Breaker struct {
	inner     Store
	clock     clockwork.Clock
	mu        sync.Mutex
	state     state
	failures  int
	threshold int
	timeout   time.Duration
	lastFail  time.Time
}

// NewBreaker returns a Breaker around inner.
func NewBreaker(inner Store, threshold int, timeout time.Duration) *Breaker {
	return NewBreakerWithClock(inner, threshold, timeout, clockwork.NewRealClock())
}

// NewBreakerWithClock is NewBreaker with an explicit clock.
func NewBreakerWithClock(inner Store, threshold int, timeout time.Duration, clock clockwork.Clock) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		inner:     inner,
		clock:     clock,
		threshold: threshold,
		timeout:   timeout,
		state:     stateClosed,
	}
}

// IsHealthy returns true unless the circuit is open and still cooling down.
func (b *Breaker) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateOpen {
		return b.clock.Since(b.lastFail) > b.timeout
	}
	return true
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.clock.Since(b.lastFail) > b.timeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		// one probe at a time
		return false
	}
	return false
}

func (b *Breaker) record(err error) {
	if err == nil || stdErrors.Is(err, context.Canceled) {
		b.onSuccess()
		return
	}
	b.onFailure()
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFail = b.clock.Now()
	b.failures++
	if b.state == stateClosed && b.failures >= b.threshold {
		b.state = stateOpen
	} else if b.state == stateHalfOpen {
		b.state = stateOpen
	}
}

// SetIfAbsent implements Store.SetIfAbsent.
func (b *Breaker) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if !b.allow() {
		return false, cerrors.ErrCircuitOpen
	}
	ok, err := b.inner.SetIfAbsent(ctx, key, value)
	b.record(err)
	return ok, err
}

// Get implements Store.Get.
func (b *Breaker) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !b.allow() {
		return nil, false, cerrors.ErrCircuitOpen
	}
	v, ok, err := b.inner.Get(ctx, key)
	b.record(err)
	return v, ok, err
}

// Swap implements Store.Swap.
func (b *Breaker) Swap(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	if !b.allow() {
		return nil, false, cerrors.ErrCircuitOpen
	}
	prev, ok, err := b.inner.Swap(ctx, key, value)
	b.record(err)
	return prev, ok, err
}

// Set implements Store.Set.
func (b *Breaker) Set(ctx context.Context, key string, value []byte) error {
	if !b.allow() {
		return cerrors.ErrCircuitOpen
	}
	err := b.inner.Set(ctx, key, value)
	b.record(err)
	return err
}

// Delete implements Store.Delete.
func (b *Breaker) Delete(ctx context.Context, key string) error {
	if !b.allow() {
		return cerrors.ErrCircuitOpen
	}
	err := b.inner.Delete(ctx, key)
	b.record(err)
	return err
}

// Exists implements Store.Exists.
func (b *Breaker) Exists(ctx context.Context, key string) (bool, error) {
	if !b.allow() {
		return false, cerrors.ErrCircuitOpen
	}
	ok, err := b.inner.Exists(ctx, key)
	b.record(err)
	return ok, err
}

// CompareAndDelete forwards to the inner store when it supports the
// operation and falls back to a get-compare-delete otherwise.
func (b *Breaker) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	if !b.allow() {
		return false, cerrors.ErrCircuitOpen
	}
	var (
		ok  bool
		err error
	)
	if cd, isCD := b.inner.(CompareAndDeleter); isCD {
		ok, err = cd.CompareAndDelete(ctx, key, expected)
	} else {
		ok, err = GetCompareDelete(ctx, b.inner, key, expected)
	}
	b.record(err)
	return ok, err
}

// Close implements Store.Close. Closing is never short-circuited.
func (b *Breaker) Close() error {
	return b.inner.Close()
}
