package store

import (
	"bytes"
	"context"
	"time"
)

// Store abstracts the remote key-value store shared by every cache and lock
// user. Keys are strings, values are opaque bytes.
type Store interface {
	// SetIfAbsent writes value only if key does not exist. It reports whether
	// the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	// Get returns the value for key. The boolean is false when key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Swap unconditionally replaces the value for key and returns the previous
	// one. The boolean is false when key was absent before the swap.
	Swap(ctx context.Context, key string, value []byte) ([]byte, bool, error)
	// Set unconditionally writes value for key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Close releases the connection held by the store.
	Close() error
}

// CompareAndDeleter is implemented by stores that can delete a key only when
// it still holds an expected value.
type CompareAndDeleter interface {
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
}

// GetCompareDelete deletes key if it holds expected, using separate Get and
// Delete calls. It is the fallback for stores without CompareAndDeleter and
// is not atomic: a write landing between the two calls is lost.
func GetCompareDelete(ctx context.Context, s Store, key string, expected []byte) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok || !bytes.Equal(v, expected) {
		return false, err
	}
	if err := s.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

const defaultOpTimeout = 5 * time.Second

// Option configures a remote store backend.
type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithTimeout sets the per-operation timeout for remote calls.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}
