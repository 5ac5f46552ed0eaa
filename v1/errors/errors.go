package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	ErrCircuitOpen      = errors.New("circuit breaker is open")

	// ErrNilKey is returned when a lock key is derived from an empty key.
	ErrNilKey = errors.New("cachelock: key must not be empty")
	// ErrInvalidLease is returned when a lock lease is not positive.
	ErrInvalidLease = errors.New("cachelock: lease must be positive")
	// ErrInvalidWait is returned when a lock wait budget is negative.
	ErrInvalidWait = errors.New("cachelock: wait budget must not be negative")
	// ErrMalformedLockValue is returned when a lock key holds something that is
	// not an expiry timestamp.
	ErrMalformedLockValue = errors.New("cachelock: malformed lock value")
	// ErrLockCanceled is returned when waiting for a lock is interrupted.
	ErrLockCanceled = errors.New("cachelock: lock wait canceled")

	ErrStore          = errors.New("cachelock: store failure")
	ErrSerialization  = errors.New("cachelock: serialization failure")
	ErrCacheOperation = errors.New("cachelock: cache operation failed")
)
