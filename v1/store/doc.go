// Package store defines the remote key-value primitives that cachelock is built
// on and ships Redis, etcd and in-memory backends for them. Every primitive is
// atomic on a single key; no backend offers multi-key transactions.
package store
