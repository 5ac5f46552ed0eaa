// Package cache exposes a region-named cache backed by a shared key-value
// store, with per-key leased locks coordinated through the same store.
//
// Values and keys are encoded with a codec.Codec before they reach the store.
// Lock keys are derived from the raw key, so the data and lock entries of a
// key live side by side in the store's namespace.
package cache
