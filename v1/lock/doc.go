// Package lock implements a best-effort distributed lock on top of a shared
// key-value store.
//
// A lock on key K lives under "K.lock" and holds the lease expiry in
// milliseconds since the epoch. Acquire polls until it either creates the key
// or finds an expired lease and swaps it out; there is no lock manager, no
// fairness and no reentrancy. Release deletes the key only if this
// coordinator believes it holds it.
//
// Holder identity is not recorded by default, so a coordinator whose lease
// was stolen can still delete the new holder's key on Release. WithHolderToken
// records a random token in the value and makes Release compare it first.
package lock
