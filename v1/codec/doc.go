// Package codec turns cached values into bytes and back. The JSON codec takes
// an explicit Config so that every process sharing a store can agree on how
// timestamps and null fields are written.
package codec
