// Package determinism provides primitives for guaranteeing deterministic execution.
// Offer ordering, snapshot hashes and sandbox transaction hashes all go through here
// so that the same inputs always produce the same recommendations and ids.
package determinism

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// IDGenerator derives deterministic identifiers within a namespace
type IDGenerator struct {
	namespace string
}

// NewIDGenerator creates an ID generator with a namespace
func NewIDGenerator(namespace string) *IDGenerator {
	return &IDGenerator{namespace: namespace}
}

// TxHash creates a 0x-prefixed 32-byte hash from inputs, shaped like a
// ledger transaction hash
func (g *IDGenerator) TxHash(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(g.namespace))
	for _, part := range parts {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// ContentHash is a SHA-256 hash for content integrity
type ContentHash [32]byte

// ComputeHashParts hashes an ordered list of strings with separators
func ComputeHashParts(parts ...string) ContentHash {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out
}

// Hex returns the hash as a hex string
func (h ContentHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements Stringer
func (h ContentHash) String() string {
	return h.Hex()[:16] + "..."
}

// SortSlice sorts a slice in a stable, deterministic manner.
// Elements that compare equal keep their input order.
func SortSlice[T any](slice []T, less func(a, b T) bool) {
	sort.SliceStable(slice, func(i, j int) bool {
		return less(slice[i], slice[j])
	})
}

// SortedCopy returns a stably sorted copy, leaving the input untouched
func SortedCopy[T any](slice []T, less func(a, b T) bool) []T {
	out := make([]T, len(slice))
	copy(out, slice)
	SortSlice(out, less)
	return out
}
