// Package hash provides seeded hashing helpers for deterministic ordering.
package hash

import "github.com/zeebo/xxh3"

// String64 hashes s with the given seed.
//
// The balancer uses it to break ties between equal-score instances so plan
// output is stable across runs and replicas regardless of map iteration
// order.
//
// Parameters:
//   - s: Value to hash
//   - seed: Seed for the hash function (0 is a valid seed)
//
// Returns:
//   - uint64: Seeded 64-bit hash of s
func String64(s string, seed uint64) uint64 {
	return xxh3.HashStringSeed(s, seed)
}

// TieBreak orders two IDs by their seeded hashes, falling back to lexical
// order on the rare full collision.
//
// Returns:
//   - bool: true when a sorts before b
func TieBreak(a, b string, seed uint64) bool {
	ha, hb := String64(a, seed), String64(b, seed)
	if ha != hb {
		return ha < hb
	}

	return a < b
}
