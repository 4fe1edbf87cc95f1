// Package xrand provides a cheaply-seeded *rand.Rand for use cases that
// don't need a cryptographic RNG: randomizing the round-robin start
// cursor so a fleet of balancers doesn't all hammer backend 0 first.
package xrand

import (
	"hash/maphash"
	"math/rand"
)

// New returns a *rand.Rand seeded from the runtime's per-thread hash seed
// rather than contending on the global source. The returned value is not
// safe for concurrent use; each caller should construct its own.
func New() *rand.Rand {
	return rand.New(rand.NewSource(seed())) //nolint:gosec // not used for anything security-sensitive
}

func seed() int64 {
	var h maphash.Hash
	return int64(h.Sum64())
}
