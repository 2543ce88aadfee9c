package rng

import (
	"context"
	"math/rand"
	"strconv"
)

// Adapter implements ports.RNGPort with locally seeded math/rand streams.
// Stream identity is (name, index, base seed); two streams with the same
// identity always produce the same sequence.
type Adapter struct{}

// NewAdapter creates the stream factory
func NewAdapter() *Adapter {
	return &Adapter{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (a *Adapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	if name != "" {
		seed += int64(hashString(name))
	}
	return rand.New(rand.NewSource(seed)), nil
}

// IndexedStream creates a deterministic RNG stream for one element of a named
// operation. The index is folded into the seed the same way the name is, so
// row streams stay stable no matter which goroutine draws from them.
func (a *Adapter) IndexedStream(ctx context.Context, name string, index int, baseSeed int64) (*rand.Rand, error) {
	seed := baseSeed
	if name != "" {
		seed += int64(hashString(name))
	}
	seed += int64(hashString(strconv.Itoa(index)))
	return rand.New(rand.NewSource(seed)), nil
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}
