package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)

	// IndexedStream creates a deterministic RNG stream for one element of a
	// named operation, e.g. one matrix row. Streams depend only on the name,
	// index, and base seed, never on scheduling, so parallel callers get
	// identical results for identical inputs.
	IndexedStream(ctx context.Context, name string, index int, baseSeed int64) (*rand.Rand, error)
}
