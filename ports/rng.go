package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)

	// ReplicateStream creates an independent deterministic RNG stream for one
	// replicate of one stratum. Deriving a stream per replicate keeps results
	// identical regardless of how replicates are scheduled across workers.
	ReplicateStream(ctx context.Context, stratum string, replicate int, baseSeed int64) (*rand.Rand, error)
}
