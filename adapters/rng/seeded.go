package rng

import (
	"context"
	"math/rand"
)

// SeededAdapter implements ports.RNGPort with deterministic streams derived
// from a name/replicate and a base seed.
type SeededAdapter struct{}

// NewSeededAdapter creates a new deterministic RNG adapter
func NewSeededAdapter() *SeededAdapter {
	return &SeededAdapter{}
}

// SeededStream creates a deterministic random number generator for a named operation
func (r *SeededAdapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	derived := seed
	if name != "" {
		derived += int64(hashString(name))
	}
	return rand.New(rand.NewSource(derived)), nil
}

// ReplicateStream creates an independent deterministic RNG stream for one
// replicate of one stratum. The derived seed folds in the stratum key and the
// replicate index so results do not depend on worker scheduling.
func (r *SeededAdapter) ReplicateStream(ctx context.Context, stratum string, replicate int, baseSeed int64) (*rand.Rand, error) {
	seed := baseSeed
	if stratum != "" {
		seed += int64(hashString(stratum))
	}
	seed += int64(replicate) * 0x9E3779B9 // spread consecutive replicates apart
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
