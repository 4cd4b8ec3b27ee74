// Package rng implements ports.RNGPort with math/rand sources.
package rng

import (
	"context"
	"math/rand"

	"megstats/ports"
)

// SeededAdapter hands out math/rand generators derived from explicit seeds
type SeededAdapter struct{}

var _ ports.RNGPort = (*SeededAdapter)(nil)

// New returns the default RNG adapter
func New() *SeededAdapter {
	return &SeededAdapter{}
}

// SeededStream returns a generator seeded with seed; name only labels the use
func (r *SeededAdapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rand.New(rand.NewSource(seed)), nil
}
