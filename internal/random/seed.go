// Package random provides seed generation for dice evaluation.
//
// Every evaluation draws a fresh crypto/rand seed so results stay
// unpredictable while a single evaluation remains replayable from its seed.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// NewRand returns a generator seeded from NewSeed.
func NewRand() (*rand.Rand, int64, error) {
	seed, err := NewSeed()
	if err != nil {
		return nil, 0, err
	}
	return rand.New(rand.NewSource(seed)), seed, nil
}
