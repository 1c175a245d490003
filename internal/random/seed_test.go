package random

import "testing"

func TestNewSeedVaries(t *testing.T) {
	seen := make(map[int64]struct{})
	for i := 0; i < 8; i++ {
		seed, err := NewSeed()
		if err != nil {
			t.Fatalf("new seed: %v", err)
		}
		seen[seed] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("expected distinct seeds, got %d", len(seen))
	}
}

func TestNewRandReturnsSeededGenerator(t *testing.T) {
	rng, seed, err := NewRand()
	if err != nil {
		t.Fatalf("new rand: %v", err)
	}
	if rng == nil {
		t.Fatal("expected generator")
	}
	_ = seed
	if v := rng.Intn(6); v < 0 || v >= 6 {
		t.Fatalf("Intn(6) = %d, out of range", v)
	}
}
