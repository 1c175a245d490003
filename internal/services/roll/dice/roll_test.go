package dice

import (
	"errors"
	"math/rand"
	"testing"
)

// TestRollDiceIsDeterministic ensures the same seed rolls the same faces.
func TestRollDiceIsDeterministic(t *testing.T) {
	spec := DiceSpec{Sides: 12, Count: 4}
	first, err := RollDice(rand.New(rand.NewSource(7)), spec)
	if err != nil {
		t.Fatalf("RollDice returned error: %v", err)
	}
	second, err := RollDice(rand.New(rand.NewSource(7)), spec)
	if err != nil {
		t.Fatalf("RollDice returned error: %v", err)
	}
	for i := range first.Results {
		if first.Results[i] != second.Results[i] {
			t.Fatalf("results differ: %v vs %v", first.Results, second.Results)
		}
	}
}

func TestRollDiceMatchesGenerator(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	want := []int{rng.Intn(6) + 1, rng.Intn(6) + 1, rng.Intn(6) + 1}

	roll, err := RollDice(rand.New(rand.NewSource(3)), DiceSpec{Sides: 6, Count: 3})
	if err != nil {
		t.Fatalf("RollDice returned error: %v", err)
	}
	total := 0
	for i, v := range roll.Results {
		if v != want[i] {
			t.Fatalf("result[%d] = %d, want %d", i, v, want[i])
		}
		total += v
	}
	if roll.Total != total {
		t.Fatalf("total = %d, want %d", roll.Total, total)
	}
}

func TestCombine(t *testing.T) {
	faces := []int{3, 9, 1, 7, 5}
	tests := []struct {
		name string
		spec DiceSpec
		want int
	}{
		{name: "sum", spec: DiceSpec{Sides: 10, Count: 5}, want: 25},
		{name: "highest selector", spec: DiceSpec{Sides: 10, Count: 5, Selectors: []int{1}}, want: 9},
		{name: "two selectors", spec: DiceSpec{Sides: 10, Count: 5, Selectors: []int{1, 3}}, want: 14},
		{name: "keep highest", spec: DiceSpec{Sides: 10, Count: 5, Keep: KeepHighest, KeepN: 2}, want: 16},
		{name: "keep lowest", spec: DiceSpec{Sides: 10, Count: 5, Keep: KeepLowest, KeepN: 2}, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := combine(tt.spec, faces); got != tt.want {
				t.Fatalf("combine = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRollDiceRerollsLowFaces(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sixes := 0
	for i := 0; i < 50; i++ {
		roll, err := RollDice(rng, DiceSpec{Sides: 6, Count: 10, Reroll: 5})
		if err != nil {
			t.Fatalf("RollDice returned error: %v", err)
		}
		for _, v := range roll.Results {
			if v == 6 {
				sixes++
			}
		}
	}
	// Rerolling 1-5 once puts a six on roughly 30% of 500 dice.
	if sixes < 110 {
		t.Fatalf("sixes = %d, want reroll bias above 110", sixes)
	}
}

func TestRollDiceRejectsInvalidSpecs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		name string
		spec DiceSpec
		want error
	}{
		{name: "zero sides", spec: DiceSpec{Sides: 0, Count: 1}, want: ErrInvalidDiceSpec},
		{name: "zero count", spec: DiceSpec{Sides: 6, Count: 0}, want: ErrInvalidDiceSpec},
		{name: "too many", spec: DiceSpec{Sides: 6, Count: MaxDicePerAtom + 1}, want: ErrTooManyDice},
		{name: "reroll everything", spec: DiceSpec{Sides: 6, Count: 1, Reroll: 6}, want: ErrInvalidDiceSpec},
		{name: "selector past count", spec: DiceSpec{Sides: 6, Count: 2, Selectors: []int{3}}, want: ErrInvalidSelector},
		{name: "keep past count", spec: DiceSpec{Sides: 6, Count: 2, Keep: KeepHighest, KeepN: 3}, want: ErrInvalidSelector},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RollDice(rng, tt.spec); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
