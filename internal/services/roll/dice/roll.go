// Package dice is the default roll evaluator: it parses a resolved roll
// expression, rolls the dice it names and reports the result.
package dice

import (
	"errors"
	"math/rand"
	"sort"
)

// MaxDicePerAtom bounds how many dice a single dice term may roll.
const MaxDicePerAtom = 100000

// KeepRule selects which faces of a dice term count toward its total.
type KeepRule int

const (
	KeepAll KeepRule = iota
	KeepHighest
	KeepLowest
)

// ErrInvalidDiceSpec indicates a die specification has invalid fields.
var ErrInvalidDiceSpec = errors.New("dice must have positive sides and count")

// ErrTooManyDice indicates a dice term asked for more than MaxDicePerAtom
// dice, or an evaluation for more than MaxDicePerEvaluation.
var ErrTooManyDice = errors.New("too many dice")

// ErrInvalidSelector indicates a selector or keep count outside the rolled dice.
var ErrInvalidSelector = errors.New("selector out of range")

// DiceSpec describes a single dice term such as 2@5d10 or 4d6h3.
type DiceSpec struct {
	Sides int
	Count int

	// Selectors are 1-based positions counted from the highest face.
	Selectors []int
	Keep      KeepRule
	KeepN     int

	// Reroll rerolls, once, every face at or below this value.
	Reroll int
}

// DieRoll captures the faces rolled for a dice spec.
type DieRoll struct {
	Spec    DiceSpec
	Results []int
	Total   int
}

// RollDice rolls one dice spec with the provided generator.
//
// Faces are returned in roll order, after rerolls. The total is the sum of
// the selected positions when Selectors is set, of the kept faces when a keep
// rule is set, and of every face otherwise.
func RollDice(rng *rand.Rand, spec DiceSpec) (DieRoll, error) {
	if err := validateSpec(spec); err != nil {
		return DieRoll{}, err
	}

	results := make([]int, spec.Count)
	for i := range results {
		value := rollDie(rng, spec.Sides)
		if value <= spec.Reroll {
			value = rollDie(rng, spec.Sides)
		}
		results[i] = value
	}

	return DieRoll{
		Spec:    spec,
		Results: results,
		Total:   combine(spec, results),
	}, nil
}

func validateSpec(spec DiceSpec) error {
	if spec.Sides <= 0 || spec.Count <= 0 {
		return ErrInvalidDiceSpec
	}
	if spec.Count > MaxDicePerAtom {
		return ErrTooManyDice
	}
	if spec.Reroll < 0 || spec.Reroll >= spec.Sides {
		return ErrInvalidDiceSpec
	}
	for _, sel := range spec.Selectors {
		if sel < 1 || sel > spec.Count {
			return ErrInvalidSelector
		}
	}
	if spec.Keep != KeepAll && (spec.KeepN < 1 || spec.KeepN > spec.Count) {
		return ErrInvalidSelector
	}
	return nil
}

func combine(spec DiceSpec, results []int) int {
	sorted := append([]int(nil), results...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	total := 0
	switch {
	case len(spec.Selectors) > 0:
		for _, sel := range spec.Selectors {
			total += sorted[sel-1]
		}
	case spec.Keep == KeepHighest:
		for _, v := range sorted[:spec.KeepN] {
			total += v
		}
	case spec.Keep == KeepLowest:
		for _, v := range sorted[len(sorted)-spec.KeepN:] {
			total += v
		}
	default:
		for _, v := range results {
			total += v
		}
	}
	return total
}

// rollDie rolls a die with the provided number of sides.
func rollDie(rng *rand.Rand, sides int) int {
	return rng.Intn(sides) + 1
}
