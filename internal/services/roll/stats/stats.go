// Package stats estimates the spread of selector rolls.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/dgraph-io/ristretto/v2"
)

// ExactLimit is the largest outcome space enumerated exactly; larger rolls
// are sampled.
const ExactLimit = 1_000_000

// Samples is the most simulated rolls used past ExactLimit.
const Samples = 50_000

// MinSamples is the fewest simulated rolls an estimate is made from.
const MinSamples = 500

// SampledDice bounds the dice drawn across all samples of one estimate.
// Rolls of many dice get proportionally fewer samples.
const SampledDice = 2_000_000

// MaxCount is the largest number of dice whose spread is estimated.
const MaxCount = 1000

// MemoEntries bounds how many estimates are remembered.
const MemoEntries = 4096

// checkEvery is how many outcomes are visited between context checks.
const checkEvery = 1024

// ErrTooManyDice indicates the roll is past MaxCount.
var ErrTooManyDice = errors.New("stats: too many dice to estimate")

var memo = mustMemo()

func mustMemo() *ristretto.Cache[string, [2]float64] {
	cache, err := ristretto.NewCache(&ristretto.Config[string, [2]float64]{
		NumCounters: 10 * MemoEntries,
		MaxCost:     MemoEntries,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		panic(fmt.Sprintf("stats: memo: %v", err))
	}
	return cache
}

// ExpectedRange returns the mean and standard deviation of the sum of the
// selected positions (1-based, counted from the highest face) when count dice
// of the given sides are rolled and faces at or below reroll are rerolled once.
//
// Rolls of more than MaxCount dice are refused, and the computation stops
// with the context's error once ctx is done.
func ExpectedRange(ctx context.Context, selectors []int, count, sides, reroll int) (float64, float64, error) {
	if sides <= 0 || count <= 0 || len(selectors) == 0 {
		return 0, 0, fmt.Errorf("stats: invalid roll %v@%dd%d", selectors, count, sides)
	}
	if reroll < 0 || reroll >= sides {
		return 0, 0, fmt.Errorf("stats: invalid reroll %d for d%d", reroll, sides)
	}
	for _, sel := range selectors {
		if sel < 1 || sel > count {
			return 0, 0, fmt.Errorf("stats: selector %d outside %d dice", sel, count)
		}
	}

	if count > MaxCount {
		return 0, 0, ErrTooManyDice
	}

	k := fmt.Sprintf("%v@%dd%dr%d", selectors, count, sides, reroll)
	if cached, ok := memo.Get(k); ok {
		return cached[0], cached[1], nil
	}

	faces := faceWeights(sides, reroll)
	var (
		mean, dev float64
		err       error
	)
	if math.Pow(float64(sides), float64(count)) <= ExactLimit {
		mean, dev, err = enumerate(ctx, selectors, count, faces)
	} else {
		mean, dev, err = sample(ctx, selectors, count, faces)
	}
	if err != nil {
		return 0, 0, err
	}
	memo.Set(k, [2]float64{mean, dev}, 1)
	return mean, dev, nil
}

// sampleCount returns how many rolls of count dice are simulated.
func sampleCount(count int) int {
	n := SampledDice / count
	if n > Samples {
		n = Samples
	}
	if n < MinSamples {
		n = MinSamples
	}
	return n
}

// faceWeights returns the probability of each face 1..sides after one
// reroll of faces at or below reroll. Index 0 is unused.
func faceWeights(sides, reroll int) []float64 {
	p := 1 / float64(sides)
	weights := make([]float64, sides+1)
	for v := 1; v <= sides; v++ {
		w := float64(reroll) * p * p
		if v > reroll {
			w += p
		}
		weights[v] = w
	}
	return weights
}

func selectedSum(selectors []int, dice []int, scratch []int) int {
	copy(scratch, dice)
	sort.Sort(sort.Reverse(sort.IntSlice(scratch)))
	sum := 0
	for _, sel := range selectors {
		sum += scratch[sel-1]
	}
	return sum
}

func enumerate(ctx context.Context, selectors []int, count int, faces []float64) (float64, float64, error) {
	sides := len(faces) - 1
	dice := make([]int, count)
	for i := range dice {
		dice[i] = 1
	}
	scratch := make([]int, count)

	var sum, sumSq float64
	for visited := 1; ; visited++ {
		if visited%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, 0, err
			}
		}
		w := 1.0
		for _, v := range dice {
			w *= faces[v]
		}
		s := float64(selectedSum(selectors, dice, scratch))
		sum += w * s
		sumSq += w * s * s

		i := 0
		for ; i < count; i++ {
			if dice[i] < sides {
				dice[i]++
				break
			}
			dice[i] = 1
		}
		if i == count {
			break
		}
	}
	return sum, math.Sqrt(math.Max(sumSq-sum*sum, 0)), nil
}

func sample(ctx context.Context, selectors []int, count int, faces []float64) (float64, float64, error) {
	cumulative := make([]float64, len(faces))
	for v := 1; v < len(faces); v++ {
		cumulative[v] = cumulative[v-1] + faces[v]
	}
	rng := rand.New(rand.NewSource(int64(count)*31 + int64(len(faces))))
	dice := make([]int, count)
	scratch := make([]int, count)

	samples := sampleCount(count)
	var sum, sumSq float64
	for n := 0; n < samples; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, 0, err
			}
		}
		for i := range dice {
			u := rng.Float64() * cumulative[len(cumulative)-1]
			dice[i] = sort.SearchFloat64s(cumulative[1:], u) + 1
			if dice[i] >= len(faces) {
				dice[i] = len(faces) - 1
			}
		}
		s := float64(selectedSum(selectors, dice, scratch))
		sum += s
		sumSq += s * s
	}
	mean := sum / float64(samples)
	return mean, math.Sqrt(math.Max(sumSq/float64(samples)-mean*mean, 0)), nil
}
