package stats

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func near(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestExpectedRangeSingleDie(t *testing.T) {
	mean, dev, err := ExpectedRange(context.Background(), []int{1}, 1, 6, 0)
	if err != nil {
		t.Fatalf("expected range: %v", err)
	}
	if !near(mean, 3.5, 1e-9) {
		t.Fatalf("mean = %v, want 3.5", mean)
	}
	if !near(dev, math.Sqrt(35.0/12.0), 1e-9) {
		t.Fatalf("dev = %v, want %v", dev, math.Sqrt(35.0/12.0))
	}
}

func TestExpectedRangeHighestOfTwo(t *testing.T) {
	// E[max of 2d6] = 161/36.
	mean, _, err := ExpectedRange(context.Background(), []int{1}, 2, 6, 0)
	if err != nil {
		t.Fatalf("expected range: %v", err)
	}
	if !near(mean, 161.0/36.0, 1e-9) {
		t.Fatalf("mean = %v, want %v", mean, 161.0/36.0)
	}
}

func TestExpectedRangeRerollRaisesMean(t *testing.T) {
	plain, _, err := ExpectedRange(context.Background(), []int{1}, 1, 10, 0)
	if err != nil {
		t.Fatalf("expected range: %v", err)
	}
	rerolled, _, err := ExpectedRange(context.Background(), []int{1}, 1, 10, 1)
	if err != nil {
		t.Fatalf("expected range: %v", err)
	}
	// Rerolling ones moves 0.1 of the mass from 1 to the uniform mean.
	if want := plain + 0.1*(5.5-1); !near(rerolled, want, 1e-9) {
		t.Fatalf("rerolled mean = %v, want %v", rerolled, want)
	}
}

func TestExpectedRangeSamplesLargeSpaces(t *testing.T) {
	mean, dev, err := ExpectedRange(context.Background(), []int{1, 2, 3, 4, 5, 6, 7}, 7, 10, 0)
	if err != nil {
		t.Fatalf("expected range: %v", err)
	}
	// Sum of 7d10: mean 38.5, dev sqrt(7*8.25).
	if !near(mean, 38.5, 0.2) {
		t.Fatalf("mean = %v, want about 38.5", mean)
	}
	if !near(dev, math.Sqrt(7*8.25), 0.2) {
		t.Fatalf("dev = %v, want about %v", dev, math.Sqrt(7*8.25))
	}
}

func TestExpectedRangeIsMemoised(t *testing.T) {
	m1, d1, err := ExpectedRange(context.Background(), []int{1, 2}, 5, 10, 0)
	if err != nil {
		t.Fatalf("expected range: %v", err)
	}
	m2, d2, err := ExpectedRange(context.Background(), []int{1, 2}, 5, 10, 0)
	if err != nil {
		t.Fatalf("expected range: %v", err)
	}
	if m1 != m2 || d1 != d2 {
		t.Fatalf("memoised values differ: (%v,%v) vs (%v,%v)", m1, d1, m2, d2)
	}
}

func TestExpectedRangeRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		selectors []int
		count     int
		sides     int
		reroll    int
	}{
		{name: "no selectors", count: 1, sides: 6},
		{name: "selector past count", selectors: []int{3}, count: 2, sides: 6},
		{name: "bad sides", selectors: []int{1}, count: 1, sides: 0},
		{name: "reroll all", selectors: []int{1}, count: 1, sides: 6, reroll: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ExpectedRange(context.Background(), tt.selectors, tt.count, tt.sides, tt.reroll); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestExpectedRangeRefusesHugeRolls(t *testing.T) {
	start := time.Now()
	if _, _, err := ExpectedRange(context.Background(), []int{1}, 100000, 10, 0); !errors.Is(err, ErrTooManyDice) {
		t.Fatalf("err = %v, want ErrTooManyDice", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("refusal took %s", elapsed)
	}
}

func TestExpectedRangeLargestRollIsBounded(t *testing.T) {
	start := time.Now()
	mean, _, err := ExpectedRange(context.Background(), []int{1}, MaxCount, 10, 0)
	if err != nil {
		t.Fatalf("expected range: %v", err)
	}
	if mean < 9.9 || mean > 10 {
		t.Fatalf("mean = %v, want about 10", mean)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("estimate took %s", elapsed)
	}
}

func TestExpectedRangeStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := ExpectedRange(ctx, []int{1, 2}, 900, 10, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want %v", err, context.Canceled)
	}
	if _, _, err := ExpectedRange(ctx, []int{1}, 6, 10, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("exact: err = %v, want %v", err, context.Canceled)
	}
}

func TestSampleCountScalesWithDice(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{count: 7, want: Samples},
		{count: 100, want: SampledDice / 100},
		{count: MaxCount, want: SampledDice / MaxCount},
		{count: 100000, want: MinSamples},
	}
	for _, tt := range tests {
		if got := sampleCount(tt.count); got != tt.want {
			t.Fatalf("sampleCount(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}
}
