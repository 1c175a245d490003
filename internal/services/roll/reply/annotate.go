package reply

import (
	"context"

	"github.com/louisbranch/rollcall/internal/services/roll/dice"
)

// Reaction symbols attached to roll replies.
const (
	ReactionMaximum = "💥"
	ReactionOnes    = "😱"
	ReactionLow     = "🤮"
	ReactionHigh    = "🤯"
)

var (
	faceEmoji      = [...]string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}
	amplitudeEmoji = [...]string{"❗", "‼️", "🎆"}
)

// RangeFunc returns the mean and standard deviation of a selector roll.
type RangeFunc func(ctx context.Context, selectors []int, count, sides, reroll int) (float64, float64, error)

// Annotate returns the advisory reactions for a selector roll, in the order
// they should be added. Rolls without selector metadata get none. When the
// spread cannot be computed before ctx is done the spread reactions are
// skipped.
func Annotate(ctx context.Context, res dice.Result, expected RangeFunc) []string {
	if !res.Aggregable() {
		return nil
	}
	var out []string
	if res.Total >= res.Max() {
		out = append(out, ReactionMaximum)
	}

	if res.Faces == 10 && res.Count == 5 {
		for face := 1; face <= 10; face++ {
			amplitude := res.Resonance(face)
			if amplitude > 0 {
				out = append(out, faceEmoji[face-1])
			}
			if amplitude > 1 && len(res.Rolls) == 5 && amplitude-2 < len(amplitudeEmoji) {
				out = append(out, amplitudeEmoji[amplitude-2])
			}
		}
		if res.Resonance(1) > 1 {
			out = append(out, ReactionOnes)
		}
	}

	if expected == nil {
		return out
	}
	mean, dev, err := expected(ctx, res.Selectors, res.Count, res.Faces, res.Reroll)
	if err != nil {
		return out
	}
	total := float64(res.Total)
	if total <= mean-dev {
		out = append(out, ReactionLow)
	}
	if total >= mean+dev {
		out = append(out, ReactionHigh)
	}
	return out
}
