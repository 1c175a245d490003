package dice

import (
	"strconv"
	"strings"
)

// Result is the outcome of one evaluation.
//
// Faces, Count, Selectors, Reroll and Rolls are set only when the expression
// is a single dice term; they drive the statistical annotations.
type Result struct {
	Name      string   `json:"name"`
	Verbose   string   `json:"verbose"`
	Total     int      `json:"total"`
	Faces     int      `json:"faces,omitempty"`
	Count     int      `json:"count,omitempty"`
	Selectors []int    `json:"selectors,omitempty"`
	Reroll    int      `json:"reroll,omitempty"`
	Rolls     []int    `json:"rolls,omitempty"`
	Log       []Result `json:"log,omitempty"`
}

// Aggregable reports whether the result is a selector roll whose spread can
// be estimated.
func (r Result) Aggregable() bool {
	return len(r.Selectors) > 0 && r.Faces > 0 && r.Count > 0
}

// Max is the highest total a selector roll can produce.
func (r Result) Max() int {
	return r.Faces * len(r.Selectors)
}

// Resonance counts how many extra dice share the given face: a face rolled
// three times resonates at 2.
func (r Result) Resonance(face int) int {
	n := 0
	for _, v := range r.Rolls {
		if v == face {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return n - 1
}

func formatFaces(faces []int) string {
	parts := make([]string, len(faces))
	for i, v := range faces {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
