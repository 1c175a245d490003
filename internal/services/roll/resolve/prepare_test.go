package resolve

import "testing"

func TestPrepare(t *testing.T) {
	tests := []struct {
		raw  string
		want Request
	}{
		{raw: "1d20", want: Request{Text: "1d20"}},
		{raw: "?1d20", want: Request{Text: "1d20", Debug: true}},
		{raw: " 1d20 # to hit ", want: Request{Text: "1d20", Comment: "to hit"}},
		{raw: "?2d6 #dmg", want: Request{Text: "2d6", Comment: "dmg", Debug: true}},
		{raw: "1d6 # first # second", want: Request{Text: "1d6 # first", Comment: "second"}},
		{raw: `1d6 \# not a comment`, want: Request{Text: "1d6 # not a comment"}},
		{raw: `1d6 # keep \# this`, want: Request{Text: "1d6", Comment: "keep # this"}},
		{raw: "++", want: Request{Text: "++"}},
		{raw: "", want: Request{}},
	}
	for _, tt := range tests {
		got := Prepare(tt.raw)
		if got != tt.want {
			t.Fatalf("Prepare(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}
