// Package reply renders roll results into chat messages that fit the
// platform's message size limit.
package reply

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/louisbranch/rollcall/internal/services/roll/dice"
)

const (
	// Ceiling is the longest message, in characters, the platform accepts.
	Ceiling = 2000
	// ChunkBody is the longest body placed inside one fenced chunk.
	ChunkBody = 1990
	// CondenseThreshold is the breakdown length past which identical
	// consecutive sub-rolls are grouped on one line.
	CondenseThreshold = 1950
)

const (
	fence       = "```"
	cutMarker   = " [...]"
	giveUpNotes = ": ... try generating less output"
)

// Breakdown lists every sub-roll of res, one per line. It is empty when the
// evaluation rolled fewer than two dice terms.
func Breakdown(res dice.Result) string {
	if len(res.Log) < 2 {
		return ""
	}
	var b strings.Builder
	for _, sub := range res.Log {
		if sub.Verbose == "" {
			continue
		}
		b.WriteString(sub.Name)
		b.WriteString(": ")
		b.WriteString(sub.Verbose)
		b.WriteByte('\n')
	}
	full := b.String()
	if utf8.RuneCountInString(full) > CondenseThreshold {
		return Condensed(res)
	}
	return full
}

// Condensed groups consecutive sub-rolls sharing a name: the first keeps its
// full rendering and the rest contribute only their totals.
func Condensed(res dice.Result) string {
	var b strings.Builder
	last := ""
	for i, sub := range res.Log {
		if sub.Verbose == "" {
			continue
		}
		if i > 0 && sub.Name == last {
			b.WriteString(", ")
			b.WriteString(strconv.Itoa(sub.Total))
			continue
		}
		last = sub.Name
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(sub.Name)
		b.WriteString(": ")
		b.WriteString(sub.Verbose)
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + "\n"
}

// Compose renders the public reply for one roll. The result is never longer
// than Ceiling characters: an oversized breakdown is cut while keeping the
// final result, then replaced by a short notice, then clamped.
func Compose(mention, comment, text string, res dice.Result) string {
	header := mention + " " + comment + " `" + text + "`:\n"
	breakdown := Breakdown(res)

	msg := header + breakdown + " "
	if !strings.HasSuffix(breakdown, res.Verbose+"\n") {
		msg += res.Verbose
	}
	if runeLen(msg) <= Ceiling {
		return msg
	}

	budget := Ceiling - runeLen(header) - runeLen(cutMarker) - runeLen(res.Verbose)
	if budget > 0 {
		return header + truncate(breakdown, budget) + cutMarker + res.Verbose
	}

	msg = header + res.Name + giveUpNotes
	if runeLen(msg) <= Ceiling {
		return msg
	}
	return truncate(msg, Ceiling)
}

// Chunk splits body into fenced messages. The first message carries prefix
// ahead of its fence; every message stays under Ceiling.
func Chunk(prefix, body string) []string {
	runes := []rune(body)
	first := ChunkBody - runeLen(prefix)
	if first < 0 {
		prefix = truncate(prefix, ChunkBody)
		first = 0
	}
	if first > len(runes) {
		first = len(runes)
	}
	out := []string{prefix + fence + string(runes[:first]) + fence}
	for i := first; i < len(runes); i += ChunkBody {
		end := i + ChunkBody
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, fence+string(runes[i:end])+fence)
	}
	return out
}

// SplitLines packs lines into as few fenced messages as possible without
// breaking a line unless it alone exceeds ChunkBody.
func SplitLines(lines []string) []string {
	var (
		out     []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size == 0 {
			return
		}
		out = append(out, fence+current.String()+fence)
		current.Reset()
		size = 0
	}
	for _, line := range lines {
		for _, piece := range splitRunes(line, ChunkBody-1) {
			n := runeLen(piece) + 1
			if size+n > ChunkBody {
				flush()
			}
			current.WriteString(piece)
			current.WriteByte('\n')
			size += n
		}
	}
	flush()
	return out
}

// Clamp cuts s to at most Ceiling characters.
func Clamp(s string) string {
	return truncate(s, Ceiling)
}

func splitRunes(s string, max int) []string {
	runes := []rune(s)
	if len(runes) <= max {
		return []string{s}
	}
	var out []string
	for i := 0; i < len(runes); i += max {
		end := i + max
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
