package resolve

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

var wordPatterns sync.Map

func wordPattern(key string) *regexp.Regexp {
	if cached, ok := wordPatterns.Load(key); ok {
		return cached.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(key))
	wordPatterns.Store(key, re)
	return re
}

// replaceWord replaces every case-insensitive occurrence of key in text
// that is not part of a longer word, a placeholder or a cross-user
// reference. It reports whether anything changed.
func replaceWord(text, key, value string) (string, bool) {
	matches := wordPattern(key).FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, false
	}

	protected := placeholderPattern.FindAllStringIndex(text, -1)
	protected = append(protected, foreignPattern.FindAllStringIndex(text, -1)...)

	var b strings.Builder
	last := 0
	replaced := false
	for _, m := range matches {
		if !boundaryBefore(text, m[0]) || !boundaryAfter(text, m[1]) || overlaps(m, protected) {
			continue
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(value)
		last = m[1]
		replaced = true
	}
	if !replaced {
		return text, false
	}
	b.WriteString(text[last:])
	return b.String(), true
}

func overlaps(m []int, spans [][]int) bool {
	for _, span := range spans {
		if m[0] < span[1] && span[0] < m[1] {
			return true
		}
	}
	return false
}

func boundaryBefore(text string, at int) bool {
	if at == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:at])
	return !isWordRune(r)
}

func boundaryAfter(text string, at int) bool {
	if at >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[at:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
