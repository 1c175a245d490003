// Package history keeps each author's most recent successful rolls.
package history

import (
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/rollcall/internal/services/roll/dice"
)

// DefaultBound is the number of entries kept per author.
const DefaultBound = 10

// RepeatMarker is the character a repeat request is made of.
const RepeatMarker = '+'

// Entry is one successful roll.
type Entry struct {
	Text    string
	Comment string
	Result  dice.Result
	At      time.Time
}

// Store is an in-memory, per-author sliding window of entries.
//
// Store is safe for concurrent use. Appends from concurrent requests of the
// same author land in completion order.
type Store struct {
	mu      sync.Mutex
	bound   int
	entries map[string][]Entry
}

// New creates a store keeping at most bound entries per author.
func New(bound int) *Store {
	if bound <= 0 {
		bound = DefaultBound
	}
	return &Store{bound: bound, entries: make(map[string][]Entry)}
}

// Bound returns the per-author capacity.
func (s *Store) Bound() int {
	return s.bound
}

// Append adds an entry for author, dropping the oldest past the bound.
func (s *Store) Append(author string, entry Entry) {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.entries[author], entry)
	if len(list) > s.bound {
		trimmed := make([]Entry, s.bound)
		copy(trimmed, list[len(list)-s.bound:])
		list = trimmed
	}
	s.entries[author] = list
}

// Last returns a copy of author's entries, oldest first.
func (s *Store) Last(author string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[author]
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

// NthFromEnd returns the n-th most recent entry (1 is the newest). n below 1
// is treated as 1 and n past the oldest entry is clamped to it.
func (s *Store) NthFromEnd(author string, n int) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[author]
	if len(list) == 0 {
		return Entry{}, false
	}
	if n < 1 {
		n = 1
	}
	if n > len(list) {
		n = len(list)
	}
	return list[len(list)-n], true
}

// IsRepeat reports whether text consists solely of repeat markers.
func IsRepeat(text string) bool {
	text = strings.TrimSpace(text)
	return text != "" && strings.Trim(text, string(RepeatMarker)) == ""
}

// Expand replaces a repeat request with the stored text it points at. The
// second return is false when text is not a repeat request. A repeat request
// with no history expands to the empty string.
func (s *Store) Expand(author, text string) (string, bool) {
	if !IsRepeat(text) {
		return text, false
	}
	n := strings.Count(text, string(RepeatMarker))
	entry, ok := s.NthFromEnd(author, n)
	if !ok {
		return "", true
	}
	return entry.Text, true
}
