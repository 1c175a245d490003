// Package resolve turns a roll request into an expression the evaluator can
// read, substituting history references, cross-user stat references, the
// author's character stats and the author's aliases.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/services/roll/history"
	"github.com/louisbranch/rollcall/internal/services/roll/sheet"
	"github.com/louisbranch/rollcall/internal/services/roll/storage"
	"golang.org/x/text/cases"
)

// MaxPasses bounds the substitution loop regardless of the alias table.
const MaxPasses = 100

// maxForeignDepth is how many levels of cross-user references are followed:
// references in the request, plus references inside the values they bring in.
const maxForeignDepth = 2

var (
	foreignPattern     = regexp.MustCompile(`<@!?([\w-]+)>\.(\w+)`)
	placeholderPattern = regexp.MustCompile(`⟦[^⟧]*⟧`)
	historyPattern     = regexp.MustCompile(`\$(\d*)`)
)

// StatSource returns the character stats linked to a chat handle.
type StatSource interface {
	StatsFor(ctx context.Context, handle string) (map[string]string, error)
}

// SheetChanges is implemented by stat sources that can tell when a linked
// sheet was edited after its stats were cached.
type SheetChanges interface {
	ChangedSince(account string, since time.Time) bool
}

// HistorySource exposes an author's previous rolls.
type HistorySource interface {
	NthFromEnd(author string, n int) (history.Entry, bool)
}

// Resolution is the outcome of resolving one request.
type Resolution struct {
	Text    string
	Comment string
	Debug   bool

	// Trace lists every step; it is only filled for debug requests.
	Trace []string
}

// Resolver substitutes symbolic names in roll requests.
type Resolver struct {
	stats   StatSource
	history HistorySource
}

// New creates a resolver. Either collaborator may be nil.
func New(stats StatSource, hist HistorySource) *Resolver {
	return &Resolver{stats: stats, history: hist}
}

// ResolveRequest resolves an already prepared request.
//
// The author's cached stats in state are refreshed when the request is a
// debug request, the cache is empty or the linked sheet changed after the
// cache was taken. Other users' stats are only read.
func (r *Resolver) ResolveRequest(ctx context.Context, req Request, author string, state *storage.UserState) (Resolution, error) {
	if state == nil {
		state = storage.NewUserState(author)
	}
	p := &pass{
		ctx:     ctx,
		r:       r,
		author:  author,
		fold:    cases.Fold(),
		index:   make(map[string]*entry),
		foreign: make(map[string]map[string]string),
	}
	p.note("input: %s", req.Text)

	if err := r.refreshStats(ctx, req.Debug, author, state, p); err != nil {
		return Resolution{}, err
	}

	text := p.substituteHistory(req.Text)
	p.buildTable(state)
	text = p.rewriteForeign(text, 1)
	text = p.loop(text)
	p.note("resolved: %s", text)

	res := Resolution{Text: text, Comment: req.Comment, Debug: req.Debug}
	if req.Debug {
		res.Trace = p.trace
	}
	return res, nil
}

func (r *Resolver) refreshStats(ctx context.Context, debug bool, author string, state *storage.UserState, p *pass) error {
	if r.stats == nil || (!debug && len(state.Stats) > 0 && !r.sheetChanged(state)) {
		return nil
	}
	loadedAt := time.Now().UTC()
	stats, err := r.stats.StatsFor(ctx, author)
	switch {
	case err == nil:
		state.Stats = stats
		state.StatsLoadedAt = loadedAt
		p.note("loaded %d character stats", len(stats))
		return nil
	case errors.Is(err, sheet.ErrNoCharacter):
		state.Stats = make(map[string]string)
		state.StatsLoadedAt = loadedAt
		p.note("no character linked")
		return nil
	case errors.Is(err, sheet.ErrUnconfirmed):
		state.Stats = make(map[string]string)
		return apperrors.WrapWithMetadata(
			apperrors.CodeRollIdentityUnresolved,
			fmt.Sprintf("Your linked character %q does not list you as its owner. Add `owner: %s` to the sheet or link another one with iam.", state.Account, author),
			map[string]string{"author": author, "account": state.Account},
			err,
		)
	default:
		return fmt.Errorf("load stats for %s: %w", author, err)
	}
}

func (r *Resolver) sheetChanged(state *storage.UserState) bool {
	changes, ok := r.stats.(SheetChanges)
	if !ok || state.Account == "" {
		return false
	}
	return changes.ChangedSince(state.Account, state.StatsLoadedAt)
}

type entry struct {
	key         string
	value       string
	placeholder bool
	depth       int
	used        bool
}

type pass struct {
	ctx    context.Context
	r      *Resolver
	author string
	fold   cases.Caser

	entries []*entry
	index   map[string]*entry

	// foreign caches each referenced user's stats by folded name; nil marks
	// a user whose stats could not be loaded.
	foreign map[string]map[string]string
	trace   []string
}

func (p *pass) note(format string, args ...any) {
	p.trace = append(p.trace, fmt.Sprintf(format, args...))
}

func (p *pass) foldKey(key string) string {
	return p.fold.String(strings.TrimSpace(key))
}

// buildTable merges character stats with the author's defines; defines win.
func (p *pass) buildTable(state *storage.UserState) {
	merged := make(map[string]string, len(state.Stats)+len(state.Defines))
	for k, v := range state.Stats {
		merged[p.foldKey(k)] = v
	}
	for k, v := range state.Defines {
		merged[p.foldKey(k)] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		e := &entry{key: k, value: merged[k]}
		p.entries = append(p.entries, e)
		p.index[k] = e
	}
}

func (p *pass) substituteHistory(text string) string {
	if p.r.history == nil || !strings.Contains(text, "$") {
		return text
	}
	return historyPattern.ReplaceAllStringFunc(text, func(ref string) string {
		n := 1
		if digits := ref[1:]; digits != "" {
			parsed, err := strconv.Atoi(digits)
			if err != nil || parsed < 1 {
				p.note("history reference %s left as written", ref)
				return ref
			}
			n = parsed
		}
		prior, ok := p.r.history.NthFromEnd(p.author, n)
		if !ok {
			p.note("history reference %s: no previous roll", ref)
			return ref
		}
		value := strconv.Itoa(prior.Result.Total)
		p.note("%s -> %s (%s)", ref, value, prior.Text)
		return value
	})
}

// rewriteForeign replaces cross-user references in text with placeholders
// backed by table entries. depth is the nesting level of the references.
func (p *pass) rewriteForeign(text string, depth int) string {
	matches := foreignPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	if depth > maxForeignDepth {
		p.note("cross-user references nested deeper than %d left as written", maxForeignDepth)
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		handle := text[m[2]:m[3]]
		stat := p.foldKey(text[m[4]:m[5]])
		value, ok := p.foreignStat(handle, stat)
		if !ok {
			continue
		}
		placeholder := "⟦" + handle + "." + stat + "⟧"
		if _, exists := p.index[placeholder]; !exists {
			e := &entry{key: placeholder, value: value, placeholder: true, depth: depth}
			p.entries = append(p.entries, e)
			p.index[placeholder] = e
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(placeholder)
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func (p *pass) foreignStat(handle, stat string) (string, bool) {
	stats, loaded := p.foreign[handle]
	if !loaded {
		if p.r.stats != nil {
			raw, err := p.r.stats.StatsFor(p.ctx, handle)
			if err != nil {
				p.note("could not load stats for <@%s>: %v", handle, err)
			} else {
				stats = make(map[string]string, len(raw))
				for k, v := range raw {
					stats[p.foldKey(k)] = v
				}
			}
		}
		p.foreign[handle] = stats
	}
	if stats == nil {
		return "", false
	}
	value, ok := stats[stat]
	if !ok {
		p.note("<@%s> has no stat %q", handle, stat)
	}
	return value, ok
}

func (p *pass) loop(text string) string {
	for i := 0; i < MaxPasses; i++ {
		next, changed := p.step(text)
		if !changed {
			return text
		}
		text = next
	}
	p.note("stopped after %d passes", MaxPasses)
	return text
}

// step substitutes the first unused key present in text.
func (p *pass) step(text string) (string, bool) {
	for _, e := range p.entries {
		if e.used {
			continue
		}
		var (
			next    string
			changed bool
		)
		if e.placeholder {
			changed = strings.Contains(text, e.key)
			next = strings.ReplaceAll(text, e.key, e.value)
		} else {
			next, changed = replaceWord(text, e.key, e.value)
		}
		if !changed {
			continue
		}
		e.used = true
		p.note("%s -> %s: %s", e.key, e.value, next)
		return p.rewriteForeign(next, e.depth+1), true
	}
	return text, false
}
