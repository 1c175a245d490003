// Package sheet looks up character stats from YAML character sheets.
//
// Sheets live in one directory as <account>.yaml:
//
//	owner: alice
//	name: Aria
//	stats:
//	  attributes:
//	    strength: 3
//	  skills:
//	    stealth: 2
//
// Nested stats are flattened to their leaf names. A sheet only answers for
// the handle named as its owner.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/rollcall/internal/services/roll/storage"
	"gopkg.in/yaml.v3"
)

// Extension is the file extension of character sheets.
const Extension = ".yaml"

// ErrNoCharacter indicates the handle has no linked character sheet.
var ErrNoCharacter = errors.New("no character linked")

// ErrUnconfirmed indicates the linked sheet names a different owner.
var ErrUnconfirmed = errors.New("character not confirmed by its owner")

// ErrInvalidAccount indicates an account name that cannot be a sheet file.
var ErrInvalidAccount = errors.New("invalid account name")

// Sheet is one parsed character sheet.
type Sheet struct {
	Owner string            `yaml:"owner"`
	Name  string            `yaml:"name"`
	Stats map[string]string `yaml:"-"`
}

type rawSheet struct {
	Owner string         `yaml:"owner"`
	Name  string         `yaml:"name"`
	Stats map[string]any `yaml:"stats"`
}

// Lookup resolves chat handles to character stats.
type Lookup struct {
	dir   string
	users storage.UserStore

	mu    sync.RWMutex
	cache map[string]Sheet
}

// NewLookup creates a lookup reading sheets from dir and account links from users.
func NewLookup(dir string, users storage.UserStore) *Lookup {
	return &Lookup{dir: dir, users: users, cache: make(map[string]Sheet)}
}

// StatsFor returns the stats of the character linked to handle.
func (l *Lookup) StatsFor(ctx context.Context, handle string) (map[string]string, error) {
	state, err := l.users.GetUser(ctx, handle)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoCharacter
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", handle, err)
	}
	if strings.TrimSpace(state.Account) == "" {
		return nil, ErrNoCharacter
	}

	sheet, err := l.Load(state.Account)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCharacter
	}
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(sheet.Owner), handle) {
		return nil, fmt.Errorf("%w: %s is owned by %q", ErrUnconfirmed, state.Account, sheet.Owner)
	}
	out := make(map[string]string, len(sheet.Stats))
	for k, v := range sheet.Stats {
		out[k] = v
	}
	return out, nil
}

// Load returns the sheet of account, reading it from disk on a cache miss.
func (l *Lookup) Load(account string) (Sheet, error) {
	if err := validateAccount(account); err != nil {
		return Sheet{}, err
	}
	l.mu.RLock()
	sheet, ok := l.cache[account]
	l.mu.RUnlock()
	if ok {
		return sheet, nil
	}

	data, err := os.ReadFile(filepath.Join(l.dir, account+Extension))
	if err != nil {
		return Sheet{}, fmt.Errorf("read sheet %s: %w", account, err)
	}
	sheet, err = Parse(data)
	if err != nil {
		return Sheet{}, fmt.Errorf("parse sheet %s: %w", account, err)
	}

	l.mu.Lock()
	l.cache[account] = sheet
	l.mu.Unlock()
	return sheet, nil
}

// ChangedSince reports whether the sheet of account was written, or
// removed, after since.
func (l *Lookup) ChangedSince(account string, since time.Time) bool {
	if validateAccount(account) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(l.dir, account+Extension))
	if err != nil {
		return true
	}
	return info.ModTime().After(since)
}

// Invalidate drops account from the cache.
func (l *Lookup) Invalidate(account string) {
	l.mu.Lock()
	delete(l.cache, account)
	l.mu.Unlock()
}

// Parse decodes a sheet document and flattens its stats.
func Parse(data []byte) (Sheet, error) {
	var raw rawSheet
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Sheet{}, err
	}
	sheet := Sheet{Owner: raw.Owner, Name: raw.Name, Stats: make(map[string]string)}
	flatten(raw.Stats, sheet.Stats)
	return sheet, nil
}

// flatten copies leaf values into out keyed by leaf name, visiting keys in
// sorted order so a repeated leaf name resolves the same way every time.
func flatten(node map[string]any, out map[string]string) {
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := node[k].(type) {
		case map[string]any:
			flatten(v, out)
		case nil:
		default:
			out[k] = fmt.Sprint(v)
		}
	}
}

func validateAccount(account string) error {
	if account == "" || account != filepath.Base(account) || strings.HasPrefix(account, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	return nil
}
