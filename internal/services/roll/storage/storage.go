// Package storage defines persistence contracts for per-user roll state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested user record is missing.
var ErrNotFound = errors.New("record not found")

// UserState is everything persisted for one chat user.
//
// Defines are the user's explicit aliases. Stats is a cache of the linked
// character sheet taken at StatsLoadedAt and is refreshed from the sheet
// lookup when stale.
type UserState struct {
	Handle        string
	Account       string
	Defines       map[string]string
	Stats         map[string]string
	StatsLoadedAt time.Time
	UpdatedAt     time.Time
}

// NewUserState returns an empty state for handle with initialised maps.
func NewUserState(handle string) *UserState {
	return &UserState{
		Handle:  handle,
		Defines: make(map[string]string),
		Stats:   make(map[string]string),
	}
}

// UserStore persists user state.
type UserStore interface {
	GetUser(ctx context.Context, handle string) (UserState, error)
	PutUser(ctx context.Context, state UserState) error
}

// Load returns the stored state for handle, or a fresh state when none exists.
func Load(ctx context.Context, store UserStore, handle string) (*UserState, error) {
	state, err := store.GetUser(ctx, handle)
	if errors.Is(err, ErrNotFound) {
		return NewUserState(handle), nil
	}
	if err != nil {
		return nil, err
	}
	if state.Defines == nil {
		state.Defines = make(map[string]string)
	}
	if state.Stats == nil {
		state.Stats = make(map[string]string)
	}
	return &state, nil
}
