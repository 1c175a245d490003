package storage

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	users map[string]UserState
	err   error
}

func (f fakeStore) GetUser(_ context.Context, handle string) (UserState, error) {
	if f.err != nil {
		return UserState{}, f.err
	}
	state, ok := f.users[handle]
	if !ok {
		return UserState{}, ErrNotFound
	}
	return state, nil
}

func (f fakeStore) PutUser(context.Context, UserState) error {
	return nil
}

func TestLoadReturnsFreshStateWhenMissing(t *testing.T) {
	state, err := Load(context.Background(), fakeStore{}, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.Handle != "alice" || state.Defines == nil || state.Stats == nil {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestLoadInitialisesMaps(t *testing.T) {
	store := fakeStore{users: map[string]UserState{"bob": {Handle: "bob", Account: "bob-sheet"}}}
	state, err := Load(context.Background(), store, "bob")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.Account != "bob-sheet" {
		t.Fatalf("account = %q, want %q", state.Account, "bob-sheet")
	}
	state.Defines["x"] = "1"
}

func TestLoadPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Load(context.Background(), fakeStore{err: boom}, "alice"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
