// Package command routes chat messages to bot commands, falling back to
// rolling the message.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/rollcall/internal/services/roll/engine"
	"github.com/louisbranch/rollcall/internal/services/roll/storage"
)

var (
	// ErrNameRequired indicates a command descriptor without a name.
	ErrNameRequired = errors.New("command name is required")
	// ErrHandlerRequired indicates a command descriptor without a handler.
	ErrHandlerRequired = errors.New("command handler is required")
)

// Call is one invocation of a command.
type Call struct {
	Args    string
	Message Message
	State   *storage.UserState
	Sink    engine.Sink
}

// React adds a reaction to the invoking message.
func (c *Call) React(ctx context.Context, symbol string) error {
	return c.Sink.React(ctx, c.Message.ID, symbol)
}

// Whisper sends a private message to the invoking author.
func (c *Call) Whisper(ctx context.Context, text string) error {
	return c.Sink.Whisper(ctx, c.Message.Author, text)
}

// Handler runs a command.
type Handler func(ctx context.Context, call *Call) error

// Descriptor registers a command.
type Descriptor struct {
	Name    string
	Usage   string
	Summary string
	Handler Handler
}

// Registry stores command descriptors by name.
type Registry struct {
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a command. Names are case-insensitive.
func (r *Registry) Register(d Descriptor) error {
	if r == nil {
		return errors.New("registry is required")
	}
	d.Name = strings.ToLower(strings.TrimSpace(d.Name))
	if d.Name == "" {
		return ErrNameRequired
	}
	if strings.ContainsAny(d.Name, " \t\n") {
		return fmt.Errorf("command name must be one word: %q", d.Name)
	}
	if d.Handler == nil {
		return ErrHandlerRequired
	}
	if r.descriptors == nil {
		r.descriptors = make(map[string]Descriptor)
	}
	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("command already registered: %s", d.Name)
	}
	r.descriptors[d.Name] = d
	return nil
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	d, ok := r.descriptors[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// List returns the registered commands sorted by name.
func (r *Registry) List() []Descriptor {
	if r == nil || len(r.descriptors) == 0 {
		return nil
	}
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
