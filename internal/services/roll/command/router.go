package command

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"unicode"

	apperrors "github.com/louisbranch/rollcall/internal/platform/errors"
	"github.com/louisbranch/rollcall/internal/platform/timeouts"
	"github.com/louisbranch/rollcall/internal/services/roll/engine"
	"github.com/louisbranch/rollcall/internal/services/roll/storage"
)

// Message is an inbound chat message addressed to the bot.
type Message struct {
	ID      engine.MessageRef
	Author  string
	Mention string
	Text    string
}

// Roller rolls requests that are not commands.
type Roller interface {
	Roll(ctx context.Context, req engine.Request, state *storage.UserState, sink engine.Sink) (*engine.Result, error)
}

// Router dispatches messages to commands or the roller.
type Router struct {
	registry *Registry
	roller   Roller
	users    storage.UserStore
	botName  string
	praise   *regexp.Regexp
}

// NewRouter creates a router. botName is stripped when a message starts
// with it and is the name praise must address.
func NewRouter(registry *Registry, roller Roller, users storage.UserStore, botName string) *Router {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Router{
		registry: registry,
		roller:   roller,
		users:    users,
		botName:  botName,
		praise:   praisePattern(botName),
	}
}

// Handle processes one message. Every non-empty line is handled on its own,
// in order, against the author's state, which is persisted afterwards.
func (r *Router) Handle(ctx context.Context, msg Message, sink engine.Sink) error {
	lines := r.lines(msg.Text)
	if len(lines) == 0 {
		return nil
	}

	state, err := r.loadState(ctx, msg.Author)
	if err != nil {
		return err
	}

	for _, line := range lines {
		if err := r.handleLine(ctx, msg, line, state, sink); err != nil {
			log.Printf("roll: handle line failed author=%q line=%q: %v", msg.Author, line, err)
		}
	}
	return r.saveState(ctx, state)
}

func (r *Router) handleLine(ctx context.Context, msg Message, line string, state *storage.UserState, sink engine.Sink) error {
	name, args := splitCommand(line)
	if d, ok := r.registry.Lookup(name); ok {
		return d.Handler(ctx, &Call{Args: args, Message: msg, State: state, Sink: sink})
	}

	res, err := r.roller.Roll(ctx, engine.Request{
		Raw:     line,
		Author:  msg.Author,
		Mention: msg.Mention,
		Message: msg.ID,
	}, state, sink)
	// Failed rolls have already been answered. Lines that were not rolls at
	// all may still be addressed to the bot.
	if res == nil && (err == nil || apperrors.CodeOf(err) == apperrors.CodeRollMalformedExpression) {
		return r.easterEgg(ctx, msg, line, sink)
	}
	return nil
}

func (r *Router) lines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Trim(line, "` \t\r")
		if r.botName != "" && len(line) >= len(r.botName) && strings.EqualFold(line[:len(r.botName)], r.botName) {
			line = strings.TrimLeftFunc(line[len(r.botName):], func(c rune) bool {
				return unicode.IsSpace(c) || c == ',' || c == ':'
			})
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (r *Router) loadState(ctx context.Context, author string) (*storage.UserState, error) {
	if r.users == nil {
		return storage.NewUserState(author), nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.StoreOperation)
	defer cancel()
	state, err := storage.Load(ctx, r.users, author)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", author, err)
	}
	return state, nil
}

func (r *Router) saveState(ctx context.Context, state *storage.UserState) error {
	if r.users == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.StoreOperation)
	defer cancel()
	if err := r.users.PutUser(ctx, *state); err != nil {
		return fmt.Errorf("save state for %s: %w", state.Handle, err)
	}
	return nil
}

func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	idx := strings.IndexFunc(line, unicode.IsSpace)
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx:])
}
