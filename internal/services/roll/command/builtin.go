package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/louisbranch/rollcall/internal/services/roll/history"
	"github.com/louisbranch/rollcall/internal/services/roll/reply"
	"github.com/louisbranch/rollcall/internal/services/roll/sheet"
)

// Reactions used to acknowledge commands.
const (
	ReactionDone      = "👍"
	ReactionMissing   = "👎"
	ReactionNoMatch   = "❓"
	ReactionFlattered = "😳"
)

var listAllPattern = regexp.MustCompile(`^=\s*\?`)

// SheetSource reads character sheets by account.
type SheetSource interface {
	Load(account string) (sheet.Sheet, error)
}

// HistorySource lists an author's recent rolls.
type HistorySource interface {
	Last(author string) []history.Entry
}

// Builtins holds the collaborators of the built-in commands.
type Builtins struct {
	Sheets   SheetSource
	History  HistorySource
	Registry *Registry
}

// Register adds the built-in commands to r.
func (b Builtins) Register(r *Registry) error {
	if b.Registry == nil {
		b.Registry = r
	}
	for _, d := range []Descriptor{
		{Name: "def", Usage: "def <name> = <value> | def <name> | def =?", Summary: "define, show or list aliases", Handler: b.define},
		{Name: "undef", Usage: "undef <pattern>", Summary: "remove aliases whose names match the pattern", Handler: b.undefine},
		{Name: "iam", Usage: "iam <account>", Summary: "link your character sheet", Handler: b.iam},
		{Name: "whoami", Usage: "whoami", Summary: "show your linked character sheet", Handler: b.whoami},
		{Name: "rolls", Usage: "rolls", Summary: "list your recent rolls", Handler: b.rolls},
		{Name: "help", Usage: "help", Summary: "list the commands", Handler: b.help},
	} {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (b Builtins) define(ctx context.Context, call *Call) error {
	args := strings.TrimSpace(call.Args)
	defines := call.State.Defines

	if !strings.Contains(args, "=") {
		value, ok := defines[args]
		if !ok || args == "" {
			return call.React(ctx, ReactionMissing)
		}
		return call.Whisper(ctx, value)
	}

	if listAllPattern.MatchString(args) && strings.TrimSpace(listAllPattern.ReplaceAllString(args, "")) == "" {
		names := make([]string, 0, len(defines))
		for name := range defines {
			names = append(names, name)
		}
		sort.Strings(names)
		lines := []string{"defines are:"}
		for _, name := range names {
			lines = append(lines, "def "+name+" = "+defines[name])
		}
		for _, chunk := range reply.SplitLines(lines) {
			if err := call.Whisper(ctx, chunk); err != nil {
				return err
			}
		}
		return nil
	}

	name, value, _ := strings.Cut(args, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return call.React(ctx, ReactionMissing)
	}
	defines[name] = strings.TrimSpace(value)
	return call.React(ctx, ReactionDone)
}

func (b Builtins) undefine(ctx context.Context, call *Call) error {
	pattern, err := regexp.Compile(`^(?:` + strings.TrimSpace(call.Args) + `)$`)
	if err != nil {
		return call.React(ctx, ReactionNoMatch)
	}
	changed := false
	for name := range call.State.Defines {
		if pattern.MatchString(name) {
			delete(call.State.Defines, name)
			changed = true
		}
	}
	if !changed {
		return call.React(ctx, ReactionNoMatch)
	}
	return call.React(ctx, ReactionDone)
}

func (b Builtins) iam(ctx context.Context, call *Call) error {
	account := strings.TrimSpace(call.Args)
	if account == "" || strings.ContainsAny(account, " \t") {
		return call.React(ctx, ReactionMissing)
	}
	call.State.Account = account
	call.State.Stats = make(map[string]string)

	if b.Sheets == nil {
		return call.React(ctx, ReactionDone)
	}
	s, err := b.Sheets.Load(account)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return call.Whisper(ctx, fmt.Sprintf("Linked %s, but there is no character sheet by that name yet.", account))
	case errors.Is(err, sheet.ErrInvalidAccount):
		call.State.Account = ""
		return call.React(ctx, ReactionMissing)
	case err != nil:
		return fmt.Errorf("load sheet %s: %w", account, err)
	case !strings.EqualFold(strings.TrimSpace(s.Owner), call.Message.Author):
		return call.Whisper(ctx, fmt.Sprintf("Linked %s. Add `owner: %s` to the sheet to confirm it is yours.", account, call.Message.Author))
	}
	return call.React(ctx, ReactionDone)
}

func (b Builtins) whoami(ctx context.Context, call *Call) error {
	account := strings.TrimSpace(call.State.Account)
	if account == "" {
		return call.Whisper(ctx, "No idea.")
	}
	return call.Whisper(ctx, fmt.Sprintf("You are %s.", account))
}

func (b Builtins) rolls(ctx context.Context, call *Call) error {
	if b.History == nil {
		return call.React(ctx, ReactionNoMatch)
	}
	entries := b.History.Last(call.Message.Author)
	if len(entries) == 0 {
		return call.React(ctx, ReactionNoMatch)
	}
	lines := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		line := fmt.Sprintf("%s %s = %s", strings.Repeat(string(history.RepeatMarker), len(entries)-i), e.Text, e.Result.Verbose)
		if e.Comment != "" {
			line += " # " + e.Comment
		}
		lines = append(lines, line)
	}
	for _, chunk := range reply.SplitLines(lines) {
		if err := call.Whisper(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (b Builtins) help(ctx context.Context, call *Call) error {
	var lines []string
	for _, d := range b.Registry.List() {
		lines = append(lines, fmt.Sprintf("%s: %s", d.Usage, d.Summary))
	}
	lines = append(lines, "anything else is rolled, for example 2d10+3 # attack")
	for _, chunk := range reply.SplitLines(lines) {
		if err := call.Whisper(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}
