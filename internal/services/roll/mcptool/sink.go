package mcptool

import (
	"context"
	"fmt"
	"sync"

	"github.com/louisbranch/rollcall/internal/services/roll/engine"
)

// Reaction is a symbol the bot attached to a message.
type Reaction struct {
	Message string `json:"message" jsonschema:"reference of the message the bot reacted to"`
	Symbol  string `json:"symbol" jsonschema:"reaction symbol"`
}

// captureSink records everything the bot says so it can be returned as a
// tool result instead of being posted to a room.
type captureSink struct {
	mu        sync.Mutex
	replies   []string
	reactions []Reaction
	private   []string
}

func (s *captureSink) Send(_ context.Context, text string) (engine.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, text)
	return engine.MessageRef(fmt.Sprintf("reply-%d", len(s.replies))), nil
}

func (s *captureSink) React(_ context.Context, ref engine.MessageRef, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions = append(s.reactions, Reaction{Message: string(ref), Symbol: symbol})
	return nil
}

func (s *captureSink) Whisper(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.private = append(s.private, text)
	return nil
}

func (s *captureSink) result() RollResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RollResult{
		Replies:   append([]string{}, s.replies...),
		Reactions: append([]Reaction{}, s.reactions...),
		Private:   append([]string{}, s.private...),
	}
}
