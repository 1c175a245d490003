package mcptool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/rollcall/internal/platform/id"
	"github.com/louisbranch/rollcall/internal/services/roll/command"
	"github.com/louisbranch/rollcall/internal/services/roll/engine"
)

// Dispatcher handles one message addressed to the bot.
type Dispatcher interface {
	Handle(ctx context.Context, msg command.Message, sink engine.Sink) error
}

// RollInput represents the MCP tool input for talking to the bot.
type RollInput struct {
	User string `json:"user" jsonschema:"handle the message is sent as; defines, stats and history are kept per handle"`
	Text string `json:"text" jsonschema:"message text, e.g. 2d10+3 # attack, def STR = 3 or help"`
}

// RollResult represents the MCP tool output.
type RollResult struct {
	MessageID string     `json:"message_id" jsonschema:"reference assigned to the input message"`
	Replies   []string   `json:"replies" jsonschema:"public replies the bot posted"`
	Reactions []Reaction `json:"reactions" jsonschema:"reactions the bot added"`
	Private   []string   `json:"private" jsonschema:"private messages sent only to the user"`
}

// RollTool defines the MCP tool schema for the roll bot.
func RollTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "roll",
		Description: "Sends a message to the dice bot as the given user and returns what the bot answered. Dice expressions are rolled; def, undef, iam, whoami, rolls and help are commands.",
	}
}

// RollHandler executes a roll request.
func RollHandler(dispatcher Dispatcher) mcp.ToolHandlerFor[RollInput, RollResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input RollInput) (*mcp.CallToolResult, RollResult, error) {
		user := strings.TrimSpace(input.User)
		if user == "" {
			return nil, RollResult{}, errors.New("user is required")
		}
		if strings.TrimSpace(input.Text) == "" {
			return nil, RollResult{}, errors.New("text is required")
		}

		sink := &captureSink{}
		msg := command.Message{
			ID:      engine.MessageRef(id.NewPrefixed("mcp")),
			Author:  user,
			Mention: "@" + user,
			Text:    input.Text,
		}
		if err := dispatcher.Handle(ctx, msg, sink); err != nil {
			return nil, RollResult{}, fmt.Errorf("roll failed: %w", err)
		}

		result := sink.result()
		result.MessageID = string(msg.ID)
		return nil, result, nil
	}
}
