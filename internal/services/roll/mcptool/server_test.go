package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/rollcall/internal/services/roll/command"
	"github.com/louisbranch/rollcall/internal/services/roll/engine"
)

type echoDispatcher struct {
	err  error
	seen []command.Message
}

func (d *echoDispatcher) Handle(ctx context.Context, msg command.Message, sink engine.Sink) error {
	d.seen = append(d.seen, msg)
	if d.err != nil {
		return d.err
	}
	if err := sink.Whisper(ctx, msg.Author, "rolled 4"); err != nil {
		return err
	}
	if _, err := sink.Send(ctx, msg.Mention+" "+msg.Text); err != nil {
		return err
	}
	return sink.React(ctx, msg.ID, "🎲")
}

func connect(t *testing.T, dispatcher Dispatcher) *mcp.ClientSession {
	t.Helper()
	server, err := New(dispatcher)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.serveWithTransport(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer connectCancel()
	session, err := client.Connect(connectCtx, clientTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop after cancel")
		}
	})
	return session
}

func callRoll(t *testing.T, session *mcp.ClientSession, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "roll", Arguments: args})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	return res
}

func TestNewRequiresDispatcher(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil dispatcher")
	}
}

func TestRollToolReturnsWhatTheBotSaid(t *testing.T) {
	dispatcher := &echoDispatcher{}
	session := connect(t, dispatcher)

	res := callRoll(t, session, map[string]any{"user": "alice", "text": "2d6"})
	if res.IsError {
		t.Fatalf("tool returned error: %+v", res.Content)
	}

	data, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var got RollResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode result: %v", err)
	}

	if len(got.Replies) != 1 || got.Replies[0] != "@alice 2d6" {
		t.Fatalf("replies = %q, want [@alice 2d6]", got.Replies)
	}
	if len(got.Private) != 1 || got.Private[0] != "rolled 4" {
		t.Fatalf("private = %q, want [rolled 4]", got.Private)
	}
	if len(got.Reactions) != 1 || got.Reactions[0].Symbol != "🎲" || got.Reactions[0].Message != got.MessageID {
		t.Fatalf("reactions = %+v, want dice on %s", got.Reactions, got.MessageID)
	}
	if len(dispatcher.seen) != 1 || dispatcher.seen[0].Author != "alice" {
		t.Fatalf("dispatched = %+v", dispatcher.seen)
	}
}

func TestRollToolValidatesInput(t *testing.T) {
	session := connect(t, &echoDispatcher{})

	for _, args := range []map[string]any{
		{"user": " ", "text": "2d6"},
		{"user": "alice", "text": ""},
	} {
		res := callRoll(t, session, args)
		if !res.IsError {
			t.Fatalf("args %v: expected tool error", args)
		}
	}
}

func TestRollToolReportsDispatchFailure(t *testing.T) {
	session := connect(t, &echoDispatcher{err: errors.New("store unavailable")})

	res := callRoll(t, session, map[string]any{"user": "alice", "text": "2d6"})
	if !res.IsError {
		t.Fatal("expected tool error")
	}
}
