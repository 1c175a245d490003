package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/rollcall/internal/platform/timeouts"
)

const (
	tokenCookieName = "rc_token"

	devUserParam   = "user"
	defaultDevUser = "guest"
	defaultBotName = "rollcall"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageBodyRunes     = 2000
	maxClientMessageIDRunes = 128

	maxRoomMessages      = 1000
	maxIdempotencyRecord = 4000
)

// Config defines the inputs for the chat transport boundary.
//
// Without a JWT secret the server runs in development mode and takes the
// user from the "user" query parameter.
type Config struct {
	HTTPAddr          string
	JWTSecret         string
	BotName           string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the chat HTTP/WebSocket process and its bot.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	bot             *bot
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

type joinPayload struct {
	RoomID         string `json:"room_id"`
	LastSequenceID int64  `json:"last_sequence_id,omitempty"`
}

type joinedPayload struct {
	RoomID           string `json:"room_id"`
	UserID           string `json:"user_id"`
	LatestSequenceID int64  `json:"latest_sequence_id"`
	ServerTime       string `json:"server_time"`
}

type sendPayload struct {
	ClientMessageID string `json:"client_message_id"`
	Body            string `json:"body"`
}

type historyBeforePayload struct {
	BeforeSequenceID int64 `json:"before_sequence_id"`
	Limit            int   `json:"limit"`
}

type messageEnvelope struct {
	Message chatMessage `json:"message"`
}

type chatMessage struct {
	MessageID       string       `json:"message_id"`
	RoomID          string       `json:"room_id"`
	SequenceID      int64        `json:"sequence_id"`
	SentAt          string       `json:"sent_at"`
	Kind            string       `json:"kind"`
	Actor           messageActor `json:"actor"`
	Body            string       `json:"body"`
	ClientMessageID string       `json:"client_message_id,omitempty"`
}

type messageActor struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type reactionEnvelope struct {
	Reaction chatReaction `json:"reaction"`
}

type chatReaction struct {
	RoomID    string       `json:"room_id"`
	MessageID string       `json:"message_id"`
	Symbol    string       `json:"symbol"`
	Actor     messageActor `json:"actor"`
}

type privateEnvelope struct {
	Private privateMessage `json:"private"`
}

type privateMessage struct {
	From   messageActor `json:"from"`
	Body   string       `json:"body"`
	SentAt string       `json:"sent_at"`
}

type ackEnvelope struct {
	Result ackResult `json:"result"`
}

type ackResult struct {
	Status     string `json:"status"`
	MessageID  string `json:"message_id,omitempty"`
	SequenceID int64  `json:"sequence_id,omitempty"`
	Count      int    `json:"count,omitempty"`
}

const (
	messageKindText   = "text"
	messageKindBot    = "bot"
	messageKindSystem = "system"
)

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("chat: failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

// NewServer builds a configured chat server that hands every message to
// dispatcher.
func NewServer(config Config, dispatcher Dispatcher) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	hub := newRoomHub()
	b := newBot(hub, dispatcher, config.BotName)
	authorizer := newJWTAuthorizer(config.JWTSecret)
	if authorizer == nil {
		log.Printf("chat: no JWT secret configured, users are taken from the %q query parameter", devUserParam)
	}
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(hub, authorizer, authorizer != nil, b),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		bot:             b,
	}, nil
}

// Run creates and serves a chat server until the context ends.
func Run(ctx context.Context, config Config, dispatcher Dispatcher) error {
	server, err := NewServer(config, dispatcher)
	if err != nil {
		return fmt.Errorf("init chat server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve chat: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("chat server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("chat server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close stops the bot and waits for messages it is still handling.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.bot.close(s.shutdownTimeout)
}
