package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/rollcall/internal/services/roll/command"
	"github.com/louisbranch/rollcall/internal/services/roll/engine"
)

// Dispatcher handles one chat message addressed to the bot. Replies go
// through sink.
type Dispatcher interface {
	Handle(ctx context.Context, msg command.Message, sink engine.Sink) error
}

// bot hands room messages to the dispatcher, one goroutine per message,
// and speaks back into the room it was addressed in.
type bot struct {
	hub        *roomHub
	dispatcher Dispatcher
	name       string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBot(hub *roomHub, dispatcher Dispatcher, name string) *bot {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultBotName
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &bot{
		hub:        hub,
		dispatcher: dispatcher,
		name:       name,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (b *bot) actor() messageActor {
	return messageActor{UserID: b.name, Name: b.name}
}

func (b *bot) dispatch(room *chatRoom, msg chatMessage) {
	if b == nil || b.dispatcher == nil || room == nil {
		return
	}
	if msg.Kind != messageKindText {
		return
	}
	if b.ctx.Err() != nil {
		return
	}

	author := msg.Actor.UserID
	in := command.Message{
		ID:      engine.MessageRef(msg.MessageID),
		Author:  author,
		Mention: "@" + author,
		Text:    msg.Body,
	}
	sink := &roomSink{hub: b.hub, room: room, from: b.actor()}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.dispatcher.Handle(b.ctx, in, sink); err != nil {
			log.Printf("chat: bot failed to handle message=%s room=%s: %v", msg.MessageID, room.roomID, err)
		}
	}()
}

// close cancels in-flight messages and waits up to timeout for them.
func (b *bot) close(timeout time.Duration) {
	if b == nil {
		return
	}
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("chat: bot still handling messages after %s", timeout)
	}
}

// roomSink delivers bot output to one room and whispers to the author's
// open sessions.
type roomSink struct {
	hub  *roomHub
	room *chatRoom
	from messageActor
}

func (s *roomSink) Send(_ context.Context, text string) (engine.MessageRef, error) {
	msg, _, subscribers := s.room.appendMessage(s.from, messageKindBot, text, "")
	broadcast(subscribers, wsFrame{
		Type:    "chat.message",
		Payload: mustJSON(messageEnvelope{Message: msg}),
	})
	return engine.MessageRef(msg.MessageID), nil
}

func (s *roomSink) React(_ context.Context, ref engine.MessageRef, symbol string) error {
	if ref == "" {
		return fmt.Errorf("react %q: message reference is required", symbol)
	}
	broadcast(s.room.subscriberList(), wsFrame{
		Type: "chat.reaction",
		Payload: mustJSON(reactionEnvelope{
			Reaction: chatReaction{
				RoomID:    s.room.roomID,
				MessageID: string(ref),
				Symbol:    symbol,
				Actor:     s.from,
			},
		}),
	})
	return nil
}

func (s *roomSink) Whisper(_ context.Context, author string, text string) error {
	peers := s.hub.peersFor(author)
	if len(peers) == 0 {
		return fmt.Errorf("whisper %s: user is not connected", author)
	}
	broadcast(peers, wsFrame{
		Type: "chat.private",
		Payload: mustJSON(privateEnvelope{
			Private: privateMessage{
				From:   s.from,
				Body:   text,
				SentAt: time.Now().UTC().Format(time.RFC3339),
			},
		}),
	})
	return nil
}
