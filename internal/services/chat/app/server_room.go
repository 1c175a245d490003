package server

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/rollcall/internal/platform/id"
)

type wsSession struct {
	mu     sync.Mutex
	userID string
	room   *chatRoom
	peer   *wsPeer
}

func newWSSession(userID string, peer *wsPeer) *wsSession {
	return &wsSession{
		userID: userID,
		peer:   peer,
	}
}

func (s *wsSession) setRoom(next *chatRoom) *chatRoom {
	s.mu.Lock()
	previous := s.room
	s.room = next
	s.mu.Unlock()
	return previous
}

func (s *wsSession) currentRoom() *chatRoom {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	return room
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// roomHub owns the rooms and knows which peers belong to each user, so
// private messages reach every open session of their recipient.
type roomHub struct {
	mu    sync.Mutex
	rooms map[string]*chatRoom
	users map[string]map[*wsPeer]struct{}
}

func newRoomHub() *roomHub {
	return &roomHub{
		rooms: make(map[string]*chatRoom),
		users: make(map[string]map[*wsPeer]struct{}),
	}
}

func (h *roomHub) room(roomID string) *chatRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[roomID]
	if ok {
		return room
	}

	room = newChatRoom(roomID)
	h.rooms[roomID] = room
	return room
}

func (h *roomHub) register(userID string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.users[userID]
	if !ok {
		peers = make(map[*wsPeer]struct{})
		h.users[userID] = peers
	}
	peers[peer] = struct{}{}
}

func (h *roomHub) unregister(userID string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.users[userID]
	delete(peers, peer)
	if len(peers) == 0 {
		delete(h.users, userID)
	}
}

func (h *roomHub) peersFor(userID string) []*wsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := make([]*wsPeer, 0, len(h.users[userID]))
	for peer := range h.users[userID] {
		peers = append(peers, peer)
	}
	return peers
}

type chatRoom struct {
	mu               sync.Mutex
	roomID           string
	nextSequence     int64
	messages         []chatMessage
	idempotencyBy    map[string]chatMessage
	idempotencyOrder []string
	subscribers      map[*wsPeer]struct{}
}

func newChatRoom(roomID string) *chatRoom {
	return &chatRoom{
		roomID:        roomID,
		idempotencyBy: make(map[string]chatMessage),
		subscribers:   make(map[*wsPeer]struct{}),
	}
}

func (r *chatRoom) join(peer *wsPeer) int64 {
	r.mu.Lock()
	r.subscribers[peer] = struct{}{}
	latest := r.nextSequence
	r.mu.Unlock()
	return latest
}

func (r *chatRoom) leave(peer *wsPeer) {
	r.mu.Lock()
	delete(r.subscribers, peer)
	r.mu.Unlock()
}

// appendMessage stores a message and returns the subscribers to notify. A
// repeated client message id returns the stored message and no subscribers.
// Bot messages carry no client message id and are never deduplicated.
func (r *chatRoom) appendMessage(actor messageActor, kind string, body string, clientMessageID string) (chatMessage, bool, []*wsPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if clientMessageID != "" {
		if existing, ok := r.idempotencyBy[clientMessageID]; ok {
			return existing, true, nil
		}
	}

	r.nextSequence++
	actor.UserID = strings.TrimSpace(actor.UserID)
	if actor.UserID == "" {
		actor.UserID = defaultDevUser
	}
	if actor.Name == "" {
		actor.Name = actor.UserID
	}
	msg := chatMessage{
		MessageID:       id.NewPrefixed("msg"),
		RoomID:          r.roomID,
		SequenceID:      r.nextSequence,
		SentAt:          time.Now().UTC().Format(time.RFC3339),
		Kind:            kind,
		Actor:           actor,
		Body:            body,
		ClientMessageID: clientMessageID,
	}

	r.messages = append(r.messages, msg)
	if len(r.messages) > maxRoomMessages {
		r.messages = r.messages[len(r.messages)-maxRoomMessages:]
	}

	if clientMessageID != "" {
		r.idempotencyBy[clientMessageID] = msg
		r.idempotencyOrder = append(r.idempotencyOrder, clientMessageID)
		if len(r.idempotencyOrder) > maxIdempotencyRecord {
			evict := r.idempotencyOrder[0]
			r.idempotencyOrder = r.idempotencyOrder[1:]
			delete(r.idempotencyBy, evict)
		}
	}
	return msg, false, r.subscribersLocked()
}

func (r *chatRoom) subscriberList() []*wsPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribersLocked()
}

func (r *chatRoom) subscribersLocked() []*wsPeer {
	subscribers := make([]*wsPeer, 0, len(r.subscribers))
	for subscriber := range r.subscribers {
		subscribers = append(subscribers, subscriber)
	}
	return subscribers
}

func (r *chatRoom) historyBefore(beforeSequenceID int64, limit int) []chatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := make([]chatMessage, 0, limit)
	for _, msg := range r.messages {
		if msg.SequenceID < beforeSequenceID {
			history = append(history, msg)
		}
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func broadcast(peers []*wsPeer, frame wsFrame) {
	for _, peer := range peers {
		_ = peer.writeFrame(frame)
	}
}
