package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"linkup-realtime/internal/channel"
	"linkup-realtime/internal/ledger"
)

// matchWindow bounds how far apart an optimistic send and its
// confirmed echo may be and still reconcile. The backend never learns
// the provisional id, so matching is by sender, receiver, content and
// this window.
const matchWindow = 10 * time.Second

// ErrNoActiveConversation is returned by Send when no thread is open.
var ErrNoActiveConversation = errors.New("chat: no active conversation")

// API is the slice of the REST boundary the store needs.
type API interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// Channel is the slice of the event channel session the store needs.
type Channel interface {
	Subscribe(topic string, h channel.Handler) (cancel func())
	OnReconnect(fn func())
	Emit(event string, payload any) error
}

// Store maintains per-peer message threads. At most one conversation
// is active (visible) at a time; messages for background threads are
// surfaced as unread indicators instead of mutating rendered state.
type Store struct {
	selfID  string
	api     API
	session Channel
	ledger  *ledger.Ledger
	now     func() time.Time

	mu         sync.Mutex
	convs      map[string]*Conversation
	activePeer string
	subs       []func()
	closed     bool
}

func NewStore(selfID string, api API, session Channel, led *ledger.Ledger) *Store {
	return &Store{
		selfID:  selfID,
		api:     api,
		session: session,
		ledger:  led,
		now:     time.Now,
		convs:   map[string]*Conversation{},
	}
}

// Attach subscribes to incoming messages for the lifetime of the chat
// UI. Close releases the subscription.
func (s *Store) Attach() {
	s.mu.Lock()
	s.subs = append(s.subs, s.session.Subscribe("receive_message", s.handleReceive))
	s.mu.Unlock()

	s.session.OnReconnect(func() {
		s.mu.Lock()
		peer := s.activePeer
		s.mu.Unlock()
		if peer == "" {
			return
		}
		if err := s.Select(context.Background(), peer); err != nil {
			log.Printf("chat: history refresh after reconnect failed: %v", err)
		}
	})
}

func (s *Store) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.activePeer = ""
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
}

// Select marks the peer's conversation active, deactivating all
// others, and reloads its history wholesale from REST. A full reload,
// not a merge: stale optimistic entries from a previous visit must not
// resurrect. A response landing after the user moved on is dropped.
func (s *Store) Select(ctx context.Context, peerID string) error {
	s.mu.Lock()
	s.activePeer = peerID
	conv := s.conversationLocked(peerID)
	conv.Unread = 0
	s.mu.Unlock()

	var history []Message
	if err := s.api.GetJSON(ctx, "/api/messages/"+peerID, &history); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.activePeer != peerID {
		// the user selected another thread while the fetch was in flight
		return nil
	}
	for i := range history {
		history[i].State = StateConfirmed
	}
	conv = s.conversationLocked(peerID)
	conv.Messages = history
	conv.Unread = 0
	return nil
}

// Deselect closes the visible thread without selecting another.
func (s *Store) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePeer = ""
}

// ActivePeer reports the peer of the currently visible thread.
func (s *Store) ActivePeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePeer
}

// Send appends a pending message to the active conversation and
// dispatches it to the backend for persistence and fan-out.
func (s *Store) Send(content Content) (Message, error) {
	s.mu.Lock()
	peer := s.activePeer
	s.mu.Unlock()
	if peer == "" {
		return Message{}, ErrNoActiveConversation
	}
	return s.SendTo(peer, content)
}

// SendTo targets an explicit peer, which may be a background thread.
func (s *Store) SendTo(peerID string, content Content) (Message, error) {
	msg := Message{
		ID:         ledger.NewProvisionalID(),
		SenderID:   s.selfID,
		ReceiverID: peerID,
		Content:    content,
		CreatedAt:  s.now(),
		State:      StatePending,
	}

	var payload any
	event := "send_message"
	if content.Kind == ContentImage {
		event = "send_photo_message"
		payload = PhotoPayload{SenderID: s.selfID, ReceiverID: peerID, FileData: content.Value, FileType: "image"}
	} else {
		payload = SendPayload{SenderID: s.selfID, ReceiverID: peerID, Content: content}
	}
	if err := s.session.Emit(event, payload); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	s.ledger.Begin(ledger.KindMessage, msg.ID, msg)
	conv := s.conversationLocked(peerID)
	conv.Messages = append(conv.Messages, msg)
	s.mu.Unlock()
	return msg, nil
}

// Receive routes an incoming message. If it belongs to the visible
// thread it is appended (or reconciled in place when it is the echo of
// our own pending send); otherwise the owning background conversation
// absorbs it and, for peer-authored messages, bumps its unread count.
func (s *Store) Receive(msg Message) {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		log.Printf("chat: dropping message without sender or receiver")
		return
	}
	msg.State = StateConfirmed

	peer := msg.SenderID
	if msg.SenderID == s.selfID {
		peer = msg.ReceiverID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	conv := s.conversationLocked(peer)

	if msg.SenderID == s.selfID {
		if s.reconcileEchoLocked(conv, msg) {
			return
		}
		// unmatched confirmations are fresh inserts, never dropped
		conv.Messages = append(conv.Messages, msg)
		return
	}

	conv.Messages = append(conv.Messages, msg)
	if peer != s.activePeer {
		conv.Unread++
	}
}

// Conversation returns a copy of the peer's thread.
func (s *Store) Conversation(peerID string) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversationLocked(peerID)
	out := *conv
	out.Messages = append([]Message(nil), conv.Messages...)
	return out
}

// Unread reports the unread count for a peer's background thread.
func (s *Store) Unread(peerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationLocked(peerID).Unread
}

func (s *Store) conversationLocked(peerID string) *Conversation {
	conv, ok := s.convs[peerID]
	if !ok {
		conv = &Conversation{PeerID: peerID}
		s.convs[peerID] = conv
	}
	return conv
}

// reconcileEchoLocked replaces the oldest matching pending message in
// place with its confirmed echo. Matching is by receiver, content and
// send-time window; the provisional id never reaches the server, so
// identical texts reconcile first-in-first-out.
func (s *Store) reconcileEchoLocked(conv *Conversation, confirmed Message) bool {
	for i, m := range conv.Messages {
		if m.State != StatePending {
			continue
		}
		if m.ReceiverID != confirmed.ReceiverID || m.Content != confirmed.Content {
			continue
		}
		delta := confirmed.CreatedAt.Sub(m.CreatedAt)
		if delta < -matchWindow || delta > matchWindow {
			continue
		}
		confirmed.State = StateConfirmed
		conv.Messages[i] = confirmed
		s.ledger.ReconcileIncoming(ledger.KindMessage, m.ID)
		return true
	}
	return false
}

func (s *Store) handleReceive(data json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("chat: dropping malformed receive_message payload: %v", err)
		return
	}
	s.Receive(msg)
}
