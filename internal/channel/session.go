package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is the wire envelope shared by both ends of the push channel.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type Handler func(data json.RawMessage)

type Setup struct {
	UserID string `json:"userId"`
}

var ErrDisconnected = errors.New("channel: not connected")

type subscription struct {
	id      uint64
	handler Handler
}

// Session owns the single long-lived push connection for the current
// user. Events are dispatched to subscribers of their topic in
// subscription order; there is no buffering or replay, a handler
// registered after an event was delivered never sees it.
type Session struct {
	url    string
	dialer *websocket.Dialer

	mu          sync.Mutex
	userID      string
	conn        *websocket.Conn
	subs        map[string][]subscription
	onReconnect []func()
	nextID      uint64
	cancel      context.CancelFunc

	// ReconnectWait is the pause between redial attempts.
	ReconnectWait time.Duration
}

func NewSession(url string) *Session {
	return &Session{
		url:           url,
		dialer:        websocket.DefaultDialer,
		subs:          map[string][]subscription{},
		ReconnectWait: 2 * time.Second,
	}
}

// Open establishes the channel and announces the identity so the
// backend can route targeted events. Calling it again with the same
// identity is a no-op; a different identity tears the connection down
// and re-announces.
func (s *Session) Open(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.conn != nil && s.userID == userID {
		s.mu.Unlock()
		return nil
	}
	if s.conn != nil {
		s.teardownLocked()
	}
	s.userID = userID
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(runCtx, conn)
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	if err := announce(conn, s.currentUser()); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func announce(conn *websocket.Conn, userID string) error {
	data, _ := json.Marshal(Setup{UserID: userID})
	return conn.WriteJSON(Event{Name: "setup", Data: data})
}

// Subscribe registers a handler for a topic and returns its release.
// The returned func is safe to defer and call more than once, so a
// consumer torn down abnormally still detaches its handler.
func (s *Session) Subscribe(topic string, h Handler) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs[topic] = append(s.subs[topic], subscription{id: id, handler: h})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[topic]
		for i, sub := range list {
			if sub.id == id {
				s.subs[topic] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(s.subs[topic]) == 0 {
			delete(s.subs, topic)
		}
	}
}

// OnReconnect registers a hook invoked after the identity announcement
// has been replayed on a fresh connection. Events lost while
// disconnected are not replayed, so consumers use this to re-fetch.
func (s *Session) OnReconnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnect = append(s.onReconnect, fn)
}

// Emit sends a client-originated event to the backend.
func (s *Session) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}
	return conn.WriteJSON(Event{Name: event, Data: data})
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close tears down the connection and stops reconnection attempts.
// Subscriptions survive a Close/Open cycle.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *Session) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) currentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("channel: read error: %v", err)
			s.reconnect(ctx, conn)
			return
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("channel: dropping malformed frame: %v", err)
			continue
		}
		if ev.Name == "" {
			log.Printf("channel: dropping event without a name")
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev Event) {
	s.mu.Lock()
	list := make([]subscription, len(s.subs[ev.Name]))
	copy(list, s.subs[ev.Name])
	s.mu.Unlock()

	for _, sub := range list {
		sub.handler(ev.Data)
	}
}

// reconnect redials until the context is cancelled, replays the
// identity announcement, and notifies on-reconnect hooks. Downstream
// state may be stale afterwards; nothing lost in between is replayed.
func (s *Session) reconnect(ctx context.Context, old *websocket.Conn) {
	s.mu.Lock()
	if s.conn != old {
		// a newer connection already took over
		s.mu.Unlock()
		return
	}
	s.conn = nil
	wait := s.ReconnectWait
	s.mu.Unlock()
	old.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		conn, err := s.dial(ctx)
		if err != nil {
			log.Printf("channel: reconnect failed: %v", err)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		hooks := make([]func(), len(s.onReconnect))
		copy(hooks, s.onReconnect)
		s.mu.Unlock()

		go s.readLoop(ctx, conn)
		for _, fn := range hooks {
			fn()
		}
		return
	}
}
