package websocket

import (
	"sync"

	ws "github.com/fasthttp/websocket"
	"github.com/maximhq/bifrost-live/core/live"
)

// Session binds a client WebSocket connection to its live bridge and the
// queue of events waiting to be written back to the client.
type Session struct {
	mu sync.RWMutex

	id         string
	clientConn *ws.Conn
	bridge     *live.Bridge
	events     *live.ChannelSink

	closed bool
}

// NewSession creates a session. clientConn may be nil for sessions driven
// outside a WebSocket.
func NewSession(id string, clientConn *ws.Conn, bridge *live.Bridge, events *live.ChannelSink) *Session {
	return &Session{
		id:         id,
		clientConn: clientConn,
		bridge:     bridge,
		events:     events,
	}
}

func (s *Session) ID() string {
	return s.id
}

// ClientConn returns the client's WebSocket connection.
func (s *Session) ClientConn() *ws.Conn {
	return s.clientConn
}

func (s *Session) Bridge() *live.Bridge {
	return s.bridge
}

// Events returns the session's outbound event queue.
func (s *Session) Events() *live.ChannelSink {
	return s.events
}

// IsClosed reports whether Close has run.
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close shuts the bridge down and then closes the event queue, which ends the
// client writer.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.bridge != nil {
		s.bridge.Close()
	}
	if s.events != nil {
		s.events.Close()
	}
}

// SessionManager tracks active sessions for connection limiting and cleanup.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	closed      bool
}

// NewSessionManager creates a new session manager. maxSessions <= 0 means unlimited.
func NewSessionManager(maxSessions int) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Add registers a session under its id.
// Returns an error if the session limit would be exceeded or the id is taken.
func (m *SessionManager) Add(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if _, exists := m.sessions[session.ID()]; exists {
		return ErrSessionExists
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return ErrSessionLimitReached
	}

	m.sessions[session.ID()] = session
	return nil
}

// Get returns the session with the given id, or nil.
func (m *SessionManager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove removes and closes a session.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if session != nil {
		session.Close()
	}
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes all active sessions and rejects new ones.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.closed = true
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
