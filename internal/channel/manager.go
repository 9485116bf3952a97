package channel

import (
	"strings"
	"sync"
)

// Manager owns one session per user identity. Sessions are created lazily and
// reused: the session, not UI state, is the single holder of channel ids.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Session returns the session for the given identity, creating it when first
// addressed. Identities are case-insensitive hex addresses.
func (m *Manager) Session(identity string) *Session {
	key := strings.ToLower(identity)

	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[key]; ok {
		return session
	}
	session := NewSession(identity, m.cfg)
	m.sessions[key] = session
	return session
}

// CloseAll tears down every tracked session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
