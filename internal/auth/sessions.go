package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a login cookie stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Session ties a cookie token to a user id.
type Session struct {
	Token     string
	UserID    int64
	Username  string
	ExpiresAt time.Time
}

// SessionManager issues and resolves login sessions. All state is in
// memory behind a mutex; expired entries are swept lazily on lookup.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewSessionManager creates a session manager. A zero ttl uses
// DefaultSessionTTL.
func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Create issues a new session for the user and returns the token.
func (m *SessionManager) Create(user *User) string {
	token := uuid.New().String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = &Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		ExpiresAt: time.Now().Add(m.ttl),
	}
	return token
}

// Lookup resolves a token to its session, or nil when missing or
// expired. Expired entries are removed on the way out.
func (m *SessionManager) Lookup(token string) *Session {
	if token == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[token]
	if !ok {
		return nil
	}
	if time.Now().After(sess.ExpiresAt) {
		delete(m.sessions, token)
		return nil
	}
	return sess
}

// Revoke removes a session, logging the user out.
func (m *SessionManager) Revoke(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// Sweep drops every expired session and returns how many were removed.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for token, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed
}
