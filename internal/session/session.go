// Package session tracks MCP sessions across stateless HTTP requests.
package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// idLength is the length of generated session identifiers.
	idLength = 32

	// queueCapacity bounds the per-session outbound message queue used to
	// bridge POSTed requests onto the legacy SSE stream.
	queueCapacity = 64
)

// idAlphabet spans the visible ASCII range 0x21-0x7E, matching what the
// protocol allows in the Mcp-Session-Id header.
var idAlphabet = func() []byte {
	chars := make([]byte, 0, 94)
	for c := byte(0x21); c <= 0x7E; c++ {
		chars = append(chars, c)
	}
	return chars
}()

// ErrQueueFull is returned when a session's outbound queue is at capacity.
var ErrQueueFull = errors.New("session queue full")

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Session is the per-client state kept between requests.
type Session struct {
	ID           string
	UserID       string
	AuthToken    string
	CreatedAt    time.Time
	LastActivity time.Time
	Active       bool

	state map[string]interface{}
	queue chan json.RawMessage
}

// Manager owns all sessions of one transport. A single mutex guards the map;
// sessions are touched on every request so contention stays trivial.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxAge   time.Duration
	now      func() time.Time
}

// NewManager creates a Manager whose sessions expire after maxAge of either
// total age or inactivity.
func NewManager(maxAge time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Create mints a session for the given user, snapshotting the auth token the
// session was established with.
func (m *Manager) Create(userID, authToken string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for attempt := 0; attempt < 5; attempt++ {
		id, err := generateID()
		if err != nil {
			return nil, err
		}
		if _, taken := m.sessions[id]; taken {
			continue
		}
		now := m.now()
		sess := &Session{
			ID:           id,
			UserID:       userID,
			AuthToken:    authToken,
			CreatedAt:    now,
			LastActivity: now,
			Active:       true,
			state:        make(map[string]interface{}),
			queue:        make(chan json.RawMessage, queueCapacity),
		}
		m.sessions[id] = sess
		return sess, nil
	}
	return nil, fmt.Errorf("failed to allocate a unique session id")
}

// Get returns the session regardless of validity, touching its activity.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if ok {
		sess.LastActivity = m.now()
	}
	return sess, ok
}

// Validate reports whether the session exists and is still usable: active,
// younger than maxAge and touched within maxAge. An expired session is
// removed in the same critical section so counts never include it.
func (m *Manager) Validate(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return false
	}
	if !m.valid(sess) {
		sess.Active = false
		delete(m.sessions, id)
		return false
	}
	return true
}

// UpdateActivity marks the session as used now.
func (m *Manager) UpdateActivity(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		sess.LastActivity = m.now()
	}
}

// SetState stores a key in the session's scratch space.
func (m *Manager) SetState(id, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.state[key] = value
	return nil
}

// GetState reads a key from the session's scratch space.
func (m *Manager) GetState(id, key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	value, ok := sess.state[key]
	return value, ok
}

// Remove deactivates and forgets the session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		sess.Active = false
		delete(m.sessions, id)
	}
}

// CleanupExpired drops every session that is no longer valid and returns how
// many were removed.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, sess := range m.sessions {
		if !m.valid(sess) {
			sess.Active = false
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Enqueue appends a message to the session's outbound queue without blocking.
func (m *Manager) Enqueue(id string, message json.RawMessage) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case sess.queue <- message:
		return nil
	default:
		return ErrQueueFull
	}
}

// WaitNext blocks until a queued message arrives, the timeout elapses or the
// context is done. The second return is false when nothing arrived.
func (m *Manager) WaitNext(ctx context.Context, id string, timeout time.Duration) (json.RawMessage, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case message := <-sess.queue:
		return message, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Run cleans up expired sessions on the given interval until the context is
// done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}

func (m *Manager) valid(sess *Session) bool {
	if !sess.Active {
		return false
	}
	now := m.now()
	return now.Sub(sess.CreatedAt) <= m.maxAge && now.Sub(sess.LastActivity) <= m.maxAge
}

// ValidID reports whether id has the shape of a session identifier. It is
// checked before the map lookup so garbage headers are rejected as malformed
// rather than merely unknown.
func ValidID(id string) bool {
	if len(id) != idLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7E {
			return false
		}
	}
	return true
}

func generateID() (string, error) {
	raw := make([]byte, idLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	for i, b := range raw {
		raw[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(raw), nil
}
