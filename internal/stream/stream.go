// Package stream tracks long-lived SSE connections so they can be capped
// below the platform's request deadline.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAge keeps streams under Cloud Run's 15 minute request limit.
	DefaultMaxAge = 840 * time.Second

	// sweepInterval is how often expired connections are collected.
	sweepInterval = 60 * time.Second
)

// Connection is one live SSE stream. Credentials holds the token the
// stream was opened with; it is never logged.
type Connection struct {
	ID          string
	ClientIP    string
	Credentials string
	CreatedAt   time.Time
	LastPing    time.Time
	Active      bool
}

// Expired reports whether the connection has outlived maxAge.
func (c *Connection) Expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.CreatedAt) > maxAge
}

// Manager registers streams and sweeps out the ones that overstayed.
type Manager struct {
	mu          sync.Mutex
	connections map[string]*Connection
	maxAge      time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewManager creates a Manager with the given stream budget.
func NewManager(maxAge time.Duration, logger *zap.Logger) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Manager{
		connections: make(map[string]*Connection),
		maxAge:      maxAge,
		logger:      logger,
		now:         time.Now,
	}
}

// Connect registers a new stream for the given client address,
// snapshotting the credentials it was opened with.
func (m *Manager) Connect(clientIP, credentials string) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	conn := &Connection{
		ID:          uuid.New().String(),
		ClientIP:    clientIP,
		Credentials: credentials,
		CreatedAt:   now,
		LastPing:    now,
		Active:      true,
	}
	m.connections[conn.ID] = conn
	m.logger.Debug("stream connected",
		zap.String("connection_id", conn.ID),
		zap.String("client_ip", clientIP),
		zap.Int("active", len(m.connections)))
	return conn
}

// Disconnect forgets the stream.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[id]; ok {
		conn.Active = false
		delete(m.connections, id)
		m.logger.Debug("stream disconnected",
			zap.String("connection_id", id),
			zap.Int("active", len(m.connections)))
	}
}

// Ping records a heartbeat on the stream and reports whether it may continue.
func (m *Manager) Ping(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[id]
	if !ok || !conn.Active {
		return false
	}
	now := m.now()
	if conn.Expired(now, m.maxAge) {
		conn.Active = false
		delete(m.connections, id)
		return false
	}
	conn.LastPing = now
	return true
}

// ActiveCount returns the number of live streams.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// MaxAge returns the stream budget.
func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Sweep drops every expired connection and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, conn := range m.connections {
		if conn.Expired(now, m.maxAge) {
			conn.Active = false
			delete(m.connections, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired connections every minute until the context is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				m.logger.Info("swept expired streams", zap.Int("removed", removed))
			}
		}
	}
}
