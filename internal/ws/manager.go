// Package ws tracks live websocket connections and their liveness. The
// manager only needs the write half of a connection; reads stay with the
// handler that owns the socket.
package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jterm-dev/jterm/internal/config"
	"github.com/jterm-dev/jterm/internal/logger"
	"github.com/jterm-dev/jterm/internal/models"
	"github.com/jterm-dev/jterm/internal/recovery"
)

// Conn is the write-side subset of a websocket connection the manager uses.
// gofiber's *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// pingMessage is the liveness probe sent to every connection. Clients answer
// with a pong command.
type pingMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type connection struct {
	id        string
	userID    string
	sessionID string
	conn      Conn

	writeMu sync.Mutex // serializes writes from handler and liveness loop

	mu          sync.Mutex
	connectedAt time.Time
	lastPong    time.Time
	sent        int64
	failed      int64
}

// send serializes the write and reports failure without side effects; the
// manager decides whether a failure disconnects.
func (c *connection) send(v interface{}) error {
	c.writeMu.Lock()
	err := c.conn.WriteJSON(v)
	c.writeMu.Unlock()

	c.mu.Lock()
	if err != nil {
		c.failed++
	} else {
		c.sent++
	}
	c.mu.Unlock()
	return err
}

// Manager is the registry of live websocket connections, indexed by user and
// session, with a background liveness loop.
type Manager struct {
	cfg config.WebSocketConfig

	mu        sync.Mutex
	conns     map[string]*connection
	byUser    map[string]map[string]struct{}
	bySession map[string]map[string]struct{}

	totalConnects    int64
	totalDisconnects int64

	stopLiveness chan struct{}
	livenessDone chan struct{}
	closeOnce    sync.Once
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	ActiveConnections int   `json:"activeConnections"`
	Users             int   `json:"users"`
	Sessions          int   `json:"sessions"`
	TotalConnects     int64 `json:"totalConnects"`
	TotalDisconnects  int64 `json:"totalDisconnects"`
	MessagesSent      int64 `json:"messagesSent"`
	SendFailures      int64 `json:"sendFailures"`
}

// NewManager creates a manager and starts its liveness loop.
func NewManager(cfg config.WebSocketConfig) *Manager {
	m := &Manager{
		cfg:          cfg,
		conns:        make(map[string]*connection),
		byUser:       make(map[string]map[string]struct{}),
		bySession:    make(map[string]map[string]struct{}),
		stopLiveness: make(chan struct{}),
		livenessDone: make(chan struct{}),
	}
	recovery.SafeGoWithCleanup("ws-liveness", m.livenessLoop, func() {
		close(m.livenessDone)
	})
	return m
}

// Register adds a connection and returns its generated ID. The connection
// starts with a fresh pong deadline.
func (m *Manager) Register(conn Conn, userID string) string {
	now := time.Now()
	c := &connection{
		id:          uuid.NewString(),
		userID:      userID,
		conn:        conn,
		connectedAt: now,
		lastPong:    now,
	}

	m.mu.Lock()
	m.conns[c.id] = c
	if userID != "" {
		if m.byUser[userID] == nil {
			m.byUser[userID] = make(map[string]struct{})
		}
		m.byUser[userID][c.id] = struct{}{}
	}
	m.totalConnects++
	m.mu.Unlock()

	logger.Infof("ws connection %s registered (user %q)", c.id, userID)
	return c.id
}

// BindSession associates a connection with a terminal session once the
// session exists. A connection follows at most one session at a time.
func (m *Manager) BindSession(connID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[connID]
	if !ok {
		return fmt.Errorf("%w: connection %s", models.ErrNotFound, connID)
	}
	if c.sessionID != "" {
		delete(m.bySession[c.sessionID], connID)
		if len(m.bySession[c.sessionID]) == 0 {
			delete(m.bySession, c.sessionID)
		}
	}
	c.sessionID = sessionID
	if sessionID != "" {
		if m.bySession[sessionID] == nil {
			m.bySession[sessionID] = make(map[string]struct{})
		}
		m.bySession[sessionID][connID] = struct{}{}
	}
	return nil
}

// SessionFor returns the session a connection is bound to, if any.
func (m *Manager) SessionFor(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	if !ok || c.sessionID == "" {
		return "", false
	}
	return c.sessionID, true
}

// Disconnect closes and removes a connection. Unknown IDs are a no-op so the
// teardown path and the liveness loop can race without harm.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if ok {
		delete(m.conns, connID)
		if c.userID != "" {
			delete(m.byUser[c.userID], connID)
			if len(m.byUser[c.userID]) == 0 {
				delete(m.byUser, c.userID)
			}
		}
		if c.sessionID != "" {
			delete(m.bySession[c.sessionID], connID)
			if len(m.bySession[c.sessionID]) == 0 {
				delete(m.bySession, c.sessionID)
			}
		}
		m.totalDisconnects++
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := c.conn.Close(); err != nil {
		logger.Debugf("ws connection %s close: %v", connID, err)
	}
	logger.Infof("ws connection %s disconnected", connID)
}

// Send writes a message to one connection. A failed write disconnects it.
func (m *Manager) Send(connID string, v interface{}) error {
	m.mu.Lock()
	c, ok := m.conns[connID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: connection %s", models.ErrNotFound, connID)
	}

	if err := c.send(v); err != nil {
		logger.Warnf("ws send to %s failed, disconnecting: %v", connID, err)
		m.Disconnect(connID)
		return err
	}
	return nil
}

// SendToSession writes a message to every connection bound to the session and
// returns how many received it. Failed connections are disconnected.
func (m *Manager) SendToSession(sessionID string, v interface{}) int {
	return m.sendToSet(m.connsForSession(sessionID), v)
}

// SendToUser writes a message to every connection of a user.
func (m *Manager) SendToUser(userID string, v interface{}) int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	return m.sendToSet(ids, v)
}

// Broadcast writes a message to every live connection.
func (m *Manager) Broadcast(v interface{}) int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	return m.sendToSet(ids, v)
}

func (m *Manager) connsForSession(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.bySession[sessionID]))
	for id := range m.bySession[sessionID] {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) sendToSet(ids []string, v interface{}) int {
	delivered := 0
	for _, id := range ids {
		if err := m.Send(id, v); err == nil {
			delivered++
		}
	}
	return delivered
}

// Pong refreshes a connection's liveness deadline.
func (m *Manager) Pong(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	m.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// GetStats returns a snapshot of manager counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sent, failed int64
	for _, c := range m.conns {
		c.mu.Lock()
		sent += c.sent
		failed += c.failed
		c.mu.Unlock()
	}
	return Stats{
		ActiveConnections: len(m.conns),
		Users:             len(m.byUser),
		Sessions:          len(m.bySession),
		TotalConnects:     m.totalConnects,
		TotalDisconnects:  m.totalDisconnects,
		MessagesSent:      sent,
		SendFailures:      failed,
	}
}

func (m *Manager) livenessLoop() {
	interval := m.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopLiveness:
			return
		case <-ticker.C:
			m.checkLiveness()
		}
	}
}

// checkLiveness disconnects connections whose last pong is older than the
// timeout and pings the rest.
func (m *Manager) checkLiveness() {
	timeout := m.cfg.PongTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	now := time.Now()

	m.mu.Lock()
	var stale, healthy []string
	for id, c := range m.conns {
		c.mu.Lock()
		last := c.lastPong
		c.mu.Unlock()
		if now.Sub(last) > timeout {
			stale = append(stale, id)
		} else {
			healthy = append(healthy, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		logger.Warnf("ws connection %s missed pong deadline, disconnecting", id)
		m.Disconnect(id)
	}
	ping := pingMessage{Type: "ping", Timestamp: now}
	for _, id := range healthy {
		_ = m.Send(id, ping)
	}
}

// Shutdown stops the liveness loop and disconnects everything.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		close(m.stopLiveness)
		<-m.livenessDone
	})

	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}
