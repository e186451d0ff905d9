package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/verdictswarm/director/pkg/session"
	"github.com/verdictswarm/director/pkg/timeline"
)

// Server → client message types.
const (
	msgConnectionEstablished = "connection.established"
	msgFrame                 = "frame"
	msgSessionEnded          = "session.ended"
	msgPong                  = "pong"
	msgError                 = "error"
)

// ClientMessage is a message sent by a WebSocket client.
type ClientMessage struct {
	Action string `json:"action"` // ping | skip
}

// FrameMessage carries one timeline frame.
type FrameMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Seq       int64          `json:"seq"`
	Frame     timeline.Frame `json:"frame"`
}

// ConnectionManager tracks WebSocket clients watching sessions. Each
// connection watches exactly one session.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection is a single WebSocket client.
type Connection struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc

	// latest holds at most one pending frame. A slow client skips
	// intermediate frames and always receives the newest one.
	latest chan timeline.Frame
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection pushes the frames of sess to conn until the client
// disconnects or the session ends. Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, sess *session.Session) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		Conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
		latest:    make(chan timeline.Frame, 1),
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          msgConnectionEstablished,
		"connection_id": c.ID,
		"session_id":    sess.ID,
	})

	// The callback runs on the director's flush path and only swaps the
	// pending frame.
	unsubscribe := sess.Subscribe(func(f timeline.Frame) {
		select {
		case <-c.latest:
		default:
		}
		c.latest <- f
	})
	defer unsubscribe()

	go m.writeLoop(c, sess)

	// Read loop: process client messages until the connection closes
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", c.ID, "error", err)
			continue
		}
		m.handleClientMessage(c, sess, &msg)
	}
}

// writeLoop sends pending frames. When the session ends it sends the final
// frame and closes the connection.
func (m *ConnectionManager) writeLoop(c *Connection, sess *session.Session) {
	var seq int64
	send := func(f timeline.Frame) bool {
		seq++
		err := m.sendValue(c, &FrameMessage{Type: msgFrame, SessionID: c.SessionID, Seq: seq, Frame: f})
		if err != nil {
			slog.Debug("Failed to send frame", "connection_id", c.ID, "error", err)
			c.cancel()
			return false
		}
		return true
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.latest:
			if !send(f) {
				return
			}
		case <-sess.Done():
			select {
			case <-c.latest:
			default:
			}
			if !send(sess.Frame()) {
				return
			}
			m.sendJSON(c, map[string]string{
				"type":       msgSessionEnded,
				"session_id": c.SessionID,
				"status":     string(sess.Status()),
			})
			_ = c.Conn.Close(websocket.StatusNormalClosure, "session ended")
			c.cancel()
			return
		}
	}
}

func (m *ConnectionManager) handleClientMessage(c *Connection, sess *session.Session, msg *ClientMessage) {
	switch msg.Action {
	case "ping":
		m.sendJSON(c, map[string]string{"type": msgPong})
	case "skip":
		sess.Director().SkipToEnd()
	default:
		m.sendJSON(c, map[string]string{"type": msgError, "message": "unknown action " + msg.Action})
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll closes every connection with StatusGoingAway.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		_ = c.Conn.Close(websocket.StatusGoingAway, "server shutting down")
		c.cancel()
	}
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	if err := m.sendValue(c, v); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendValue(c *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.sendRaw(c, data)
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
