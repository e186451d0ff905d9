package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/verdictswarm/director/pkg/timeline"
)

// WSEvent represents a received WebSocket message.
type WSEvent struct {
	Type     string         `json:"type"`
	Raw      json.RawMessage // Original JSON
	Parsed   map[string]any  // Parsed for assertions
	Received time.Time
}

// Frame decodes the frame carried by a "frame" message.
func (e WSEvent) Frame() (timeline.Frame, error) {
	var msg struct {
		Frame timeline.Frame `json:"frame"`
	}
	if err := json.Unmarshal(e.Raw, &msg); err != nil {
		return timeline.Frame{}, err
	}
	return msg.Frame, nil
}

// WSClient watches one session over its WebSocket and collects messages.
type WSClient struct {
	conn   *websocket.Conn
	events []WSEvent
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// WSConnect opens the WebSocket of a session and starts collecting
// messages in a background goroutine.
func (app *TestApp) WSConnect(ctx context.Context, sessionID string) (*WSClient, error) {
	url := fmt.Sprintf("%s/api/v1/sessions/%s/ws", app.WSURL, sessionID)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{})
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}
	conn.SetReadLimit(4 << 20)

	clientCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send writes a client action such as "ping" or "skip".
func (c *WSClient) Send(action string) error {
	data, _ := json.Marshal(map[string]string{"action": action})
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// WaitForEvent waits until a message matching the predicate is received.
func (c *WSClient) WaitForEvent(predicate func(WSEvent) bool, timeout time.Duration) (*WSEvent, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event (collected %d events)", len(c.Events()))
		case <-tick.C:
			c.mu.Lock()
			for i := range c.events {
				if predicate(c.events[i]) {
					evt := c.events[i]
					c.mu.Unlock()
					return &evt, nil
				}
			}
			c.mu.Unlock()
		}
	}
}

// WaitForEventType waits for a message with the given type.
func (c *WSClient) WaitForEventType(eventType string, timeout time.Duration) (*WSEvent, error) {
	return c.WaitForEvent(func(e WSEvent) bool {
		return e.Type == eventType
	}, timeout)
}

// WaitForSessionEnded waits for the session.ended message and returns the
// reported status.
func (c *WSClient) WaitForSessionEnded(timeout time.Duration) (string, error) {
	evt, err := c.WaitForEventType("session.ended", timeout)
	if err != nil {
		return "", err
	}
	status, _ := evt.Parsed["status"].(string)
	return status, nil
}

// WaitForClosed waits until the server has closed the connection.
func (c *WSClient) WaitForClosed(timeout time.Duration) error {
	select {
	case <-c.doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("connection still open after %s", timeout)
	}
}

// Frames returns every frame received so far, in order.
func (c *WSClient) Frames() ([]timeline.Frame, error) {
	var out []timeline.Frame
	for _, e := range c.EventsByType("frame") {
		f, err := e.Frame()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Events returns a snapshot of all collected messages.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]WSEvent, len(c.events))
	copy(result, c.events)
	return result
}

// EventsByType returns messages filtered by type.
func (c *WSClient) EventsByType(eventType string) []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []WSEvent
	for _, e := range c.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Close closes the connection and waits for the read loop to exit.
func (c *WSClient) Close() error {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.doneCh
	return nil
}

func (c *WSClient) readLoop() {
	defer close(c.doneCh)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue
		}

		evt := WSEvent{
			Raw:      json.RawMessage(data),
			Parsed:   parsed,
			Received: time.Now(),
		}
		if t, ok := parsed["type"].(string); ok {
			evt.Type = t
		}

		c.mu.Lock()
		c.events = append(c.events, evt)
		c.mu.Unlock()
	}
}
