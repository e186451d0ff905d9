package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verdictswarm/director/pkg/events"
)

// ────────────────────────────────────────────────────────────
// Event builders
// ────────────────────────────────────────────────────────────

// Event builds a raw event with a millisecond timestamp id.
func Event(t *testing.T, typ string, payload any, ts int64) events.RawEvent {
	t.Helper()
	ev, err := events.NewRawEvent(typ, payload, ts)
	require.NoError(t, err)
	return ev
}

// ScanEvents returns a complete two-agent scan of address, ending with
// scan:complete. Timestamps start at base.
func ScanEvents(t *testing.T, address string, base int64) []events.RawEvent {
	t.Helper()
	ts := base
	next := func() int64 { ts += 100; return ts }

	evs := []events.RawEvent{
		Event(t, events.EventTypeScanStart, events.ScanStartPayload{
			TokenAddress: address,
			Chain:        "base",
			AgentCount:   2,
			Agents: []events.AgentInfo{
				{ID: "security", Name: "SecurityBot", Category: "security"},
				{ID: "technician", Name: "TechnicianBot", Category: "technical"},
			},
		}, next()),
	}
	for _, id := range []string{"security", "technician"} {
		evs = append(evs,
			Event(t, events.EventTypeAgentStart, events.AgentStartPayload{AgentID: id, AgentName: id}, next()),
			Event(t, events.EventTypeAgentFinding, events.AgentFindingPayload{AgentID: id, Severity: "high", Message: id + " finding"}, next()),
			Event(t, events.EventTypeAgentScore, events.AgentScorePayload{AgentID: id, Score: 7.5, Confidence: 0.8}, next()),
			Event(t, events.EventTypeAgentComplete, events.AgentCompletePayload{AgentID: id, AgentName: id}, next()),
		)
	}
	return append(evs, Event(t, events.EventTypeScanComplete, events.ScanCompletePayload{
		Score:      75,
		Grade:      "B",
		AgentCount: 2,
		DurationMs: 3_000,
	}, next()))
}

// ────────────────────────────────────────────────────────────
// HTTP helpers
// ────────────────────────────────────────────────────────────

// CreateSession calls POST /api/v1/sessions and returns the parsed body.
func (app *TestApp) CreateSession(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	return app.postJSON(t, "/api/v1/sessions", body, http.StatusCreated)
}

// GetSession calls GET /api/v1/sessions/:id.
func (app *TestApp) GetSession(t *testing.T, sessionID string) map[string]any {
	t.Helper()
	return app.getJSON(t, fmt.Sprintf("/api/v1/sessions/%s", sessionID), http.StatusOK)
}

// DeleteSession calls DELETE /api/v1/sessions/:id.
func (app *TestApp) DeleteSession(t *testing.T, sessionID string) map[string]any {
	t.Helper()
	return app.doJSON(t, http.MethodDelete, fmt.Sprintf("/api/v1/sessions/%s", sessionID), nil, http.StatusOK)
}

// GetRecording calls GET /api/v1/recordings/:id?events=true.
func (app *TestApp) GetRecording(t *testing.T, recordingID string) map[string]any {
	t.Helper()
	return app.getJSON(t, fmt.Sprintf("/api/v1/recordings/%s?events=true", recordingID), http.StatusOK)
}

// GetHealth calls GET /health.
func (app *TestApp) GetHealth(t *testing.T) map[string]any {
	t.Helper()
	return app.getJSON(t, "/health", http.StatusOK)
}

// ReplayRecording reads GET /api/v1/recordings/:id/events as an SSE stream.
func (app *TestApp) ReplayRecording(t *testing.T, recordingID string) []events.Message {
	t.Helper()
	resp, err := http.Get(app.BaseURL + fmt.Sprintf("/api/v1/recordings/%s/events", recordingID))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dec := events.NewDecoder(resp.Body)
	var msgs []events.Message
	for {
		msg, err := dec.Next()
		if err == io.EOF {
			return msgs
		}
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	return app.doJSON(t, http.MethodPost, path, body, expectedStatus)
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	return app.doJSON(t, http.MethodGet, path, nil, expectedStatus)
}

func (app *TestApp) doJSON(t *testing.T, method, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "%s %s: unexpected status", method, path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// ────────────────────────────────────────────────────────────
// Polling helpers
// ────────────────────────────────────────────────────────────

// WaitForSessionStatus polls the API until the session reaches one of the
// expected statuses.
func (app *TestApp) WaitForSessionStatus(t *testing.T, sessionID string, expected ...string) map[string]any {
	t.Helper()
	var (
		actual string
		last   map[string]any
	)
	require.Eventually(t, func() bool {
		last = app.GetSession(t, sessionID)
		sess, _ := last["session"].(map[string]any)
		actual, _ = sess["status"].(string)
		for _, exp := range expected {
			if actual == exp {
				return true
			}
		}
		return false
	}, 15*time.Second, 20*time.Millisecond,
		"session %s did not reach status %v (last: %s)", sessionID, expected, actual)
	return last
}

// Frame returns the frame section of a session response.
func Frame(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	f, ok := resp["frame"].(map[string]any)
	require.True(t, ok, "response has no frame")
	return f
}

// SessionField returns a field of the session section of a session response.
func SessionField(t *testing.T, resp map[string]any, key string) any {
	t.Helper()
	s, ok := resp["session"].(map[string]any)
	require.True(t, ok, "response has no session")
	return s[key]
}
