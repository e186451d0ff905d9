package e2e

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictswarm/director/pkg/timeline"
)

const (
	testAddress = "0x4200000000000000000000000000000000000006"
	waitTimeout = 15 * time.Second
)

func watch(t *testing.T, app *TestApp, sessionID string) *WSClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	ws, err := app.WSConnect(ctx, sessionID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func lastFrame(t *testing.T, ws *WSClient) timeline.Frame {
	t.Helper()
	frames, err := ws.Frames()
	require.NoError(t, err)
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

func sessionID(t *testing.T, created map[string]any) string {
	t.Helper()
	id, ok := created["session_id"].(string)
	require.True(t, ok, "create response has no session_id")
	return id
}

func TestE2E_LiveScan(t *testing.T) {
	app := NewTestApp(t)
	app.Backend.AddStream(StreamConnection{Events: ScanEvents(t, testAddress, 1_700_000_000_000)})

	created := app.CreateSession(t, map[string]any{"address": testAddress})
	assert.Equal(t, "live", created["mode"])
	id := sessionID(t, created)

	ws := watch(t, app, id)
	_, err := ws.WaitForEventType("connection.established", waitTimeout)
	require.NoError(t, err)

	status, err := ws.WaitForSessionEnded(waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
	require.NoError(t, ws.WaitForClosed(waitTimeout))

	final := lastFrame(t, ws)
	assert.Equal(t, timeline.PhaseComplete, final.Phase)
	assert.True(t, final.IsComplete)
	assert.False(t, final.IsCached)
	require.NotNil(t, final.Result)
	assert.InDelta(t, 75, final.Result.Score, 0.001)
	assert.Equal(t, "B", final.Result.Grade)
	assert.Equal(t, []string{"security", "technician"}, final.AgentOrder)
	assert.InDelta(t, 1.0, final.Progress, 0.001)

	resp := app.WaitForSessionStatus(t, id, "completed")
	assert.Equal(t, "base", SessionField(t, resp, "chain"))
	conn, _ := SessionField(t, resp, "connection").(map[string]any)
	require.NotNil(t, conn)
	assert.Equal(t, "stream", conn["mode"])

	assert.Equal(t, 1, app.Backend.StreamHits())
	for _, key := range app.Backend.APIKeys() {
		assert.Equal(t, TestAPIKey, key)
	}
}

func TestE2E_ReconnectResumesFromLastEventID(t *testing.T) {
	app := NewTestApp(t)
	evs := ScanEvents(t, testAddress, 1_700_000_000_000)
	app.Backend.AddStream(StreamConnection{Events: evs[:5]})
	app.Backend.AddStream(StreamConnection{Events: evs[5:]})

	id := sessionID(t, app.CreateSession(t, map[string]any{"address": testAddress}))
	resp := app.WaitForSessionStatus(t, id, "completed")

	ids := app.Backend.LastEventIDs()
	require.Len(t, ids, 2)
	assert.Empty(t, ids[0])
	assert.Equal(t, strconv.FormatInt(evs[4].Timestamp, 10), ids[1])

	frame := Frame(t, resp)
	agents, _ := frame["agents"].(map[string]any)
	assert.Len(t, agents, 2)
	conn, _ := SessionField(t, resp, "connection").(map[string]any)
	require.NotNil(t, conn)
	assert.EqualValues(t, len(evs), conn["events"])
}

func TestE2E_FallsBackToPolling(t *testing.T) {
	app := NewTestApp(t)
	app.Backend.SetQuickScan(http.StatusOK, QuickScanResult(testAddress, "base", 72))

	id := sessionID(t, app.CreateSession(t, map[string]any{"address": testAddress, "tier": "pro"}))
	resp := app.WaitForSessionStatus(t, id, "completed")

	assert.Equal(t, 2, app.Backend.StreamHits())
	assert.GreaterOrEqual(t, app.Backend.PollHits(), 1)

	conn, _ := SessionField(t, resp, "connection").(map[string]any)
	require.NotNil(t, conn)
	assert.Equal(t, "polling", conn["mode"])

	frame := Frame(t, resp)
	assert.Equal(t, true, frame["isComplete"])
	result, _ := frame["result"].(map[string]any)
	require.NotNil(t, result)
	assert.InDelta(t, 72, result["score"], 0.001)
	agents, _ := frame["agents"].(map[string]any)
	assert.Len(t, agents, 2)
}

func TestE2E_AllTiersFail(t *testing.T) {
	app := NewTestApp(t)

	id := sessionID(t, app.CreateSession(t, map[string]any{"address": testAddress}))
	ws := watch(t, app, id)

	status, err := ws.WaitForSessionEnded(waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, "failed", status)

	final := lastFrame(t, ws)
	assert.Equal(t, timeline.PhaseError, final.Phase)
	require.NotNil(t, final.Error)
	assert.Equal(t, "API_ERROR", final.Error.Code)
	assert.True(t, final.Error.Retryable)

	resp := app.GetSession(t, id)
	assert.Equal(t, "failed", SessionField(t, resp, "status"))
	assert.NotEmpty(t, SessionField(t, resp, "error"))
}

func TestE2E_SkipOverWebSocket(t *testing.T) {
	cfg := DefaultTestConfig()
	cfg.Playback.SpeedMultiplier = 1
	app := NewTestApp(t, WithConfig(cfg))
	app.Backend.AddStream(StreamConnection{Events: ScanEvents(t, testAddress, 1_700_000_000_000)})

	id := sessionID(t, app.CreateSession(t, map[string]any{"address": testAddress}))
	ws := watch(t, app, id)
	_, err := ws.WaitForEventType("connection.established", waitTimeout)
	require.NoError(t, err)

	// At real pacing the reveal takes seconds; skip jumps straight to it.
	require.Eventually(t, func() bool {
		_ = ws.Send("skip")
		f := Frame(t, app.GetSession(t, id))
		return f["isComplete"] == true
	}, waitTimeout, 50*time.Millisecond)

	status, err := ws.WaitForSessionEnded(waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
}

func TestE2E_PingPong(t *testing.T) {
	cfg := DefaultTestConfig()
	cfg.Upstream.PollTimeout = 5 * time.Second
	app := NewTestApp(t, WithConfig(cfg))
	app.Backend.AddStream(StreamConnection{Events: ScanEvents(t, testAddress, 1_700_000_000_000)[:1]})

	id := sessionID(t, app.CreateSession(t, map[string]any{"address": testAddress}))
	ws := watch(t, app, id)
	require.NoError(t, ws.Send("ping"))
	_, err := ws.WaitForEventType("pong", waitTimeout)
	require.NoError(t, err)

	require.NoError(t, ws.Send("dance"))
	evt, err := ws.WaitForEventType("error", waitTimeout)
	require.NoError(t, err)
	assert.Contains(t, evt.Parsed["message"], "dance")
}

func TestE2E_SessionAPI(t *testing.T) {
	app := NewTestApp(t)

	t.Run("rejects a missing address", func(t *testing.T) {
		app.postJSON(t, "/api/v1/sessions", map[string]any{"chain": "base"}, http.StatusBadRequest)
	})

	t.Run("rejects an address with a path", func(t *testing.T) {
		app.postJSON(t, "/api/v1/sessions", map[string]any{"address": "0xabc/../x"}, http.StatusBadRequest)
	})

	t.Run("unknown session", func(t *testing.T) {
		app.getJSON(t, "/api/v1/sessions/does-not-exist", http.StatusNotFound)
		app.doJSON(t, http.MethodDelete, "/api/v1/sessions/does-not-exist", nil, http.StatusNotFound)
	})

	t.Run("recordings disabled without a database", func(t *testing.T) {
		app.getJSON(t, "/api/v1/recordings", http.StatusServiceUnavailable)
	})

	t.Run("health is degraded without a database", func(t *testing.T) {
		health := app.GetHealth(t)
		assert.Equal(t, "degraded", health["status"])
		checks, _ := health["checks"].(map[string]any)
		db, _ := checks["database"].(map[string]any)
		assert.Equal(t, "degraded", db["status"])
	})

	t.Run("delete tears the session down", func(t *testing.T) {
		app.Backend.AddStream(StreamConnection{Events: ScanEvents(t, testAddress, 1_700_000_000_000)})
		id := sessionID(t, app.CreateSession(t, map[string]any{"address": testAddress}))
		app.WaitForSessionStatus(t, id, "completed")

		list := app.getJSON(t, "/api/v1/sessions", http.StatusOK)
		assert.EqualValues(t, 1, list["total"])

		deleted := app.DeleteSession(t, id)
		assert.Equal(t, id, deleted["session_id"])
		app.getJSON(t, "/api/v1/sessions/"+id, http.StatusNotFound)
	})
}

func TestE2E_SlackVerdict(t *testing.T) {
	app := NewTestApp(t, WithSlack())
	app.Backend.AddStream(StreamConnection{Events: ScanEvents(t, testAddress, 1_700_000_000_000)})

	id := sessionID(t, app.CreateSession(t, map[string]any{"address": testAddress}))
	app.WaitForSessionStatus(t, id, "completed")

	require.Eventually(t, func() bool {
		return len(app.Slack.Messages()) == 1
	}, waitTimeout, 20*time.Millisecond)

	msg := app.Slack.Messages()[0]
	assert.Contains(t, msg.Text, "verdict base:"+testAddress)
	assert.Contains(t, msg.Text, "grade B")
	assert.Contains(t, msg.Text, "7.5/10")
	assert.Empty(t, msg.ThreadTS)
	assert.NotEmpty(t, msg.Blocks)
}

func TestE2E_SlackScanFailed(t *testing.T) {
	app := NewTestApp(t, WithSlack())

	id := sessionID(t, app.CreateSession(t, map[string]any{"address": testAddress}))
	app.WaitForSessionStatus(t, id, "failed")

	require.Eventually(t, func() bool {
		return len(app.Slack.Messages()) == 1
	}, waitTimeout, 20*time.Millisecond)
	assert.Contains(t, app.Slack.Messages()[0].Text, "scan failed base:"+testAddress)
	assert.Contains(t, app.Slack.Messages()[0].Text, "API_ERROR")
}

// ────────────────────────────────────────────────────────────
// Recordings (require a database)
// ────────────────────────────────────────────────────────────

func waitRecordingStatus(t *testing.T, app *TestApp, recordingID, status string) map[string]any {
	t.Helper()
	var rec map[string]any
	require.Eventually(t, func() bool {
		resp := app.GetRecording(t, recordingID)
		rec, _ = resp["recording"].(map[string]any)
		return rec != nil && rec["status"] == status
	}, waitTimeout, 20*time.Millisecond, "recording %s never reached %s", recordingID, status)
	return rec
}

func TestE2E_RecordAndReplayCached(t *testing.T) {
	app := NewTestApp(t, WithDatabase())
	evs := ScanEvents(t, testAddress, 1_700_000_000_000)
	app.Backend.AddStream(StreamConnection{Events: evs})

	// First watch is live and recorded.
	first := app.CreateSession(t, map[string]any{"address": testAddress})
	assert.Equal(t, "live", first["mode"])
	recordingID, _ := first["recording_id"].(string)
	app.WaitForSessionStatus(t, sessionID(t, first), "completed")

	// The recording id is only known once the upstream goroutine created it.
	if recordingID == "" {
		resp := app.GetSession(t, sessionID(t, first))
		recordingID, _ = SessionField(t, resp, "recording_id").(string)
	}
	require.NotEmpty(t, recordingID)

	rec := waitRecordingStatus(t, app, recordingID, "complete")
	assert.EqualValues(t, len(evs), rec["event_count"])
	assert.Equal(t, "B", rec["grade"])
	assert.InDelta(t, 75, rec["score"], 0.001)

	full := app.GetRecording(t, recordingID)
	stored, _ := full["events"].([]any)
	assert.Len(t, stored, len(evs))

	// Second watch of the same target replays the recording.
	second := app.CreateSession(t, map[string]any{"address": testAddress})
	assert.Equal(t, "cached", second["mode"])
	assert.Equal(t, recordingID, second["recording_id"])

	ws := watch(t, app, sessionID(t, second))
	status, err := ws.WaitForSessionEnded(waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, "completed", status)

	final := lastFrame(t, ws)
	assert.True(t, final.IsCached)
	require.NotNil(t, final.Result)
	assert.InDelta(t, 75, final.Result.Score, 0.001)
	assert.Equal(t, 1, app.Backend.StreamHits(), "cached replay must not reach the backend")

	// The listing shows the single complete recording.
	list := app.getJSON(t, "/api/v1/recordings", http.StatusOK)
	recs, _ := list["recordings"].([]any)
	assert.Len(t, recs, 1)

	// The SSE replay re-emits the backend's wire format.
	msgs := app.ReplayRecording(t, recordingID)
	require.Len(t, msgs, len(evs))
	assert.Equal(t, "scan:start", msgs[0].Event)
	assert.Equal(t, "scan:complete", msgs[len(msgs)-1].Event)
}

func TestE2E_FreshBypassesCacheAndFallsBackToStatic(t *testing.T) {
	app := NewTestApp(t, WithDatabase())
	app.Backend.AddStream(StreamConnection{Events: ScanEvents(t, testAddress, 1_700_000_000_000)})

	first := app.CreateSession(t, map[string]any{"address": testAddress})
	firstID := sessionID(t, first)
	app.WaitForSessionStatus(t, firstID, "completed")
	firstRec, _ := SessionField(t, app.GetSession(t, firstID), "recording_id").(string)
	require.NotEmpty(t, firstRec)
	waitRecordingStatus(t, app, firstRec, "complete")

	// The backend is down now: no stream scripts left and quick scan 503.
	second := app.CreateSession(t, map[string]any{"address": testAddress, "fresh": true})
	assert.Equal(t, "live", second["mode"])
	secondID := sessionID(t, second)

	resp := app.WaitForSessionStatus(t, secondID, "completed")
	conn, _ := SessionField(t, resp, "connection").(map[string]any)
	require.NotNil(t, conn)
	assert.Equal(t, "static", conn["mode"])

	// A recording fed from storage is not reusable.
	secondRec, _ := SessionField(t, resp, "recording_id").(string)
	require.NotEmpty(t, secondRec)
	require.NotEqual(t, firstRec, secondRec)
	waitRecordingStatus(t, app, secondRec, "abandoned")
}

func TestE2E_FailedScanRecordedAsError(t *testing.T) {
	app := NewTestApp(t, WithDatabase())

	id := sessionID(t, app.CreateSession(t, map[string]any{"address": testAddress}))
	resp := app.WaitForSessionStatus(t, id, "failed")

	recID, _ := SessionField(t, resp, "recording_id").(string)
	require.NotEmpty(t, recID)
	waitRecordingStatus(t, app, recID, "error")

	health := app.GetHealth(t)
	assert.Equal(t, "healthy", health["status"])
}
