// Package e2e provides end-to-end test infrastructure for the director:
// a scripted analysis backend, the real stream client, session manager and
// HTTP/WebSocket API, and optionally a migrated database and a Slack mock.
package e2e

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/verdictswarm/director/pkg/api"
	"github.com/verdictswarm/director/pkg/config"
	"github.com/verdictswarm/director/pkg/database"
	"github.com/verdictswarm/director/pkg/session"
	"github.com/verdictswarm/director/pkg/slack"
	"github.com/verdictswarm/director/pkg/store"
	testdb "github.com/verdictswarm/director/test/database"
)

// TestAPIKey is the upstream API key every test app sends.
const TestAPIKey = "e2e-key"

// TestApp boots a complete director for e2e testing.
type TestApp struct {
	Config   *config.Config
	Backend  *FakeBackend
	Sessions *session.Manager
	Server   *api.Server

	// Set with WithDatabase.
	DBClient   *database.Client
	Recordings *store.Store

	// Set with WithSlack.
	Slack *SlackMock

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321"

	t *testing.T
}

type testAppConfig struct {
	cfg      *config.Config
	backend  *FakeBackend
	database bool
	dbClient *database.Client
	slack    bool
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithBackend uses an existing fake backend.
func WithBackend(b *FakeBackend) TestAppOption {
	return func(c *testAppConfig) { c.backend = b }
}

// WithDatabase enables recordings on a fresh test database.
func WithDatabase() TestAppOption {
	return func(c *testAppConfig) { c.database = true }
}

// WithDBClient enables recordings on an existing database, so several apps
// can share one.
func WithDBClient(client *database.Client) TestAppOption {
	return func(c *testAppConfig) {
		c.database = true
		c.dbClient = client
	}
}

// WithSlack enables verdict notifications against a Slack API mock.
func WithSlack() TestAppOption {
	return func(c *testAppConfig) { c.slack = true }
}

// NewTestApp boots a director wired to a fake backend. Everything is torn
// down with t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = DefaultTestConfig()
	}
	if tc.backend == nil {
		tc.backend = NewFakeBackend(t)
	}
	tc.cfg.Upstream.BaseURL = tc.backend.URL()

	app := &TestApp{Config: tc.cfg, Backend: tc.backend, t: t}

	sessionOpts := []session.Option{session.WithAPIKey(TestAPIKey)}

	// 1. Database (optional).
	if tc.database {
		app.DBClient = tc.dbClient
		if app.DBClient == nil {
			app.DBClient = testdb.NewTestClient(t)
		}
		app.Recordings = store.New(app.DBClient.DB())
		sessionOpts = append(sessionOpts, session.WithRecordings(app.Recordings))
	}

	// 2. Slack (optional).
	if tc.slack {
		app.Slack = NewSlackMock(t)
		client := slack.NewClientWithAPIURL("xoxb-e2e", "C-E2E", app.Slack.URL()+"/")
		sessionOpts = append(sessionOpts, session.WithNotifier(slack.NewServiceWithClient(client, "https://dash.example.com")))
	}

	// 3. Sessions and HTTP server on a random port.
	app.Sessions = session.NewManager(tc.cfg, sessionOpts...)
	app.Server = api.NewServer(tc.cfg, app.Sessions)
	if app.DBClient != nil {
		app.Server.SetDatabase(app.DBClient)
		app.Server.SetRecordings(app.Recordings)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = app.Server.Serve(ln)
	}()

	addr := ln.Addr().String()
	app.BaseURL = fmt.Sprintf("http://%s", addr)
	app.WSURL = fmt.Sprintf("ws://%s", addr)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Sessions.Shutdown(ctx)
		_ = app.Server.Shutdown(ctx)
	})

	return app
}

// DefaultTestConfig returns a config with fast pacing and short upstream
// timeouts.
func DefaultTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Playback.SpeedMultiplier = 0.001
	cfg.Playback.CachedSpeedMultiplier = 0.0005

	cfg.Upstream.RequestTimeout = 2 * time.Second
	cfg.Upstream.MaxStreamErrors = 2
	cfg.Upstream.ReconnectInitial = 10 * time.Millisecond
	cfg.Upstream.ReconnectMax = 50 * time.Millisecond
	cfg.Upstream.StreamIdleTimeout = 2 * time.Second
	cfg.Upstream.PollInterval = 20 * time.Millisecond
	cfg.Upstream.PollTimeout = 500 * time.Millisecond

	cfg.Server.SessionLinger = 0
	cfg.Server.MaxSessions = 10
	return cfg
}

// ────────────────────────────────────────────────────────────
// Slack mock
// ────────────────────────────────────────────────────────────

// SlackMessage is one chat.postMessage call.
type SlackMessage struct {
	Text     string
	ThreadTS string
	Blocks   string
}

// SlackMock serves the Slack Web API methods the notifier uses.
type SlackMock struct {
	server *httptest.Server

	mu     sync.Mutex
	posted []SlackMessage
}

// NewSlackMock starts a Slack API mock closed with t.Cleanup.
func NewSlackMock(t *testing.T) *SlackMock {
	t.Helper()
	m := &SlackMock{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat.postMessage"):
			m.mu.Lock()
			m.posted = append(m.posted, SlackMessage{
				Text:     r.FormValue("text"),
				ThreadTS: r.FormValue("thread_ts"),
				Blocks:   r.FormValue("blocks"),
			})
			n := len(m.posted)
			m.mu.Unlock()
			_, _ = fmt.Fprintf(w, `{"ok":true,"channel":"C-E2E","ts":"1700000000.%06d"}`, n)
		case strings.HasSuffix(r.URL.Path, "/conversations.history"):
			_, _ = w.Write([]byte(`{"ok":true,"messages":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the mock base URL.
func (m *SlackMock) URL() string {
	return m.server.URL
}

// Messages returns every posted message.
func (m *SlackMock) Messages() []SlackMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SlackMessage(nil), m.posted...)
}
