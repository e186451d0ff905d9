package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postedMessage struct {
	text     string
	threadTS string
	blocks   string
}

// mockSlackAPI serves the two Web API methods the client uses.
type mockSlackAPI struct {
	mu       sync.Mutex
	posted   []postedMessage
	history  string
	failPost bool
}

func (m *mockSlackAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat.postMessage"):
			if m.failPost {
				_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
				return
			}
			m.mu.Lock()
			m.posted = append(m.posted, postedMessage{
				text:     r.FormValue("text"),
				threadTS: r.FormValue("thread_ts"),
				blocks:   r.FormValue("blocks"),
			})
			m.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
		case strings.HasSuffix(r.URL.Path, "/conversations.history"):
			history := m.history
			if history == "" {
				history = `{"ok":true,"messages":[]}`
			}
			_, _ = w.Write([]byte(history))
		default:
			http.NotFound(w, r)
		}
	})
}

func (m *mockSlackAPI) messages() []postedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]postedMessage(nil), m.posted...)
}

func newMockService(t *testing.T, api *mockSlackAPI) *Service {
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	return NewServiceWithClient(client, "https://dash.example.com")
}

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	t.Run("NotifyVerdict is no-op", func(t *testing.T) {
		assert.Empty(t, s.NotifyVerdict(context.Background(), verdictInput()))
	})

	t.Run("NotifyScanFailed is no-op", func(_ *testing.T) {
		s.NotifyScanFailed(context.Background(), ScanFailedInput{SessionID: "sess-1"})
	})

	t.Run("NotifyOnchain is no-op", func(_ *testing.T) {
		s.NotifyOnchain(context.Background(), OnchainInput{SessionID: "sess-1"})
	})
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		assert.Nil(t, NewService(ServiceConfig{Token: "", Channel: "C123"}))
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		assert.Nil(t, NewService(ServiceConfig{Token: "xoxb-test", Channel: ""}))
	})

	t.Run("returns service when configured", func(t *testing.T) {
		svc := NewService(ServiceConfig{
			Token:        "xoxb-test",
			Channel:      "C123",
			DashboardURL: "https://example.com",
		})
		assert.NotNil(t, svc)
	})
}

func TestService_NotifyVerdict(t *testing.T) {
	api := &mockSlackAPI{}
	svc := newMockService(t, api)

	ts := svc.NotifyVerdict(context.Background(), verdictInput())
	assert.Equal(t, "1700000000.000100", ts)

	msgs := api.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, Fingerprint("solana", verdictInput().TokenAddress))
	assert.Empty(t, msgs[0].threadTS)
	assert.Contains(t, msgs[0].blocks, "Verdict B")
}

func TestService_NotifyVerdict_FailOpen(t *testing.T) {
	api := &mockSlackAPI{failPost: true}
	svc := newMockService(t, api)

	assert.Empty(t, svc.NotifyVerdict(context.Background(), verdictInput()))
	svc.NotifyScanFailed(context.Background(), ScanFailedInput{SessionID: "sess-1", Code: "API_ERROR"})
}

func TestService_NotifyOnchain(t *testing.T) {
	t.Run("uses cached thread", func(t *testing.T) {
		api := &mockSlackAPI{}
		svc := newMockService(t, api)

		svc.NotifyOnchain(context.Background(), OnchainInput{
			SessionID:   "sess-1",
			TxSignature: "5sig",
			Network:     "devnet",
			ThreadTS:    "111.222",
		})

		msgs := api.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "111.222", msgs[0].threadTS)
	})

	t.Run("finds thread by fingerprint", func(t *testing.T) {
		api := &mockSlackAPI{history: `{"ok":true,"messages":[
			{"type":"message","text":"unrelated","ts":"100.000"},
			{"type":"message","text":"Verdict SOLANA:So1anaMint | grade B","ts":"333.444"}
		]}`}
		svc := newMockService(t, api)

		svc.NotifyOnchain(context.Background(), OnchainInput{
			SessionID:    "sess-1",
			TokenAddress: "So1anaMint",
			Chain:        "solana",
			TxSignature:  "5sig",
		})

		msgs := api.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "333.444", msgs[0].threadTS)
	})

	t.Run("posts to channel when no thread matches", func(t *testing.T) {
		api := &mockSlackAPI{}
		svc := newMockService(t, api)

		svc.NotifyOnchain(context.Background(), OnchainInput{
			SessionID:    "sess-1",
			TokenAddress: "0xabc",
			Chain:        "base",
			TxSignature:  "5sig",
		})

		msgs := api.messages()
		require.Len(t, msgs, 1)
		assert.Empty(t, msgs[0].threadTS)
	})
}
