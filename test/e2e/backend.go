package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-contrib/sse"

	"github.com/verdictswarm/director/pkg/events"
)

// StreamConnection scripts one connection to the scan stream endpoint.
// A connection whose events contain no terminal event is dropped after the
// last one, which makes the client reconnect.
type StreamConnection struct {
	Status int // 0 means 200
	Events []events.RawEvent
}

// FakeBackend serves the analysis backend's scan stream and quick-scan
// endpoints from scripts.
type FakeBackend struct {
	Server *httptest.Server

	mu           sync.Mutex
	connections  []StreamConnection
	streamHits   int
	lastEventIDs []string
	apiKeys      []string
	quickStatus  int
	quickBody    any
	pollHits     int
}

// NewFakeBackend starts a fake backend closed with t.Cleanup.
func NewFakeBackend(t *testing.T) *FakeBackend {
	t.Helper()
	b := &FakeBackend{quickStatus: http.StatusServiceUnavailable}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/scan/stream", b.handleStream)
	mux.HandleFunc("/v1/scan/", b.handleQuickScan)
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)
	return b
}

// URL returns the backend base URL.
func (b *FakeBackend) URL() string {
	return b.Server.URL
}

// AddStream appends a scripted stream connection. Connections are served
// in order; once exhausted, further connections get 503.
func (b *FakeBackend) AddStream(conn StreamConnection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections = append(b.connections, conn)
}

// SetQuickScan sets the quick-scan response.
func (b *FakeBackend) SetQuickScan(status int, body any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quickStatus = status
	b.quickBody = body
}

// StreamHits returns the number of stream connections received.
func (b *FakeBackend) StreamHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamHits
}

// PollHits returns the number of quick-scan requests received.
func (b *FakeBackend) PollHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pollHits
}

// LastEventIDs returns the Last-Event-ID header of every stream request.
func (b *FakeBackend) LastEventIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lastEventIDs...)
}

// APIKeys returns the X-API-Key header of every request.
func (b *FakeBackend) APIKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.apiKeys...)
}

func (b *FakeBackend) handleStream(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	idx := b.streamHits
	b.streamHits++
	b.lastEventIDs = append(b.lastEventIDs, r.Header.Get("Last-Event-ID"))
	b.apiKeys = append(b.apiKeys, r.Header.Get("X-API-Key"))
	var conn StreamConnection
	ok := idx < len(b.connections)
	if ok {
		conn = b.connections[idx]
	}
	b.mu.Unlock()

	if !ok {
		http.Error(w, "no more scripted connections", http.StatusServiceUnavailable)
		return
	}
	if conn.Status != 0 && conn.Status != http.StatusOK {
		http.Error(w, http.StatusText(conn.Status), conn.Status)
		return
	}

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	_, _ = w.Write([]byte(": connected\n\n"))
	for _, ev := range conn.Events {
		id := ev.ID
		if id == "" {
			id = strconv.FormatInt(ev.Timestamp, 10)
		}
		if err := sse.Encode(w, sse.Event{Id: id, Event: ev.Type, Data: ev.Data}); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (b *FakeBackend) handleQuickScan(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.pollHits++
	b.apiKeys = append(b.apiKeys, r.Header.Get("X-API-Key"))
	status, body := b.quickStatus, b.quickBody
	b.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": body})
}

// QuickScanResult builds a quick-scan data section for address.
func QuickScanResult(address, chain string, score float64) map[string]any {
	return map[string]any{
		"address":    address,
		"chain":      chain,
		"tier":       "PRO",
		"score":      score,
		"risk_level": "MEDIUM",
		"analysis": map[string]any{
			"security": map[string]any{"score": score, "summary": "contract verified"},
		},
		"bots": map[string]any{
			"technician": map[string]any{"score": score, "sentiment": "neutral", "category": "technical", "reasoning": "steady volume"},
			"security":   map[string]any{"score": score, "sentiment": "bullish", "category": "security", "reasoning": "mint renounced"},
		},
	}
}
