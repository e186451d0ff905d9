// Package stream connects to the analysis backend and delivers the scan
// event stream of one token, degrading through three tiers:
//
//  1. SSE stream, reconnecting with Last-Event-ID and exponential backoff
//  2. REST polling of the quick-scan endpoint, synthesising scan:complete
//  3. Static replay of the newest stored recording
//
// Events are delivered in arrival order to a single sink function.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/verdictswarm/director/pkg/config"
	"github.com/verdictswarm/director/pkg/events"
)

var (
	// ErrInvalidRequest is returned when the scan request lacks an address.
	ErrInvalidRequest = errors.New("invalid scan request")

	// ErrUnavailable is returned when every tier failed to produce a
	// terminal event.
	ErrUnavailable = errors.New("analysis backend unavailable")

	// ErrUpstreamStatus wraps non-success HTTP responses from the backend.
	ErrUpstreamStatus = errors.New("unexpected upstream status")
)

// Mode is the tier currently feeding the session.
type Mode string

// Connection modes.
const (
	ModeStream  Mode = "stream"
	ModePolling Mode = "polling"
	ModeStatic  Mode = "static"
)

// Request identifies the scan to watch.
type Request struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Depth   string `json:"depth,omitempty"`
	Tier    string `json:"tier,omitempty"`
	Fresh   bool   `json:"fresh,omitempty"`
}

// Status is a snapshot of the connection state.
type Status struct {
	Mode        Mode   `json:"mode"`
	Errors      int    `json:"errors"`
	Events      int    `json:"events"`
	LastEventID string `json:"last_event_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// RecordingSource provides the events of the newest stored scan of a
// target for the static tier.
type RecordingSource interface {
	LatestEvents(ctx context.Context, req Request) ([]events.RawEvent, error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for both stream and poll
// requests. Stream requests never use a client-level timeout; set one only
// on clients dedicated to tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRecordingSource enables the static tier.
func WithRecordingSource(src RecordingSource) Option {
	return func(c *Client) { c.static = src }
}

// WithStatusHook registers fn to be called after every status change.
// fn runs on the goroutine calling Run.
func WithStatusHook(fn func(Status)) Option {
	return func(c *Client) { c.onStatus = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client watches one scan at a time.
type Client struct {
	cfg      *config.UpstreamConfig
	apiKey   string
	http     *http.Client
	static   RecordingSource
	onStatus func(Status)
	logger   *slog.Logger

	mu     sync.Mutex
	status Status
}

// NewClient creates a Client for the backend described by cfg. apiKey is
// sent as X-API-Key when non-empty.
func NewClient(cfg *config.UpstreamConfig, apiKey string, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		apiKey: apiKey,
		http:   &http.Client{},
		logger: slog.Default().With("component", "stream"),
		status: Status{Mode: ModeStream},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// run holds the per-Run delivery state.
type run struct {
	req      Request
	sink     func(events.RawEvent)
	lastID   string
	terminal bool
	count    int
}

func (r *run) delivered() bool {
	return r.count > 0
}

func (r *run) emit(c *Client, ev events.RawEvent) {
	if events.IsTerminalType(ev.Type) {
		r.terminal = true
	}
	r.count++
	c.update(func(s *Status) {
		s.Events++
		if ev.ID != "" {
			s.LastEventID = ev.ID
		}
	})
	r.sink(ev)
}

// Run watches req until a terminal event has been delivered and the
// backend closes the stream, ctx is cancelled, or every tier has failed.
// sink is called synchronously for every event, in order.
//
// When all tiers fail, a synthesised scan:error is delivered before
// ErrUnavailable is returned, so the timeline always reaches a terminal
// phase.
func (c *Client) Run(ctx context.Context, req Request, sink func(events.RawEvent)) error {
	if req.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidRequest)
	}
	r := &run{req: req, sink: sink}

	c.setMode(ModeStream)
	err := c.runStream(ctx, r)
	if err == nil || ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Warn("Stream tier exhausted, falling back to polling",
		"address", req.Address, "error", err)

	c.setMode(ModePolling)
	err = c.runPoll(ctx, r)
	if err == nil || ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Warn("Polling tier failed, falling back to stored recording",
		"address", req.Address, "error", err)

	c.setMode(ModeStatic)
	err = c.runStatic(ctx, r)
	if err == nil || ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Error("All upstream tiers failed", "address", req.Address, "error", err)

	c.failTerminal(r, err)
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (c *Client) failTerminal(r *run, cause error) {
	if r.terminal {
		return
	}
	ev, err := events.NewRawEvent(events.EventTypeScanError, events.ScanErrorPayload{
		Message:   fmt.Sprintf("Analysis backend unavailable: %v", cause),
		Code:      events.ErrorCodeAPIError,
		Retryable: true,
	}, nowMillis())
	if err != nil {
		return
	}
	r.emit(c, ev)
}

func (c *Client) setMode(m Mode) {
	c.update(func(s *Status) { s.Mode = m })
}

func (c *Client) recordError(err error) {
	c.update(func(s *Status) {
		s.Errors++
		s.LastError = err.Error()
	})
}

func (c *Client) update(fn func(*Status)) {
	c.mu.Lock()
	fn(&c.status)
	snapshot := c.status
	c.mu.Unlock()
	if c.onStatus != nil {
		c.onStatus(snapshot)
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
