// Package session runs watched scans. Each session owns one timeline
// Director fed either by a live upstream connection or by a stored
// recording replayed at cached pacing.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/verdictswarm/director/pkg/config"
	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/slack"
	"github.com/verdictswarm/director/pkg/store"
	"github.com/verdictswarm/director/pkg/stream"
	"github.com/verdictswarm/director/pkg/timeline"
)

const notifyTimeout = 15 * time.Second

// Notifier delivers scan notifications. *slack.Service implements it and
// is nil-safe.
type Notifier interface {
	NotifyVerdict(ctx context.Context, input slack.VerdictInput) string
	NotifyScanFailed(ctx context.Context, input slack.ScanFailedInput)
	NotifyOnchain(ctx context.Context, input slack.OnchainInput)
}

// Watcher feeds one live session with upstream events. *stream.Client
// implements it.
type Watcher interface {
	Run(ctx context.Context, req stream.Request, sink func(events.RawEvent)) error
	Status() stream.Status
}

// WatcherFactory builds the Watcher of one live session. onStatus is called
// after every connection state change.
type WatcherFactory func(onStatus func(stream.Status)) Watcher

// Option configures a Manager.
type Option func(*Manager)

// WithRecordings enables recording and cached replay.
func WithRecordings(r Recordings) Option {
	return func(m *Manager) { m.recordings = r }
}

// WithNotifier enables verdict notifications.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithAPIKey sets the key sent to the analysis backend.
func WithAPIKey(key string) Option {
	return func(m *Manager) { m.apiKey = key }
}

// WithWatcherFactory replaces the upstream client, mostly for tests.
func WithWatcherFactory(f WatcherFactory) Option {
	return func(m *Manager) { m.newWatcher = f }
}

// WithClock sets the clock handed to every Director.
func WithClock(c timeline.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager manages sessions in memory
type Manager struct {
	cfg        *config.Config
	apiKey     string
	recordings Recordings
	notifier   Notifier
	newWatcher WatcherFactory
	clock      timeline.Clock
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	wg sync.WaitGroup
}

// NewManager creates a new session manager
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		clock:    timeline.RealClock{},
		logger:   slog.Default().With("component", "session-manager"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.newWatcher == nil {
		m.newWatcher = m.streamWatcher
	}
	return m
}

func (m *Manager) streamWatcher(onStatus func(stream.Status)) Watcher {
	opts := []stream.Option{stream.WithStatusHook(onStatus)}
	if m.recordings != nil {
		opts = append(opts, stream.WithRecordingSource(staticSource{recordings: m.recordings}))
	}
	return stream.NewClient(m.cfg.Upstream, m.apiKey, opts...)
}

// normalize validates req and fills in the configured defaults.
func (m *Manager) normalize(req stream.Request) (stream.Request, error) {
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		return req, NewValidationError("address", "required")
	}
	if strings.ContainsAny(req.Address, " /?#") {
		return req, NewValidationError("address", "must be a token address")
	}
	up := m.cfg.Upstream
	req.Chain = strings.ToLower(strings.TrimSpace(req.Chain))
	if req.Chain == "" {
		req.Chain = up.Chain
	}
	if req.Depth == "" {
		req.Depth = up.Depth
	}
	if req.Tier == "" {
		req.Tier = up.Tier
	}
	return req, nil
}

// Create starts watching a scan. A complete recording of the same target
// younger than the cache TTL is replayed at cached pacing unless req.Fresh
// is set; otherwise a live upstream connection is opened.
func (m *Manager) Create(ctx context.Context, req stream.Request) (*Session, error) {
	req, err := m.normalize(req)
	if err != nil {
		return nil, err
	}

	var cached *store.Recording
	var replay []events.RawEvent
	if m.recordings != nil && !req.Fresh {
		cached, replay = m.lookupCached(ctx, req)
	}

	mode := timeline.ModeLive
	if cached != nil {
		mode = timeline.ModeCached
	}

	s := newSession(uuid.New().String(), req, mode, time.Now())
	log := m.logger.With("session_id", s.ID, "address", req.Address, "chain", req.Chain)
	s.director = timeline.NewDirector(m.cfg.TimelineConfig(mode),
		timeline.WithClock(m.clock),
		timeline.WithLogger(log.With("component", "timeline-director")),
		timeline.WithOnComplete(func(f timeline.Frame) { m.goNotify(func() { m.notifyVerdict(s, f) }) }),
		timeline.WithOnOnchain(func(f timeline.Frame) { m.goNotify(func() { m.notifyOnchain(s, f) }) }),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		s.director.Destroy()
		return nil, ErrShuttingDown
	}
	if limit := m.cfg.Server.MaxSessions; limit > 0 && len(m.sessions) >= limit {
		m.mu.Unlock()
		cancel()
		s.director.Destroy()
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, limit)
	}
	m.sessions[s.ID] = s
	m.wg.Add(1)
	m.mu.Unlock()

	if cached != nil {
		s.setRecordingID(cached.ID)
		log.Info("Replaying cached scan", "recording_id", cached.ID, "events", len(replay))
		go m.runCached(runCtx, s, replay)
	} else {
		log.Info("Watching live scan", "tier", req.Tier, "depth", req.Depth, "fresh", req.Fresh)
		go m.runLive(runCtx, s, log)
	}
	return s, nil
}

func (m *Manager) lookupCached(ctx context.Context, req stream.Request) (*store.Recording, []events.RawEvent) {
	rec, err := m.recordings.LatestComplete(ctx, targetFor(req).CacheKey(), m.cfg.Retention.CacheTTL)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("Cache lookup failed, watching live", "address", req.Address, "error", err)
		}
		return nil, nil
	}
	evs, err := m.recordings.Events(ctx, rec.ID)
	if err != nil || len(evs) == 0 {
		m.logger.Warn("Cached recording unreadable, watching live",
			"recording_id", rec.ID, "events", len(evs), "error", err)
		return nil, nil
	}
	return rec, evs
}

func (m *Manager) runCached(ctx context.Context, s *Session, evs []events.RawEvent) {
	defer m.wg.Done()
	defer s.end()

	for _, ev := range evs {
		if ctx.Err() != nil {
			return
		}
		s.director.Push(ev)
	}
	m.linger(ctx, s)
}

func (m *Manager) runLive(ctx context.Context, s *Session, log *slog.Logger) {
	defer m.wg.Done()
	defer s.end()

	var rec *recorder
	if m.recordings != nil {
		r, err := m.recordings.Create(ctx, targetFor(s.Request))
		if err != nil {
			log.Warn("Failed to create recording, continuing without", "error", err)
		} else {
			s.setRecordingID(r.ID)
			rec = &recorder{recordings: m.recordings, id: r.ID, logger: log}
		}
	}

	w := m.newWatcher(s.setConnection)
	err := w.Run(ctx, s.Request, func(ev events.RawEvent) {
		s.director.Push(ev)
		if rec != nil {
			rec.append(ctx, ev)
		}
	})
	s.setConnection(w.Status())
	if rec != nil {
		rec.finish(w.Status().Mode)
	}

	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		log.Warn("Upstream watch ended with error", "error", err)
		s.setError(err.Error())
	default:
		log.Info("Upstream watch finished", "events", w.Status().Events)
	}
	m.linger(ctx, s)
}

// linger waits for the timeline to reach a terminal phase, reports scan
// failures and ends the session, then keeps it readable for SessionLinger
// before removing it. A non-positive SessionLinger keeps it until Delete.
func (m *Manager) linger(ctx context.Context, s *Session) {
	if !waitTerminal(ctx, s.director) {
		return
	}
	if f := s.director.Frame(); f.Phase == timeline.PhaseError || f.Phase == timeline.PhaseTimeout {
		m.goNotify(func() { m.notifyFailed(s, f) })
	}
	s.end()

	d := m.cfg.Server.SessionLinger
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
		m.logger.Debug("Session linger expired", "session_id", s.ID)
		m.remove(s.ID)
	}
}

// waitTerminal blocks until d publishes a frame in a terminal phase. It
// returns false when ctx ends first.
func waitTerminal(ctx context.Context, d *timeline.Director) bool {
	reached := make(chan struct{})
	var once sync.Once
	unsubscribe := d.Subscribe(func(f timeline.Frame) {
		if f.Phase.IsTerminal() {
			once.Do(func() { close(reached) })
		}
	})
	defer unsubscribe()

	select {
	case <-reached:
		return true
	case <-ctx.Done():
		return false
	}
}

// Get retrieves a session by ID
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return s, nil
}

// List returns summaries of all sessions, oldest first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(all))
	for _, s := range all {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Delete tears a session down: the upstream connection is cancelled, the
// director skips to the end and is destroyed. The final frame is returned.
func (m *Manager) Delete(sessionID string) (timeline.Frame, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return timeline.Frame{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	if !s.director.Frame().Phase.IsTerminal() {
		s.markCancelled()
	}
	s.cancel()
	s.director.Destroy()
	m.logger.Info("Session deleted", "session_id", sessionID)
	return s.director.Frame(), nil
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if ok {
		s.director.Destroy()
	}
}

// Shutdown tears down every session and waits for their goroutines, or
// for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.cancel()
		s.director.Destroy()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Session manager stopped", "sessions", len(all))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}

// goNotify runs fn on its own goroutine. Director hooks run while frames
// are being flushed and must not block on the network.
func (m *Manager) goNotify(fn func()) {
	if m.notifier == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}
