package session

import (
	"context"
	"sync"
	"time"

	"github.com/verdictswarm/director/pkg/stream"
	"github.com/verdictswarm/director/pkg/timeline"
)

// Status represents the current state of a session
type Status string

const (
	StatusWatching  Status = "watching"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Summary is the list view of a session.
type Summary struct {
	ID          string         `json:"session_id"`
	Address     string         `json:"address"`
	Chain       string         `json:"chain"`
	Tier        string         `json:"tier"`
	Mode        timeline.Mode  `json:"mode"`
	Status      Status         `json:"status"`
	Phase       timeline.Phase `json:"phase"`
	Progress    float64        `json:"progress"`
	Connection  *stream.Status `json:"connection,omitempty"`
	RecordingID string         `json:"recording_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Error       string         `json:"error,omitempty"`
}

// Session is one watched scan: a Director plus whatever feeds it.
type Session struct {
	ID        string
	Request   stream.Request
	Mode      timeline.Mode
	CreatedAt time.Time

	director *timeline.Director
	cancel   context.CancelFunc
	done     chan struct{}
	endOnce  sync.Once

	mu          sync.RWMutex // Protects the fields below
	recordingID string
	conn        *stream.Status
	cancelled   bool
	errMsg      string
	updatedAt   time.Time
	threadTS    string
}

func newSession(id string, req stream.Request, mode timeline.Mode, now time.Time) *Session {
	return &Session{
		ID:        id,
		Request:   req,
		Mode:      mode,
		CreatedAt: now,
		updatedAt: now,
		done:      make(chan struct{}),
	}
}

// Director returns the session's director.
func (s *Session) Director() *timeline.Director {
	return s.director
}

// Frame returns the latest published frame.
func (s *Session) Frame() timeline.Frame {
	return s.director.Frame()
}

// Subscribe registers fn for every frame published from now on. The
// returned func unsubscribes.
func (s *Session) Subscribe(fn func(timeline.Frame)) func() {
	return s.director.Subscribe(fn)
}

// Done is closed once the session has ended: its timeline reached a
// terminal phase, or the session was torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) end() {
	s.endOnce.Do(func() { close(s.done) })
}

// RecordingID returns the id of the recording written or replayed by the
// session, if any.
func (s *Session) RecordingID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordingID
}

// Status derives the session status from the current frame.
func (s *Session) Status() Status {
	s.mu.RLock()
	cancelled := s.cancelled
	s.mu.RUnlock()
	return statusFor(s.director.Frame().Phase, cancelled)
}

// Summary returns a snapshot for listings.
func (s *Session) Summary() Summary {
	frame := s.director.Frame()

	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		ID:          s.ID,
		Address:     s.Request.Address,
		Chain:       s.Request.Chain,
		Tier:        s.Request.Tier,
		Mode:        s.Mode,
		Status:      statusFor(frame.Phase, s.cancelled),
		Phase:       frame.Phase,
		Progress:    frame.Progress,
		RecordingID: s.recordingID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.updatedAt,
		Error:       s.errMsg,
	}
	if s.conn != nil {
		c := *s.conn
		sum.Connection = &c
	}
	if sum.Error == "" && frame.Error != nil {
		sum.Error = frame.Error.Message
	}
	return sum
}

func (s *Session) setConnection(st stream.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = &st
	s.updatedAt = time.Now()
}

func (s *Session) setRecordingID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordingID = id
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
	s.updatedAt = time.Now()
}

func (s *Session) markCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.updatedAt = time.Now()
}

func (s *Session) thread() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadTS
}

func (s *Session) setThread(ts string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadTS = ts
}

func statusFor(phase timeline.Phase, cancelled bool) Status {
	switch {
	case cancelled:
		return StatusCancelled
	case phase == timeline.PhaseComplete:
		return StatusCompleted
	case phase == timeline.PhaseError:
		return StatusFailed
	case phase == timeline.PhaseTimeout:
		return StatusTimedOut
	default:
		return StatusWatching
	}
}
