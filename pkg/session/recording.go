package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/store"
	"github.com/verdictswarm/director/pkg/stream"
	"github.com/verdictswarm/director/pkg/timeline"
)

const finishTimeout = 5 * time.Second

// Recordings is the recording storage used by sessions. *store.Store
// implements it.
type Recordings interface {
	Create(ctx context.Context, target store.Target) (*store.Recording, error)
	Append(ctx context.Context, id string, ev events.RawEvent) error
	Finish(ctx context.Context, id string, status store.Status, score *float64, grade string) error
	LatestComplete(ctx context.Context, cacheKey string, maxAge time.Duration) (*store.Recording, error)
	Events(ctx context.Context, id string) ([]events.RawEvent, error)
}

func targetFor(req stream.Request) store.Target {
	return store.Target{
		Address: req.Address,
		Chain:   req.Chain,
		Depth:   req.Depth,
		Tier:    req.Tier,
	}
}

// staticSource serves the newest complete recording of any age to the
// static upstream tier.
type staticSource struct {
	recordings Recordings
}

func (s staticSource) LatestEvents(ctx context.Context, req stream.Request) ([]events.RawEvent, error) {
	rec, err := s.recordings.LatestComplete(ctx, targetFor(req).CacheKey(), 0)
	if err != nil {
		return nil, err
	}
	return s.recordings.Events(ctx, rec.ID)
}

// recorder appends the events of one live session to a recording. After
// the first storage error it stops writing and the recording is left to
// the retention sweep.
type recorder struct {
	recordings Recordings
	id         string
	logger     *slog.Logger

	failed   bool
	terminal string
	score    *float64
	grade    string
}

func (r *recorder) append(ctx context.Context, ev events.RawEvent) {
	if events.IsTerminalType(ev.Type) {
		r.terminal = ev.Type
		if ev.Type == events.EventTypeScanComplete {
			if p, err := events.Decode[events.ScanCompletePayload](ev); err == nil {
				score := p.Score
				r.score = &score
				r.grade = p.Grade
				if r.grade == "" {
					r.grade = timeline.GradeForScore(score)
				}
			}
		}
	}
	if r.failed {
		return
	}
	if err := r.recordings.Append(ctx, r.id, ev); err != nil {
		r.failed = true
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("Failed to append to recording, recording stopped",
				"recording_id", r.id, "event", ev.Type, "error", err)
		}
	}
}

// finish closes the recording. Only a verdict delivered by the backend
// itself makes a recording reusable; one fed by the static tier is a copy
// of older data and is closed as abandoned.
func (r *recorder) finish(mode stream.Mode) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	status := store.StatusAbandoned
	var score *float64
	grade := ""
	switch {
	case r.failed:
	case r.terminal == events.EventTypeScanComplete && mode != stream.ModeStatic:
		status = store.StatusComplete
		score, grade = r.score, r.grade
	case r.terminal == events.EventTypeScanError:
		status = store.StatusError
	}

	if err := r.recordings.Finish(ctx, r.id, status, score, grade); err != nil {
		r.logger.Warn("Failed to finish recording", "recording_id", r.id, "error", err)
		return
	}
	r.logger.Debug("Recording finished", "recording_id", r.id, "status", status)
}
