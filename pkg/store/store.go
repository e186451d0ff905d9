// Package store persists the raw event stream of every watched scan so it
// can be replayed later with cached pacing.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/verdictswarm/director/pkg/events"
)

// ErrNotFound is returned when a recording does not exist or no recording
// matches a lookup.
var ErrNotFound = errors.New("recording not found")

// Status is the lifecycle state of a recording.
type Status string

// Recording statuses.
const (
	StatusRecording Status = "recording"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusAbandoned Status = "abandoned"
)

// Target identifies what was scanned.
type Target struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Depth   string `json:"depth,omitempty"`
	Tier    string `json:"tier,omitempty"`
}

// CacheKey returns the lookup key for cached replays: chain, lower-cased
// address and tier, as the analysis backend keys its own cache.
func (t Target) CacheKey() string {
	return fmt.Sprintf("%s:%s:%s",
		strings.ToLower(strings.TrimSpace(t.Chain)),
		strings.ToLower(strings.TrimSpace(t.Address)),
		strings.ToLower(strings.TrimSpace(t.Tier)))
}

// Recording is the header row of a stored scan.
type Recording struct {
	ID          string     `json:"id"`
	CacheKey    string     `json:"cache_key"`
	Target      Target     `json:"target"`
	Status      Status     `json:"status"`
	Score       *float64   `json:"score,omitempty"`
	Grade       string     `json:"grade,omitempty"`
	EventCount  int        `json:"event_count"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Store reads and writes recordings.
type Store struct {
	db *sql.DB
}

// New creates a Store over a migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const recordingColumns = `id, cache_key, token_address, chain, depth, tier, status,
	score, grade, event_count, created_at, completed_at`

// Create starts a new recording for target.
func (s *Store) Create(ctx context.Context, target Target) (*Recording, error) {
	rec := &Recording{
		ID:       uuid.New().String(),
		CacheKey: target.CacheKey(),
		Target:   target,
		Status:   StatusRecording,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO recordings (id, cache_key, token_address, chain, depth, tier, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		rec.ID, rec.CacheKey, target.Address, target.Chain, target.Depth, target.Tier, string(rec.Status),
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	return rec, nil
}

// Append stores ev as the next event of the recording. Sequence numbers
// are assigned by the database so concurrent appends cannot collide.
func (s *Store) Append(ctx context.Context, id string, ev events.RawEvent) error {
	payload := []byte(ev.Data)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	err = tx.QueryRowContext(ctx,
		`UPDATE recordings SET event_count = event_count + 1
		 WHERE id = $1 AND status = $2
		 RETURNING event_count`, id, string(StatusRecording)).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to reserve event sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO recording_events (recording_id, seq, event_type, event_id, payload, timestamp_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, seq, ev.Type, ev.ID, string(payload), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return tx.Commit()
}

// Finish closes a recording with its final status and verdict.
func (s *Store) Finish(ctx context.Context, id string, status Status, score *float64, grade string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET status = $2, score = $3, grade = $4, completed_at = now()
		 WHERE id = $1`, id, string(status), score, grade)
	if err != nil {
		return fmt.Errorf("failed to finish recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a recording header by id.
func (s *Store) Get(ctx context.Context, id string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE id = $1`, id)
	return scanRecording(row)
}

// Events returns the events of a recording in arrival order.
func (s *Store) Events(ctx context.Context, id string) ([]events.RawEvent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, event_id, payload, timestamp_ms
		 FROM recording_events WHERE recording_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []events.RawEvent
	for rows.Next() {
		var (
			ev      events.RawEvent
			payload []byte
		)
		if err := rows.Scan(&ev.Type, &ev.ID, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Data = json.RawMessage(payload)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return out, nil
}

// LatestComplete returns the newest complete recording for cacheKey. A
// positive maxAge restricts the lookup to recordings completed within that
// window; zero accepts any age.
func (s *Store) LatestComplete(ctx context.Context, cacheKey string, maxAge time.Duration) (*Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings
		WHERE cache_key = $1 AND status = 'complete'`
	args := []any{cacheKey}
	if maxAge > 0 {
		query += ` AND completed_at >= $2`
		args = append(args, time.Now().Add(-maxAge))
	}
	query += ` ORDER BY completed_at DESC LIMIT 1`

	return scanRecording(s.db.QueryRowContext(ctx, query, args...))
}

// List returns the most recent recordings, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Recording, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordingColumns+` FROM recordings ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recordings: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes recordings created before cutoff, events
// included. Recordings still being written are kept.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recordings WHERE created_at < $1 AND status <> 'recording'`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete recordings: %w", err)
	}
	return res.RowsAffected()
}

// AbandonStale marks recordings that never finished and were started
// before cutoff as abandoned, so retention can collect them.
func (s *Store) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET status = 'abandoned', completed_at = now()
		 WHERE status = 'recording' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon recordings: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*Recording, error) {
	var (
		rec         Recording
		score       sql.NullFloat64
		completedAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.CacheKey, &rec.Target.Address, &rec.Target.Chain,
		&rec.Target.Depth, &rec.Target.Tier, &rec.Status,
		&score, &rec.Grade, &rec.EventCount, &rec.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan recording: %w", err)
	}
	if score.Valid {
		rec.Score = &score.Float64
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return &rec, nil
}
