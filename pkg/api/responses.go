package api

import (
	"github.com/verdictswarm/director/pkg/database"
	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/session"
	"github.com/verdictswarm/director/pkg/store"
	"github.com/verdictswarm/director/pkg/timeline"
	"github.com/verdictswarm/director/pkg/version"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateSessionResponse is returned by POST /api/v1/sessions.
type CreateSessionResponse struct {
	SessionID   string        `json:"session_id"`
	Mode        timeline.Mode `json:"mode"`
	RecordingID string        `json:"recording_id,omitempty"`
}

// SessionListResponse is returned by GET /api/v1/sessions.
type SessionListResponse struct {
	Sessions []session.Summary `json:"sessions"`
	Total    int               `json:"total"`
}

// SessionResponse is returned by GET /api/v1/sessions/:id.
type SessionResponse struct {
	Session session.Summary `json:"session"`
	Frame   timeline.Frame  `json:"frame"`
	Stats   timeline.Stats  `json:"stats"`
}

// DeleteSessionResponse is returned by DELETE /api/v1/sessions/:id.
type DeleteSessionResponse struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Frame     timeline.Frame `json:"frame"`
}

// RecordingListResponse is returned by GET /api/v1/recordings.
type RecordingListResponse struct {
	Recordings []*store.Recording `json:"recordings"`
}

// RecordingResponse is returned by GET /api/v1/recordings/:id.
type RecordingResponse struct {
	Recording *store.Recording  `json:"recording"`
	Events    []events.RawEvent `json:"events,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Build       version.BuildInfo      `json:"build"`
	Database    *database.HealthStatus `json:"database,omitempty"`
	Checks      map[string]HealthCheck `json:"checks"`
	Sessions    int                    `json:"sessions"`
	Connections int                    `json:"connections"`
}

// HealthCheck is the result of one component check.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
