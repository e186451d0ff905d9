package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/verdictswarm/director/pkg/session"
	"github.com/verdictswarm/director/pkg/store"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        session.NewValidationError("address", "required"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "address",
		},
		{
			name:       "session not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", session.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "session not found",
		},
		{
			name:       "recording not found maps to 404",
			err:        store.ErrNotFound,
			expectCode: http.StatusNotFound,
			expectMsg:  "recording not found",
		},
		{
			name:       "session limit maps to 429",
			err:        fmt.Errorf("%w (limit 3)", session.ErrTooManySessions),
			expectCode: http.StatusTooManyRequests,
			expectMsg:  "too many active sessions",
		},
		{
			name:       "shutdown maps to 503",
			err:        session.ErrShuttingDown,
			expectCode: http.StatusServiceUnavailable,
			expectMsg:  "shutting down",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}
