package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verdictswarm/director/pkg/session"
	"github.com/verdictswarm/director/pkg/store"
)

// httpError is an error with the HTTP status it maps to.
type httpError struct {
	Code    int
	Message string
}

func (e *httpError) Error() string {
	return e.Message
}

func newHTTPError(code int, message string) *httpError {
	return &httpError{Code: code, Message: message}
}

// mapServiceError maps session and store errors to HTTP error responses.
func mapServiceError(err error) *httpError {
	var validErr *session.ValidationError
	if errors.As(err, &validErr) {
		return newHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, session.ErrNotFound) {
		return newHTTPError(http.StatusNotFound, "session not found")
	}
	if errors.Is(err, store.ErrNotFound) {
		return newHTTPError(http.StatusNotFound, "recording not found")
	}
	if errors.Is(err, session.ErrTooManySessions) {
		return newHTTPError(http.StatusTooManyRequests, "too many active sessions")
	}
	if errors.Is(err, session.ErrShuttingDown) {
		return newHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return newHTTPError(http.StatusInternalServerError, "internal server error")
}

// abortWithError writes err as {"error": message} and stops the chain.
func abortWithError(c *gin.Context, err error) {
	var he *httpError
	if !errors.As(err, &he) {
		he = mapServiceError(err)
	}
	c.AbortWithStatusJSON(he.Code, ErrorResponse{Error: he.Message})
}
