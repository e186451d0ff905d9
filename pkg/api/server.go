// Package api exposes watched scans over HTTP: session management, frame
// push over WebSocket and SSE replay of stored recordings.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/verdictswarm/director/pkg/config"
	"github.com/verdictswarm/director/pkg/database"
	"github.com/verdictswarm/director/pkg/session"
)

// Server is the HTTP API server.
type Server struct {
	cfg         *config.Config
	engine      *gin.Engine
	httpServer  *http.Server
	sessions    *session.Manager
	dbClient    *database.Client // nil when running without a database
	recordings  RecordingReader  // nil when running without a database
	connManager *ConnectionManager
	logger      *slog.Logger
}

// NewServer creates a new API server and registers its routes.
func NewServer(cfg *config.Config, sessions *session.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		cfg:         cfg,
		engine:      engine,
		sessions:    sessions,
		connManager: NewConnectionManager(cfg.Server.WSWriteTimeout),
		logger:      slog.Default().With("component", "api"),
	}
	s.setupRoutes()
	return s
}

// SetDatabase wires the database client used by /health.
func (s *Server) SetDatabase(db *database.Client) {
	s.dbClient = db
}

// SetRecordings enables the recording endpoints.
func (s *Server) SetRecordings(r RecordingReader) {
	s.recordings = r
}

// Handler returns the HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery(), requestLogger(s.logger), securityHeaders())

	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)
	v1.POST("/sessions/:id/skip", s.skipSessionHandler)
	v1.GET("/sessions/:id/ws", s.wsHandler)

	v1.GET("/recordings", s.listRecordingsHandler)
	v1.GET("/recordings/:id", s.getRecordingHandler)
	v1.GET("/recordings/:id/events", s.replayRecordingHandler)
}

// Start listens on addr and serves until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes WebSocket connections and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connManager.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
