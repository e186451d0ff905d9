package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verdictswarm/director/pkg/stream"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, newHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error()))
		return
	}

	sess, err := s.sessions.Create(c.Request.Context(), stream.Request{
		Address: req.Address,
		Chain:   req.Chain,
		Depth:   req.Depth,
		Tier:    req.Tier,
		Fresh:   req.Fresh,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	s.logger.Info("Session created",
		"session_id", sess.ID,
		"address", sess.Request.Address,
		"chain", sess.Request.Chain,
		"mode", sess.Mode,
		"author", extractAuthor(c))

	c.JSON(http.StatusCreated, &CreateSessionResponse{
		SessionID:   sess.ID,
		Mode:        sess.Mode,
		RecordingID: sess.RecordingID(),
	})
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) {
	list := s.sessions.List()
	c.JSON(http.StatusOK, &SessionListResponse{Sessions: list, Total: len(list)})
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, &SessionResponse{
		Session: sess.Summary(),
		Frame:   sess.Frame(),
		Stats:   sess.Director().Stats(),
	})
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id.
func (s *Server) deleteSessionHandler(c *gin.Context) {
	id := c.Param("id")
	frame, err := s.sessions.Delete(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, &DeleteSessionResponse{
		SessionID: id,
		Message:   "session torn down",
		Frame:     frame,
	})
}

// skipSessionHandler handles POST /api/v1/sessions/:id/skip. Every queued
// action is applied at once and the resulting frame returned.
func (s *Server) skipSessionHandler(c *gin.Context) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	sess.Director().SkipToEnd()
	c.JSON(http.StatusOK, &SessionResponse{
		Session: sess.Summary(),
		Frame:   sess.Frame(),
		Stats:   sess.Director().Stats(),
	})
}
