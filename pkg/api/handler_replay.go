package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/store"
)

// maxReplayGap caps the pause between two paced replay events.
const maxReplayGap = 5 * time.Second

// RecordingReader reads stored recordings. *store.Store implements it.
type RecordingReader interface {
	Get(ctx context.Context, id string) (*store.Recording, error)
	Events(ctx context.Context, id string) ([]events.RawEvent, error)
	List(ctx context.Context, limit int) ([]*store.Recording, error)
}

func (s *Server) requireRecordings(c *gin.Context) bool {
	if s.recordings == nil {
		abortWithError(c, newHTTPError(http.StatusServiceUnavailable, "recordings are disabled"))
		return false
	}
	return true
}

// listRecordingsHandler handles GET /api/v1/recordings.
func (s *Server) listRecordingsHandler(c *gin.Context) {
	if !s.requireRecordings(c) {
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			abortWithError(c, newHTTPError(http.StatusBadRequest, "invalid limit: must be between 1 and 500"))
			return
		}
		limit = n
	}
	recs, err := s.recordings.List(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, &RecordingListResponse{Recordings: recs})
}

// getRecordingHandler handles GET /api/v1/recordings/:id. Events are
// included with ?events=true.
func (s *Server) getRecordingHandler(c *gin.Context) {
	if !s.requireRecordings(c) {
		return
	}
	ctx := c.Request.Context()
	rec, err := s.recordings.Get(ctx, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := &RecordingResponse{Recording: rec}
	if c.Query("events") == "true" {
		if resp.Events, err = s.recordings.Events(ctx, rec.ID); err != nil {
			abortWithError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

// replayRecordingHandler handles GET /api/v1/recordings/:id/events. The
// recording is re-emitted as an SSE stream in the backend's own wire
// format, so any scan stream client can replay it. With ?speed=N the
// original gaps between events are reproduced N times faster; without it
// every event is sent at once.
func (s *Server) replayRecordingHandler(c *gin.Context) {
	if !s.requireRecordings(c) {
		return
	}

	var speed float64
	if v := c.Query("speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			abortWithError(c, newHTTPError(http.StatusBadRequest, "invalid speed: must be a positive number"))
			return
		}
		speed = f
	}

	ctx := c.Request.Context()
	evs, err := s.recordings.Events(ctx, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	var prev int64
	for i, ev := range evs {
		if speed > 0 && i > 0 {
			if !sleepCtx(ctx, replayGap(prev, ev.Timestamp, speed)) {
				return
			}
		}
		prev = ev.Timestamp

		id := ev.ID
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		c.Render(-1, sse.Event{Id: id, Event: ev.Type, Data: ev.Data})
		c.Writer.Flush()
	}
}

func replayGap(prev, next int64, speed float64) time.Duration {
	if next <= prev {
		return 0
	}
	d := time.Duration(float64(time.Duration(next-prev)*time.Millisecond) / speed)
	return min(d, maxReplayGap)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
