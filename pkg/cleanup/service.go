// Package cleanup provides recording retention.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/verdictswarm/director/pkg/config"
)

// RecordingPurger is the part of the recording store the cleanup loop
// needs.
type RecordingPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	AbandonStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces retention policies:
//   - Marks recordings that never finished (the process died mid-scan)
//     as abandoned once they are older than the cache TTL
//   - Deletes recordings older than the retention period
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config     *config.RetentionConfig
	recordings RecordingPurger
	now        func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, recordings RecordingPurger) *Service {
	return &Service{
		config:     cfg,
		recordings: recordings,
		now:        time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"recording_retention", s.config.RecordingRetention,
		"cache_ttl", s.config.CacheTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.abandonStaleRecordings(ctx)
	s.deleteOldRecordings(ctx)
}

func (s *Service) abandonStaleRecordings(ctx context.Context) {
	count, err := s.recordings.AbandonStale(ctx, s.now().Add(-s.config.CacheTTL))
	if err != nil {
		slog.Error("Retention: abandon stale recordings failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: marked unfinished recordings abandoned", "count", count)
	}
}

func (s *Service) deleteOldRecordings(ctx context.Context) {
	count, err := s.recordings.DeleteOlderThan(ctx, s.now().Add(-s.config.RecordingRetention))
	if err != nil {
		slog.Error("Retention: delete recordings failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old recordings", "count", count)
	}
}
