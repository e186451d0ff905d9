package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// VerdictInput contains data for a finished-scan notification.
type VerdictInput struct {
	SessionID        string
	TokenAddress     string
	TokenName        string
	Chain            string
	Score            float64 // 0-10
	Grade            string
	RiskLevel        string // LOW, MEDIUM, HIGH, CRITICAL
	Narrative        string
	CriticalFindings []string
	AgentCount       int
	Debates          int
	DurationMs       int64
	Cached           bool
}

// ScanFailedInput contains data for a scan:error notification.
type ScanFailedInput struct {
	SessionID    string
	TokenAddress string
	Chain        string
	Code         string
	Message      string
}

// OnchainInput contains data for the on-chain confirmation reply.
type OnchainInput struct {
	SessionID    string
	TokenAddress string
	Chain        string
	TxSignature  string
	Network      string
	ExplorerURL  string
	ThreadTS     string // Returned by NotifyVerdict
}

// Service handles Slack notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
	}
}

// NotifyVerdict posts the verdict of a finished scan and returns the
// message timestamp for threading the on-chain confirmation.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyVerdict(ctx context.Context, input VerdictInput) string {
	if s == nil {
		return ""
	}

	blocks := BuildVerdictMessage(input, s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, VerdictFallback(input), "", 10*time.Second)
	if err != nil {
		s.logger.Error("Failed to send Slack verdict notification",
			"session_id", input.SessionID,
			"token", input.TokenAddress,
			"error", err)
		return ""
	}
	return ts
}

// NotifyScanFailed posts a scan failure.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyScanFailed(ctx context.Context, input ScanFailedInput) {
	if s == nil {
		return
	}

	blocks := BuildScanFailedMessage(input, s.dashboardURL)
	fallback := fmt.Sprintf("scan failed %s:%s (%s)", input.Chain, input.TokenAddress, input.Code)
	if _, err := s.client.PostMessage(ctx, blocks, fallback, "", 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack failure notification",
			"session_id", input.SessionID,
			"code", input.Code,
			"error", err)
	}
}

// NotifyOnchain replies in the verdict thread once the verdict has been
// recorded on-chain. Without a cached thread timestamp the verdict message
// is looked up by fingerprint; if none is found the reply is posted to the
// channel.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyOnchain(ctx context.Context, input OnchainInput) {
	if s == nil {
		return
	}

	threadTS := input.ThreadTS
	if threadTS == "" {
		var err error
		threadTS, err = s.client.FindMessageByFingerprint(ctx, Fingerprint(input.Chain, input.TokenAddress))
		if err != nil {
			s.logger.Warn("Failed to find Slack thread for verdict",
				"session_id", input.SessionID,
				"token", input.TokenAddress,
				"error", err)
		}
	}

	blocks := BuildOnchainMessage(input)
	fallback := fmt.Sprintf("verdict recorded on-chain: %s", input.TxSignature)
	if _, err := s.client.PostMessage(ctx, blocks, fallback, threadTS, 5*time.Second); err != nil {
		s.logger.Error("Failed to send Slack on-chain notification",
			"session_id", input.SessionID,
			"tx", input.TxSignature,
			"error", err)
	}
}
