package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/verdictswarm/director/pkg/timeline"
)

// ConfigValidator checks a loaded Config, stopping at the first error.
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll validates every section.
func (v *ConfigValidator) ValidateAll() error {
	for _, check := range []func() error{
		v.validateUpstream,
		v.validatePlayback,
		v.validateServer,
		v.validateRetention,
		v.validateSlack,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (v *ConfigValidator) validateUpstream() error {
	u := v.cfg.Upstream
	if u.BaseURL == "" {
		return NewValidationError("upstream", "base_url", ErrMissingRequiredField)
	}
	parsed, err := url.Parse(u.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return NewValidationError("upstream", "base_url", fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidValue, u.BaseURL))
	}
	if u.MaxStreamErrors < 1 {
		return NewValidationError("upstream", "max_stream_errors", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if u.ReconnectMax < u.ReconnectInitial {
		return NewValidationError("upstream", "reconnect_max", fmt.Errorf("%w: must not be below reconnect_initial", ErrInvalidValue))
	}
	return positive("upstream", map[string]time.Duration{
		"request_timeout":     u.RequestTimeout,
		"reconnect_initial":   u.ReconnectInitial,
		"stream_idle_timeout": u.StreamIdleTimeout,
		"poll_interval":       u.PollInterval,
		"poll_timeout":        u.PollTimeout,
	})
}

func (v *ConfigValidator) validatePlayback() error {
	for _, mode := range []timeline.Mode{timeline.ModeLive, timeline.ModeCached} {
		if err := v.cfg.TimelineConfig(mode).Validate(); err != nil {
			return NewValidationError("playback", string(mode), fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s.MaxSessions < 1 {
		return NewValidationError("server", "max_sessions", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return positive("server", map[string]time.Duration{
		"ws_write_timeout": s.WSWriteTimeout,
		"session_linger":   s.SessionLinger,
	})
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if err := positive("retention", map[string]time.Duration{
		"cache_ttl":           r.CacheTTL,
		"recording_retention": r.RecordingRetention,
		"cleanup_interval":    r.CleanupInterval,
	}); err != nil {
		return err
	}
	if r.RecordingRetention < r.CacheTTL {
		return NewValidationError("retention", "recording_retention", fmt.Errorf("%w: must not be below cache_ttl", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateSlack() error {
	s := v.cfg.Slack
	if !s.Enabled {
		return nil
	}
	if s.Channel == "" {
		return NewValidationError("slack", "channel", ErrMissingRequiredField)
	}
	if s.TokenEnv == "" {
		return NewValidationError("slack", "token_env", ErrMissingRequiredField)
	}
	return nil
}

func positive(section string, fields map[string]time.Duration) error {
	for name, d := range fields {
		if d <= 0 {
			return NewValidationError(section, name, fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}
	return nil
}
