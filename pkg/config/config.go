package config

import (
	"time"

	"github.com/verdictswarm/director/pkg/timeline"
)

// Config is the umbrella configuration object returned by Initialize.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Upstream  *UpstreamConfig
	Playback  *PlaybackConfig
	Server    *ServerConfig
	Retention *RetentionConfig
	Slack     *SlackConfig
}

// UpstreamConfig describes the analysis backend the director watches.
type UpstreamConfig struct {
	// BaseURL of the analysis API, e.g. https://api.verdictswarm.io
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the env var holding the API key sent as X-API-Key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Chain, Depth and Tier are the default scan parameters.
	Chain string `yaml:"chain"`
	Depth string `yaml:"depth"`
	Tier  string `yaml:"tier"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxStreamErrors is how many stream failures are tolerated before
	// falling back to polling.
	MaxStreamErrors  int           `yaml:"max_stream_errors"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`

	// StreamIdleTimeout drops a stream that sent nothing, not even a
	// keep-alive, for this long. The backend pings every 15s.
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`

	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// PlaybackConfig holds the pacing presets.
type PlaybackConfig struct {
	SpeedMultiplier       float64         `yaml:"speed_multiplier"`
	CachedSpeedMultiplier float64         `yaml:"cached_speed_multiplier"`
	Delays                timeline.Delays `yaml:"delays"`
}

// ServerConfig holds HTTP and WebSocket settings.
type ServerConfig struct {
	// AllowedWSOrigins are extra origin patterns accepted on the
	// WebSocket endpoint, on top of same-origin requests.
	AllowedWSOrigins []string      `yaml:"allowed_ws_origins"`
	WSWriteTimeout   time.Duration `yaml:"ws_write_timeout"`

	// MaxSessions caps concurrently watched scans.
	MaxSessions int `yaml:"max_sessions"`

	// SessionLinger is how long a finished session stays available
	// before it is torn down.
	SessionLinger time.Duration `yaml:"session_linger"`
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	Enabled      bool   `yaml:"enabled"`
	TokenEnv     string `yaml:"token_env"` // Env var name for the bot token
	Channel      string `yaml:"channel"`   // Channel ID, e.g. C12345678
	DashboardURL string `yaml:"dashboard_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Upstream:  DefaultUpstreamConfig(),
		Playback:  DefaultPlaybackConfig(),
		Server:    DefaultServerConfig(),
		Retention: DefaultRetentionConfig(),
		Slack:     DefaultSlackConfig(),
	}
}

// DefaultUpstreamConfig returns the built-in upstream defaults.
func DefaultUpstreamConfig() *UpstreamConfig {
	return &UpstreamConfig{
		BaseURL:           "http://localhost:8000",
		APIKeyEnv:         "VERDICT_API_KEY",
		Chain:             "base",
		Depth:             "full",
		Tier:              "free",
		RequestTimeout:    30 * time.Second,
		MaxStreamErrors:   3,
		ReconnectInitial:  time.Second,
		ReconnectMax:      15 * time.Second,
		StreamIdleTimeout: 45 * time.Second,
		PollInterval:      3 * time.Second,
		PollTimeout:       5 * time.Minute,
	}
}

// DefaultPlaybackConfig returns the built-in pacing.
func DefaultPlaybackConfig() *PlaybackConfig {
	return &PlaybackConfig{
		SpeedMultiplier:       1,
		CachedSpeedMultiplier: timeline.CachedSpeedMultiplier,
		Delays:                timeline.DefaultDelays(),
	}
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		WSWriteTimeout: 10 * time.Second,
		MaxSessions:    100,
		SessionLinger:  10 * time.Minute,
	}
}

// DefaultSlackConfig returns Slack disabled.
func DefaultSlackConfig() *SlackConfig {
	return &SlackConfig{
		TokenEnv:     "SLACK_BOT_TOKEN",
		DashboardURL: "http://localhost:3000",
	}
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// TimelineConfig returns the Director configuration for mode.
func (c *Config) TimelineConfig(mode timeline.Mode) timeline.Config {
	p := c.Playback
	if p == nil {
		p = DefaultPlaybackConfig()
	}
	cfg := timeline.Config{Mode: mode, SpeedMultiplier: p.SpeedMultiplier, Delays: p.Delays}
	if mode == timeline.ModeCached {
		cfg.SpeedMultiplier = p.CachedSpeedMultiplier
	}
	return cfg
}
