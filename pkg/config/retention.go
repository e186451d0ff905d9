package config

import "time"

// RetentionConfig controls how long scan recordings are kept and reused.
type RetentionConfig struct {
	// CacheTTL is how long a finished recording is replayed instead of
	// starting a new live scan of the same token.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// RecordingRetention is the age after which recordings are deleted.
	RecordingRetention time.Duration `yaml:"recording_retention"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CacheTTL:           2 * time.Hour,
		RecordingRetention: 7 * 24 * time.Hour,
		CleanupInterval:    time.Hour,
	}
}
