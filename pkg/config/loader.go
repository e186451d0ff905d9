package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file read from the config directory.
const FileName = "director.yaml"

// DirectorYAMLConfig represents the director.yaml file structure
type DirectorYAMLConfig struct {
	Upstream  *UpstreamConfig  `yaml:"upstream"`
	Playback  *PlaybackConfig  `yaml:"playback"`
	Server    *ServerConfig    `yaml:"server"`
	Retention *RetentionConfig `yaml:"retention"`
	Slack     *SlackConfig     `yaml:"slack"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read director.yaml from configDir (built-in defaults if absent)
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML and merge each section over the built-in defaults
//  4. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"upstream", cfg.Upstream.BaseURL,
		"max_sessions", cfg.Server.MaxSessions,
		"cache_ttl", cfg.Retention.CacheTTL,
		"slack_enabled", cfg.Slack.Enabled)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	cfg := Default()
	cfg.configDir = configDir

	var user DirectorYAMLConfig
	if err := loadYAML(filepath.Join(configDir, FileName), &user); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No configuration file found, using built-in defaults", "file", FileName)
			return cfg, nil
		}
		return nil, NewLoadError(FileName, err)
	}

	if err := mergeSection("upstream", cfg.Upstream, user.Upstream); err != nil {
		return nil, err
	}
	if err := mergeSection("playback", cfg.Playback, user.Playback); err != nil {
		return nil, err
	}
	if err := mergeSection("server", cfg.Server, user.Server); err != nil {
		return nil, err
	}
	if err := mergeSection("retention", cfg.Retention, user.Retention); err != nil {
		return nil, err
	}
	if err := mergeSection("slack", cfg.Slack, user.Slack); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeSection copies the non-zero values of user over dst.
func mergeSection[T any](name string, dst, user *T) error {
	if user == nil {
		return nil
	}
	if err := mergo.Merge(dst, user, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}
