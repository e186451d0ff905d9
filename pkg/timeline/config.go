package timeline

import (
	"fmt"
	"time"
)

// Mode selects a pacing preset.
type Mode string

const (
	// ModeLive paces an in-progress scan at full presentation speed.
	ModeLive Mode = "live"
	// ModeCached replays an already finished scan quickly.
	ModeCached Mode = "cached"
)

// CachedSpeedMultiplier scales every delay and hold in cached mode.
const CachedSpeedMultiplier = 0.25

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeLive || m == ModeCached
}

// Delays names each semantic pause of the timeline.
type Delays struct {
	AgentAppear     time.Duration `yaml:"agent_appear"`
	AgentActivate   time.Duration `yaml:"agent_activate"`
	TerminalLine    time.Duration `yaml:"terminal_line"`
	Finding         time.Duration `yaml:"finding"`
	AgentComplete   time.Duration `yaml:"agent_complete"`
	DebateMessage   time.Duration `yaml:"debate_message"`
	PhaseTransition time.Duration `yaml:"phase_transition"`
	ConsensusReveal time.Duration `yaml:"consensus_reveal"`
	ScoreCountUp    time.Duration `yaml:"score_count_up"`
}

// DefaultDelays returns the live presentation delays.
func DefaultDelays() Delays {
	return Delays{
		AgentAppear:     150 * time.Millisecond,
		AgentActivate:   300 * time.Millisecond,
		TerminalLine:    80 * time.Millisecond,
		Finding:         400 * time.Millisecond,
		AgentComplete:   300 * time.Millisecond,
		DebateMessage:   1200 * time.Millisecond,
		PhaseTransition: 800 * time.Millisecond,
		ConsensusReveal: 1500 * time.Millisecond,
		ScoreCountUp:    2000 * time.Millisecond,
	}
}

// Config controls Director pacing.
type Config struct {
	Mode            Mode
	SpeedMultiplier float64
	Delays          Delays
}

// LiveConfig returns the live preset.
func LiveConfig() Config {
	return Config{Mode: ModeLive, SpeedMultiplier: 1, Delays: DefaultDelays()}
}

// CachedConfig returns the cached replay preset.
func CachedConfig() Config {
	return Config{Mode: ModeCached, SpeedMultiplier: CachedSpeedMultiplier, Delays: DefaultDelays()}
}

// PresetConfig returns the preset for mode.
func PresetConfig(mode Mode) (Config, error) {
	switch mode {
	case ModeLive:
		return LiveConfig(), nil
	case ModeCached:
		return CachedConfig(), nil
	default:
		return Config{}, fmt.Errorf("unknown playback mode %q", mode)
	}
}

// Validate checks that the configuration can drive a Director.
func (c Config) Validate() error {
	if !c.Mode.IsValid() {
		return fmt.Errorf("unknown playback mode %q", c.Mode)
	}
	if c.SpeedMultiplier <= 0 {
		return fmt.Errorf("speed multiplier must be positive, got %v", c.SpeedMultiplier)
	}
	d := c.Delays
	for name, v := range map[string]time.Duration{
		"agent_appear":     d.AgentAppear,
		"agent_activate":   d.AgentActivate,
		"terminal_line":    d.TerminalLine,
		"finding":          d.Finding,
		"agent_complete":   d.AgentComplete,
		"debate_message":   d.DebateMessage,
		"phase_transition": d.PhaseTransition,
		"consensus_reveal": d.ConsensusReveal,
		"score_count_up":   d.ScoreCountUp,
	} {
		if v < 0 {
			return fmt.Errorf("delay %s must not be negative", name)
		}
	}
	return nil
}

// Scale applies the speed multiplier to d.
func (c Config) Scale(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	m := c.SpeedMultiplier
	if m <= 0 {
		m = 1
	}
	return time.Duration(float64(d) * m)
}
