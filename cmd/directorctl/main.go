// directorctl watches or replays scan timelines in the terminal.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/verdictswarm/director/pkg/timeline"
	"github.com/verdictswarm/director/pkg/tui"
)

var (
	jsonOutput bool
	speed      float64
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "directorctl",
	Short: "Watch multi-agent token scans in the terminal",
	Long: `directorctl renders the paced scan timeline of the VerdictSwarm analysis
backend. Use "watch" to follow a live scan and "replay" to play back a
recorded event log.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print frames as JSON lines instead of the interactive view")
	rootCmd.PersistentFlags().Float64Var(&speed, "speed", 0, "Override the playback speed multiplier")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// interactive reports whether the terminal viewer should be used.
func interactive() bool {
	return !jsonOutput && isatty.IsTerminal(os.Stdout.Fd())
}

// applySpeed applies the --speed override to cfg.
func applySpeed(cfg timeline.Config) (timeline.Config, error) {
	if speed != 0 {
		cfg.SpeedMultiplier = speed
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid playback settings: %w", err)
	}
	return cfg, nil
}

// frameFeed subscribes to d and keeps only the newest unread frame, so a
// slow renderer never holds up the director.
func frameFeed(d *timeline.Director) (<-chan timeline.Frame, func()) {
	ch := make(chan timeline.Frame, 1)
	unsubscribe := d.Subscribe(func(f timeline.Frame) {
		select {
		case <-ch:
		default:
		}
		ch <- f
	})
	return ch, unsubscribe
}

// viewerOptions returns the TUI options for a director.
func viewerOptions(d *timeline.Director, title string) []tui.Option {
	return []tui.Option{
		tui.WithTitle(title),
		tui.WithSkip(d.SkipToEnd),
		tui.WithCountUp(d.Config().Scale(d.Config().Delays.ScoreCountUp)),
	}
}
