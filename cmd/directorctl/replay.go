package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/timeline"
	"github.com/verdictswarm/director/pkg/tui"
)

// maxReplayTimers bounds the manual clock when frames are computed
// without pacing.
const maxReplayTimers = 1 << 20

var replayLive bool

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Replay a recorded scan event log",
	Long: `Replay a JSON-lines event log (one raw event per line, as written by
"watch --record"). Playback uses the cached pacing preset unless --live is
given. "-" reads stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayLive, "live", false, "Use live pacing instead of the cached preset")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	evs, err := readEventLog(args[0])
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return fmt.Errorf("%s contains no events", args[0])
	}

	mode := timeline.ModeCached
	if replayLive {
		mode = timeline.ModeLive
	}
	cfg, err := timeline.PresetConfig(mode)
	if err != nil {
		return err
	}
	if cfg, err = applySpeed(cfg); err != nil {
		return err
	}

	if !interactive() {
		return writeFrames(cmd.OutOrStdout(), replayFrames(evs, cfg))
	}

	d := timeline.NewDirector(cfg)
	defer d.Destroy()
	frames, unsubscribe := frameFeed(d)
	defer unsubscribe()

	model := tui.NewModel(frames, viewerOptions(d, "VerdictSwarm replay")...)
	p := tea.NewProgram(model, tea.WithAltScreen())
	go func() {
		for _, ev := range evs {
			d.Push(ev)
		}
	}()
	_, err = p.Run()
	return err
}

func readEventLog(path string) ([]events.RawEvent, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		defer f.Close()
		r = f
	}
	evs, skipped, err := events.ReadLog(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	if skipped > 0 {
		slog.Warn("Skipped malformed event log lines", "path", path, "skipped", skipped)
	}
	return evs, nil
}

// replayFrames runs evs through a director on a manual clock and returns
// every published frame, starting with the initial empty one.
func replayFrames(evs []events.RawEvent, cfg timeline.Config) []timeline.Frame {
	clock := timeline.NewManualClock()
	d := timeline.NewDirector(cfg, timeline.WithClock(clock))
	defer d.Destroy()

	var frames []timeline.Frame
	unsubscribe := d.Subscribe(func(f timeline.Frame) {
		frames = append(frames, f)
	})
	defer unsubscribe()

	for _, ev := range evs {
		d.Push(ev)
	}
	clock.RunAll(maxReplayTimers)
	return frames
}

func writeFrames(w io.Writer, frames []timeline.Frame) error {
	enc := json.NewEncoder(w)
	for _, f := range frames {
		if err := enc.Encode(f); err != nil {
			return err
		}
	}
	return nil
}
