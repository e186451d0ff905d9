package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/verdictswarm/director/pkg/config"
	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/stream"
	"github.com/verdictswarm/director/pkg/timeline"
	"github.com/verdictswarm/director/pkg/tui"
)

var watchFlags struct {
	upstream string
	address  string
	chain    string
	depth    string
	tier     string
	fresh    bool
	record   string
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a live scan",
	Long: `Open the scan stream of a token on the analysis backend and render the
paced timeline. The API key is read from $VERDICT_API_KEY (a .env file in
the working directory is loaded first).`,
	Example: `  directorctl watch --address 0xabc... --chain base
  directorctl watch --upstream https://api.example.com --address So1... --chain solana --json
  directorctl watch --address 0xabc... --record scan.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	defaults := config.DefaultUpstreamConfig()
	f := watchCmd.Flags()
	f.StringVar(&watchFlags.upstream, "upstream", envOr("VERDICT_API_URL", defaults.BaseURL), "Analysis backend base URL")
	f.StringVar(&watchFlags.address, "address", "", "Token contract address")
	f.StringVar(&watchFlags.chain, "chain", defaults.Chain, "Chain the token lives on")
	f.StringVar(&watchFlags.depth, "depth", defaults.Depth, "Scan depth")
	f.StringVar(&watchFlags.tier, "tier", defaults.Tier, "Scan tier")
	f.BoolVar(&watchFlags.fresh, "fresh", false, "Ask the backend for a fresh scan")
	f.StringVar(&watchFlags.record, "record", "", "Also write the raw events to FILE as JSON lines, for replay")
	_ = watchCmd.MarkFlagRequired("address")
	rootCmd.AddCommand(watchCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runWatch(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	up := config.DefaultUpstreamConfig()
	up.BaseURL = watchFlags.upstream
	client := stream.NewClient(up, os.Getenv(up.APIKeyEnv))
	req := stream.Request{
		Address: watchFlags.address,
		Chain:   watchFlags.chain,
		Depth:   watchFlags.depth,
		Tier:    watchFlags.tier,
		Fresh:   watchFlags.fresh,
	}

	cfg, err := applySpeed(timeline.LiveConfig())
	if err != nil {
		return err
	}
	d := timeline.NewDirector(cfg)
	defer d.Destroy()

	sink := d.Push
	if watchFlags.record != "" {
		rec, err := newEventRecorder(watchFlags.record, d.Push)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				slog.Warn("Failed to close event log", "path", watchFlags.record, "error", err)
			}
		}()
		sink = rec.Push
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !interactive() {
		return watchJSON(ctx, cmd.OutOrStdout(), d, func(ctx context.Context) error {
			return client.Run(ctx, req, sink)
		})
	}

	frames, unsubscribe := frameFeed(d)
	defer unsubscribe()

	model := tui.NewModel(frames, viewerOptions(d, "VerdictSwarm")...)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		err := client.Run(ctx, req, sink)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		p.Send(tui.DoneMsg{Err: err})
	}()

	final, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		return err
	}
	if m, ok := final.(tui.Model); ok && m.Err() != nil {
		return fmt.Errorf("watch %s: %w", req.Address, m.Err())
	}
	return nil
}

// watchJSON runs the scan and prints every published frame as a JSON line.
// It returns once the source has finished and the timeline reached a
// terminal phase.
func watchJSON(ctx context.Context, w io.Writer, d *timeline.Director, run func(context.Context) error) error {
	q := newFrameQueue()
	unsubscribe := d.Subscribe(q.add)
	defer unsubscribe()

	runErr := make(chan error, 1)
	go func() { runErr <- run(ctx) }()

	enc := json.NewEncoder(w)
	var (
		finished bool
		srcErr   error
		terminal bool
	)
	for {
		for _, f := range q.drain() {
			if err := enc.Encode(f); err != nil {
				return err
			}
			terminal = f.Phase.IsTerminal()
		}
		if finished && d.QueueLen() == 0 && (terminal || d.Stats().ActionsQueued == 0) {
			return srcErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case srcErr = <-runErr:
			finished = true
			runErr = nil
		case <-q.wake:
		}
	}
}

// frameQueue buffers frames for a writer without blocking the publisher.
type frameQueue struct {
	mu      sync.Mutex
	pending []timeline.Frame
	wake    chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{wake: make(chan struct{}, 1)}
}

func (q *frameQueue) add(f timeline.Frame) {
	q.mu.Lock()
	q.pending = append(q.pending, f)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *frameQueue) drain() []timeline.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// eventRecorder tees upstream events into a JSON lines log. Write errors
// stop the log but never the watch.
type eventRecorder struct {
	f    *os.File
	lw   *events.LogWriter
	next func(events.RawEvent)

	mu      sync.Mutex
	stopped bool
}

func newEventRecorder(path string, next func(events.RawEvent)) (*eventRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}
	return &eventRecorder{f: f, lw: events.NewLogWriter(f), next: next}, nil
}

func (r *eventRecorder) Push(ev events.RawEvent) {
	r.next(ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if err := r.lw.Write(ev); err != nil {
		r.stopped = true
		slog.Warn("Event log write failed, recording stopped", "error", err)
	}
}

// Close flushes the log. Events pushed afterwards are not recorded.
func (r *eventRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	flushErr := r.lw.Flush()
	closeErr := r.f.Close()
	return errors.Join(flushErr, closeErr)
}
