package timeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/verdictswarm/director/pkg/events"
)

type stage int

const (
	stageIdle    stage = iota // nothing dequeued
	stagePending              // current dequeued, waiting its delay
	stageHolding              // current applied, waiting its hold
)

// Stats reports Director counters.
type Stats struct {
	EventsPushed   int `json:"events_pushed"`
	EventsIgnored  int `json:"events_ignored"`
	ActionsQueued  int `json:"actions_queued"`
	ActionsApplied int `json:"actions_applied"`
	QueueLen       int `json:"queue_len"`
}

// Option configures a Director.
type Option func(*Director)

// WithClock replaces the real clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(d *Director) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Director) { d.logger = l }
}

// WithOnComplete registers fn to run once, with the first published frame
// whose IsComplete is true.
func WithOnComplete(fn func(Frame)) Option {
	return func(d *Director) { d.onComplete = fn }
}

// WithOnOnchain registers fn to run whenever a published frame carries a
// new on-chain transaction.
func WithOnOnchain(fn func(Frame)) Option {
	return func(d *Director) { d.onOnchain = fn }
}

// Director replays raw scan events as a paced sequence of frames.
//
// Events are mapped to actions and queued in arrival order. A single
// pacing loop applies one action at a time: it waits the action's delay,
// applies it, publishes the new frame, then waits the hold before taking
// the next action. Only one timer is outstanding at any time.
//
// Push may be called from any goroutine. Frames are published in apply
// order; hooks and subscribers run outside the state lock.
type Director struct {
	cfg    Config
	mapper *Mapper
	bridge *Bridge
	clock  Clock
	logger *slog.Logger

	onComplete func(Frame)
	onOnchain  func(Frame)

	// flushMu is taken before mu is released so frames leave in the order
	// they were produced.
	flushMu sync.Mutex

	mu        sync.Mutex
	frame     Frame
	queue     []Action
	current   Action
	stage     stage
	running   bool
	timer     Timer
	gen       uint64
	destroyed bool
	outbox    []func()

	stats            Stats
	completeNotified bool
	lastOnchain      string
}

// NewDirector creates a Director starting from the empty frame.
func NewDirector(cfg Config, opts ...Option) *Director {
	if cfg.SpeedMultiplier <= 0 {
		cfg.SpeedMultiplier = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeLive
	}
	frame := NewFrame()
	frame.IsCached = cfg.Mode == ModeCached

	d := &Director{
		cfg:    cfg,
		mapper: NewMapper(cfg.Delays),
		clock:  RealClock{},
		logger: slog.Default().With("component", "timeline-director"),
		frame:  frame,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.bridge = NewBridge(frame)
	return d
}

// Config returns the pacing configuration.
func (d *Director) Config() Config {
	return d.cfg
}

// Push maps ev to actions and queues them. Events that map to no actions
// leave the director untouched. Push is a no-op after Destroy.
func (d *Director) Push(ev events.RawEvent) {
	actions := d.mapper.Map(ev)

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.stats.EventsPushed++
	if len(actions) == 0 {
		d.stats.EventsIgnored++
		d.mu.Unlock()
		d.logger.Debug("Ignoring event with no actions", "type", ev.Type)
		return
	}

	d.queue = append(d.queue, actions...)
	d.stats.ActionsQueued += len(actions)
	d.frame.IsPlaying = true
	d.publishLocked()

	if !d.running {
		d.running = true
		d.runLocked()
	}
	d.unlockAndFlush()
}

// SkipToEnd cancels the pending timer and applies every remaining action
// immediately, then publishes the final frame once.
func (d *Director) SkipToEnd() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.skipLocked()
	d.unlockAndFlush()
}

// Destroy skips to the end and drops every subscriber. Later calls to Push
// are ignored and no timer fires afterwards.
func (d *Director) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.skipLocked()
	d.destroyed = true
	d.unlockAndFlush()
	d.bridge.Close()
}

func (d *Director) skipLocked() {
	d.cancelTimerLocked()
	if d.stage == stagePending {
		d.applyLocked(d.current)
	}
	for _, a := range d.queue {
		d.applyLocked(a)
	}
	d.queue = nil
	d.current = Action{}
	d.stage = stageIdle
	d.running = false
	d.frame.IsPlaying = false
	d.frame.Progress = 1
	d.publishLocked()
}

// Frame returns a clone of the live frame.
func (d *Director) Frame() Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame.Clone()
}

// Subscribe delivers the latest published frame to fn, then every later
// one. See Bridge for the callback rules.
func (d *Director) Subscribe(fn func(Frame)) (unsubscribe func()) {
	return d.bridge.Subscribe(fn)
}

// QueueLen returns the number of actions waiting to be dequeued.
func (d *Director) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Stats returns a snapshot of the counters.
func (d *Director) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.QueueLen = len(d.queue)
	return s
}

// IsDestroyed reports whether Destroy has been called.
func (d *Director) IsDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// runLocked advances the pacing loop until it has to wait or the queue is
// drained. Zero waits are taken synchronously.
func (d *Director) runLocked() {
	for {
		switch d.stage {
		case stageIdle:
			if len(d.queue) == 0 {
				d.running = false
				d.frame.IsPlaying = false
				d.frame.Progress = 1
				d.publishLocked()
				return
			}
			d.current = d.queue[0]
			d.queue[0] = Action{}
			d.queue = d.queue[1:]
			d.stage = stagePending
			if wait := d.cfg.Scale(d.current.Delay); wait > 0 {
				d.scheduleLocked(wait)
				return
			}

		case stagePending:
			d.applyLocked(d.current)
			d.publishLocked()
			d.stage = stageHolding
			if wait := d.cfg.Scale(d.current.Hold); wait > 0 {
				d.scheduleLocked(wait)
				return
			}

		case stageHolding:
			d.current = Action{}
			d.stage = stageIdle
		}
	}
}

func (d *Director) scheduleLocked(wait time.Duration) {
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(wait, func() { d.onTimer(gen) })
}

func (d *Director) onTimer(gen uint64) {
	d.mu.Lock()
	if d.destroyed || gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.runLocked()
	d.unlockAndFlush()
}

func (d *Director) cancelTimerLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Director) applyLocked(a Action) {
	d.frame = Apply(d.frame, a)
	d.stats.ActionsApplied++
	if d.stats.ActionsQueued > 0 {
		p := float64(d.stats.ActionsApplied) / float64(d.stats.ActionsQueued)
		if p > d.frame.Progress {
			d.frame.Progress = min(p, 1)
		}
	}
}

// publishLocked snapshots the live frame for delivery after mu is
// released, along with any hooks the new frame triggers.
func (d *Director) publishLocked() {
	snap := d.frame.Clone()
	d.outbox = append(d.outbox, func() { d.bridge.Publish(snap) })

	if snap.IsComplete && !d.completeNotified {
		d.completeNotified = true
		if d.onComplete != nil {
			fn := d.onComplete
			done := snap.Clone()
			d.outbox = append(d.outbox, func() { fn(done) })
		}
	}
	if tx := snap.OnchainTx; tx != nil && tx.Signature != d.lastOnchain {
		d.lastOnchain = tx.Signature
		if d.onOnchain != nil {
			fn := d.onOnchain
			withTx := snap.Clone()
			d.outbox = append(d.outbox, func() { fn(withTx) })
		}
	}
}

func (d *Director) unlockAndFlush() {
	out := d.outbox
	d.outbox = nil
	d.flushMu.Lock()
	d.mu.Unlock()
	defer d.flushMu.Unlock()
	for _, fn := range out {
		fn()
	}
}
