// Package tui renders a scan timeline in the terminal. The model consumes
// published frames from a channel and switches to a static report view
// once the scan completes.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/verdictswarm/director/pkg/timeline"
)

const (
	countUpInterval  = 50 * time.Millisecond
	defaultWidth     = 80
	maxTerminalLines = 12
)

// FrameMsg carries a newly published frame.
type FrameMsg struct {
	Frame timeline.Frame
}

// DoneMsg reports that the frame source is exhausted. Err is set when the
// scan could not be watched to the end.
type DoneMsg struct {
	Err error
}

type countUpMsg time.Time

// Option configures a Model.
type Option func(*Model)

// WithSkip sets the function called when the user asks to skip to the end.
func WithSkip(fn func()) Option {
	return func(m *Model) { m.skip = fn }
}

// WithCountUp sets how long the final score takes to count up after the
// reveal. Zero shows the score at once.
func WithCountUp(d time.Duration) Option {
	return func(m *Model) { m.countUp = d }
}

// WithTitle replaces the header title.
func WithTitle(title string) Option {
	return func(m *Model) { m.title = title }
}

// Model is the bubbletea model for the scan viewer.
type Model struct {
	title  string
	frames <-chan timeline.Frame
	skip   func()
	keys   KeyMap

	frame timeline.Frame

	spinner  spinner.Model
	progress progress.Model

	// Score count-up state.
	countUp     time.Duration
	revealed    bool
	revealStart time.Time
	shownScore  float64

	showFindings bool
	width        int
	height       int

	done     bool
	err      error
	quitting bool
}

// NewModel creates a viewer fed by frames. A closed channel ends playback.
func NewModel(frames <-chan timeline.Frame, opts ...Option) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		title:    "VerdictSwarm",
		frames:   frames,
		keys:     DefaultKeyMap(),
		frame:    timeline.NewFrame(),
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		countUp:  timeline.DefaultDelays().ScoreCountUp,
		width:    defaultWidth,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.progress.Width = progressWidth(m.width)
	return m
}

// Frame returns the last frame received.
func (m Model) Frame() timeline.Frame {
	return m.frame
}

// Err returns the error the frame source ended with, if any.
func (m Model) Err() error {
	return m.err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForFrame(m.frames),
		m.spinner.Tick,
		tea.SetWindowTitle(m.title),
	)
}

// waitForFrame returns a Cmd that waits for the next frame on the channel.
func waitForFrame(ch <-chan timeline.Frame) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return DoneMsg{}
		}
		return FrameMsg{Frame: f}
	}
}

func countUpTick() tea.Cmd {
	return tea.Tick(countUpInterval, func(t time.Time) tea.Msg {
		return countUpMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = progressWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Skip):
			if m.skip != nil && !m.frame.IsComplete {
				m.skip()
			}
		case key.Matches(msg, m.keys.Details):
			m.showFindings = !m.showFindings
		}
		return m, nil

	case FrameMsg:
		m.frame = msg.Frame
		cmds := []tea.Cmd{waitForFrame(m.frames)}
		if cmd := m.startCountUp(); cmd != nil {
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, nil

	case countUpMsg:
		return m, m.advanceCountUp(time.Time(msg))

	case spinner.TickMsg:
		if m.frame.IsComplete || m.frame.Phase.IsTerminal() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) startCountUp() tea.Cmd {
	if m.revealed || !m.frame.ScoreRevealed || m.frame.FinalScore == nil {
		return nil
	}
	m.revealed = true
	if m.countUp <= 0 {
		m.shownScore = *m.frame.FinalScore
		return nil
	}
	m.revealStart = time.Now()
	return countUpTick()
}

func (m *Model) advanceCountUp(now time.Time) tea.Cmd {
	if !m.revealed || m.frame.FinalScore == nil {
		return nil
	}
	final := *m.frame.FinalScore
	elapsed := now.Sub(m.revealStart)
	if elapsed >= m.countUp || m.frame.IsComplete {
		m.shownScore = final
		return nil
	}
	m.shownScore = final * float64(elapsed) / float64(m.countUp)
	return countUpTick()
}

func progressWidth(total int) int {
	return max(10, min(total-4, 60))
}
