package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictswarm/director/pkg/timeline"
)

func ptr(f float64) *float64 { return &f }

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func scanningFrame() timeline.Frame {
	f := timeline.NewFrame()
	f.Phase = timeline.PhaseScanning
	f.IsPlaying = true
	f.Progress = 0.4
	f.Token = &timeline.Token{Address: "0x1234567890abcdef", Chain: "base", Name: "PEPE"}
	f.AgentOrder = []string{"technician", "security"}
	f.Agents = map[string]*timeline.AgentState{
		"technician": {ID: "technician", DisplayName: "Technician", Status: timeline.AgentComplete, Score: ptr(7.5), ScoreRevealed: true},
		"security":   {ID: "security", DisplayName: "Security", Status: timeline.AgentActive, Reasoning: "checking mint authority"},
	}
	f.ActiveAgentID = "security"
	f.TerminalLines = []timeline.TerminalLine{
		{ID: "1", Type: timeline.LineSystem, Text: "Scan started"},
		{ID: "2", Type: timeline.LineFinding, Text: "Security: liquidity unlocked"},
	}
	return f
}

func completeFrame() timeline.Frame {
	f := scanningFrame()
	f.Phase = timeline.PhaseComplete
	f.IsPlaying = false
	f.IsComplete = true
	f.Progress = 1
	f.ScoreRevealed = true
	f.FinalScore = ptr(73)
	f.FinalGrade = "B"
	f.ConsensusNarrative = "Moderate risk with unlocked liquidity."
	f.Result = &timeline.ScanResult{
		Score:         73,
		Grade:         "B",
		CategoryOrder: []string{"security", "market"},
		Breakdown: map[string]*timeline.CategoryResult{
			"security": {Score: ptr(6), Findings: []timeline.Finding{{Severity: "high", Message: "liquidity unlocked"}}},
			"market":   {Score: ptr(8)},
			"social":   {},
		},
		DurationMs: 12300,
		AgentCount: 2,
	}
	f.OnchainTx = &timeline.OnchainTx{Signature: "5xSig", Network: "devnet", ExplorerURL: "https://explorer/tx/5xSig"}
	return f
}

func TestModel_LiveView(t *testing.T) {
	m := NewModel(nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, FrameMsg{Frame: scanningFrame()})

	view := m.View()
	assert.Contains(t, view, "PEPE")
	assert.Contains(t, view, "base")
	assert.Contains(t, view, "Agents analyzing")
	assert.Contains(t, view, "1/2 agents done")
	assert.Contains(t, view, "Technician")
	assert.Contains(t, view, "7.5/10")
	assert.Contains(t, view, "checking mint authority")
	assert.Contains(t, view, "liquidity unlocked")
	assert.NotContains(t, view, "Grade")
}

func TestModel_ReportView(t *testing.T) {
	m := NewModel(nil, WithCountUp(0))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, FrameMsg{Frame: completeFrame()})

	view := m.View()
	assert.Contains(t, view, "73/100")
	assert.Contains(t, view, "Grade")
	assert.Contains(t, view, "MEDIUM")
	assert.Contains(t, view, "Moderate risk")
	assert.Contains(t, view, "security")
	assert.Contains(t, view, "social")
	assert.Contains(t, view, "1 findings")
	assert.Contains(t, view, "5xSig")
	assert.Contains(t, view, "12.3s")
	assert.NotContains(t, view, "[high]")

	m, _ = update(t, m, keyMsg("d"))
	assert.Contains(t, m.View(), "[high]")
}

func TestModel_ErrorView(t *testing.T) {
	f := scanningFrame()
	f.Phase = timeline.PhaseError
	f.IsPlaying = false
	f.Error = &timeline.ScanError{Message: "backend exploded", Code: "API_ERROR", Retryable: true}

	m := NewModel(nil)
	m, _ = update(t, m, FrameMsg{Frame: f})

	view := m.View()
	assert.Contains(t, view, "Scan failed")
	assert.Contains(t, view, "backend exploded")
	assert.Contains(t, view, "API_ERROR")

	f.Phase = timeline.PhaseTimeout
	m, _ = update(t, m, FrameMsg{Frame: f})
	assert.Contains(t, m.View(), "Scan timed out")
}

func TestModel_SkipKey(t *testing.T) {
	skips := 0
	m := NewModel(nil, WithSkip(func() { skips++ }))

	m, _ = update(t, m, FrameMsg{Frame: scanningFrame()})
	m, _ = update(t, m, keyMsg("s"))
	assert.Equal(t, 1, skips)

	m, _ = update(t, m, FrameMsg{Frame: completeFrame()})
	_, _ = update(t, m, keyMsg("s"))
	assert.Equal(t, 1, skips, "skip is ignored once complete")
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(nil)
	m, cmd := update(t, m, keyMsg("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

func TestModel_ScoreCountUp(t *testing.T) {
	f := scanningFrame()
	f.Phase = timeline.PhaseConsensus
	f.ScoreRevealed = true
	f.FinalScore = ptr(80)

	m := NewModel(nil, WithCountUp(time.Second))
	m, cmd := update(t, m, FrameMsg{Frame: f})
	require.NotNil(t, cmd)
	assert.True(t, m.revealed)
	assert.Zero(t, m.shownScore)

	m, cmd = update(t, m, countUpMsg(m.revealStart.Add(500*time.Millisecond)))
	assert.NotNil(t, cmd)
	assert.InDelta(t, 40, m.shownScore, 0.001)

	m, cmd = update(t, m, countUpMsg(m.revealStart.Add(2*time.Second)))
	assert.Nil(t, cmd)
	assert.Equal(t, 80.0, m.shownScore)
	assert.Contains(t, m.View(), "80/100")
}

func TestModel_ScoreCountUpDisabled(t *testing.T) {
	f := scanningFrame()
	f.ScoreRevealed = true
	f.FinalScore = ptr(6.4)

	m := NewModel(nil, WithCountUp(0))
	m, _ = update(t, m, FrameMsg{Frame: f})
	assert.Equal(t, 6.4, m.shownScore)
}

func TestModel_Done(t *testing.T) {
	m := NewModel(nil)
	m, _ = update(t, m, DoneMsg{Err: errors.New("analysis backend unavailable")})
	assert.True(t, m.done)
	assert.Contains(t, m.View(), "analysis backend unavailable")
}

func TestWaitForFrame(t *testing.T) {
	ch := make(chan timeline.Frame, 1)
	ch <- scanningFrame()

	msg := waitForFrame(ch)()
	fm, ok := msg.(FrameMsg)
	require.True(t, ok)
	assert.Equal(t, timeline.PhaseScanning, fm.Frame.Phase)

	close(ch)
	assert.Equal(t, DoneMsg{}, waitForFrame(ch)())
	assert.Nil(t, waitForFrame(nil))
}

func TestCategoryNames(t *testing.T) {
	r := completeFrame().Result
	assert.Equal(t, []string{"security", "market", "social"}, categoryNames(r))
}

func TestScoreText(t *testing.T) {
	assert.Equal(t, "7.3/10", scoreText(7.3))
	assert.Equal(t, "10.0/10", scoreText(10))
	assert.Equal(t, "73/100", scoreText(73))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 20))
	assert.Equal(t, "abcdefg…", truncate("abcdefghijkl", 8))
}
