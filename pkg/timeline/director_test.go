package timeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictswarm/director/pkg/events"
)

func TestDirector_HappyPath(t *testing.T) {
	h := newHarness(t, LiveConfig())

	h.push(scanStart(t, agentInfo("a", "security"), agentInfo("b", "tokenomics")))

	// Token and phase apply at once; the agents are still queued.
	f := h.d.Frame()
	assert.Equal(t, PhaseScanning, f.Phase)
	assert.True(t, f.IsPlaying)
	assert.Empty(t, f.AgentOrder)
	assert.Equal(t, 4, h.d.QueueLen())
	require.NotNil(t, f.Token)
	assert.Equal(t, testAddress, f.Token.Address)

	// Phase hold, start log line, then the first staggered appearance.
	d := DefaultDelays()
	h.clock.Advance(d.PhaseTransition + d.TerminalLine + d.AgentAppear)
	assert.Equal(t, []string{"a"}, h.d.Frame().AgentOrder)
	h.clock.Advance(d.AgentAppear)
	assert.Equal(t, []string{"a", "b"}, h.d.Frame().AgentOrder)

	h.drain()
	h.push(agentRun(t, "a", 6)...)
	h.push(agentRun(t, "b", 8)...)
	h.push(scanComplete(t, 73, "B", nil))
	h.drain()

	f = h.last()
	assert.Equal(t, PhaseComplete, f.Phase)
	require.NotNil(t, f.Result)
	assert.InDelta(t, 73, f.Result.Score, 1e-9)
	assert.Equal(t, "B", f.Result.Grade)
	assert.Empty(t, f.ActiveAgentID)
	assert.True(t, f.IsComplete)
	assert.False(t, f.IsPlaying)
	assert.InDelta(t, 1.0, f.Progress, 1e-9)
	require.NotNil(t, f.FinalScore)
	assert.True(t, f.ScoreRevealed)
	for _, id := range []string{"a", "b"} {
		assert.Equal(t, AgentComplete, f.Agents[id].Status)
		assert.True(t, f.Agents[id].ScoreRevealed)
	}
	assert.Equal(t, f, h.d.Frame())
}

func TestDirector_Ordering(t *testing.T) {
	h := newHarness(t, LiveConfig())
	h.push(happyPath(t)...)
	h.drain()

	frames := h.published()
	phases := make([]Phase, 0, len(frames))
	var statuses []AgentStatus
	for i, f := range frames {
		phases = append(phases, f.Phase)
		if a := f.Agents["a"]; a != nil {
			statuses = append(statuses, a.Status)
		}
		if i > 0 {
			// One action per publish: the log never grows by more than a line.
			assert.LessOrEqual(t, len(f.TerminalLines)-len(frames[i-1].TerminalLines), 1)
		}
	}
	assert.Equal(t, []Phase{PhaseIdle, PhaseInitializing, PhaseScanning, PhaseComplete}, compress(phases))
	assert.Equal(t, []AgentStatus{AgentWaiting, AgentActive, AgentComplete}, compress(statuses))

	// Lines appear in the order their events arrived.
	var texts []string
	for _, l := range h.last().TerminalLines {
		texts = append(texts, l.Text)
	}
	assert.Equal(t, "Classifying token", texts[0])
	assert.Equal(t, "[A] Starting analysis", texts[3])
	assert.Equal(t, "[A] looking at a", texts[4])
	assert.Equal(t, "[A] Analysis complete", texts[5])
	assert.Equal(t, "[B] Starting analysis", texts[6])
}

func TestDirector_BoundedLog(t *testing.T) {
	h := newHarness(t, CachedConfig())
	h.push(scanStart(t, agentInfo("a", "security")))
	for i := range 60 {
		h.push(rawEvent(t, events.EventTypeAgentThinking, events.AgentThinkingPayload{
			AgentID: "a", AgentName: "A", Message: fmt.Sprintf("thought %d", i),
		}))
	}
	h.drain()

	for _, f := range h.published() {
		require.LessOrEqual(t, len(f.TerminalLines), MaxTerminalLines)
	}
	lines := h.last().TerminalLines
	require.Len(t, lines, MaxTerminalLines)
	// 2 scan lines + 60 thoughts were written; the first 12 are gone.
	assert.Equal(t, "[A] thought 10", lines[0].Text)
	assert.Equal(t, "[A] thought 59", lines[len(lines)-1].Text)
	assert.Equal(t, "#aaa", lines[0].Color)
}

func TestDirector_IdempotentAgentCreation(t *testing.T) {
	h := newHarness(t, LiveConfig())

	require.NotPanics(t, func() {
		h.push(rawEvent(t, events.EventTypeAgentStart, events.AgentStartPayload{AgentID: "SecurityBot"}))
	})
	h.drain()

	f := h.d.Frame()
	require.Len(t, f.AgentOrder, 1)
	ag := f.Agents["SecurityBot"]
	require.NotNil(t, ag)
	assert.Equal(t, AgentActive, ag.Status)
	assert.True(t, ag.Synthesized)
	assert.Equal(t, "Security", ag.DisplayName)
	assert.Equal(t, "#FF6B6B", ag.Color)
	assert.Equal(t, "SecurityBot", f.ActiveAgentID)

	// A late appearance refreshes display metadata but keeps the state.
	late := events.AgentInfo{ID: "SecurityBot", Name: "SecurityBot", DisplayName: "Sec", Icon: "S", Color: "#123456", Category: "Safety"}
	h.push(scanStart(t, late))
	h.drain()

	f = h.d.Frame()
	require.Len(t, f.AgentOrder, 1)
	require.Len(t, f.Agents, 1)
	ag = f.Agents["SecurityBot"]
	assert.Equal(t, AgentActive, ag.Status)
	assert.Equal(t, "#123456", ag.Color)
	assert.Equal(t, "Sec", ag.DisplayName)
	assert.False(t, ag.Synthesized)

	// A further appearance is a plain no-op.
	again := late
	again.Color = "#000000"
	h.push(scanStart(t, again))
	h.drain()
	assert.Equal(t, "#123456", h.d.Frame().Agents["SecurityBot"].Color)
}

func TestDirector_SnapshotIsolation(t *testing.T) {
	h := newHarness(t, LiveConfig())

	h.d.Subscribe(func(f Frame) {
		if a := f.Agents["a"]; a != nil {
			a.Status = "hacked"
			a.Findings = append(a.Findings, Finding{Message: "hacked"})
		}
		if len(f.TerminalLines) > 0 {
			f.TerminalLines[0].Text = "hacked"
		}
		if f.Token != nil {
			f.Token.Name = "hacked"
		}
		if f.Result != nil {
			f.Result.Grade = "hacked"
		}
		f.AgentOrder = append(f.AgentOrder[:0], "hacked")
	})
	var second []Frame
	h.d.Subscribe(func(f Frame) { second = append(second, f) })

	h.push(happyPath(t)...)
	h.drain()

	check := func(f Frame) {
		if a := f.Agents["a"]; a != nil {
			assert.NotEqual(t, AgentStatus("hacked"), a.Status)
			for _, fd := range a.Findings {
				assert.NotEqual(t, "hacked", fd.Message)
			}
		}
		for _, l := range f.TerminalLines {
			assert.NotEqual(t, "hacked", l.Text)
		}
		if f.Token != nil {
			assert.NotEqual(t, "hacked", f.Token.Name)
		}
		if f.Result != nil {
			assert.NotEqual(t, "hacked", f.Result.Grade)
		}
		assert.NotContains(t, f.AgentOrder, "hacked")
	}
	require.NotEmpty(t, second)
	for _, f := range second {
		check(f)
	}
	for _, f := range h.published() {
		check(f)
	}
	check(h.d.Frame())
}

func TestDirector_MonotonicProgress(t *testing.T) {
	h := newHarness(t, LiveConfig())

	evs := happyPath(t)
	// Interleave pushes with partial playback so the queue keeps growing.
	for i, ev := range evs {
		h.push(ev)
		h.clock.Advance(time.Duration(i*37) * time.Millisecond)
	}
	h.drain()

	prev := 0.0
	for _, f := range h.published() {
		assert.GreaterOrEqual(t, f.Progress, prev)
		assert.LessOrEqual(t, f.Progress, 1.0)
		prev = f.Progress
	}
	assert.Equal(t, 1.0, h.last().Progress)
}

func TestDirector_SkipToEndProgress(t *testing.T) {
	h := newHarness(t, LiveConfig())
	h.push(happyPath(t)...)
	h.clock.Advance(500 * time.Millisecond)
	assert.Less(t, h.d.Frame().Progress, 1.0)

	h.d.SkipToEnd()
	f := h.last()
	assert.Equal(t, 1.0, f.Progress)
	assert.False(t, f.IsPlaying)
	assert.Equal(t, PhaseComplete, f.Phase)
}

func TestDirector_FindingsFolding(t *testing.T) {
	h := newHarness(t, CachedConfig())
	h.push(scanStart(t, agentInfo("a", "security"), agentInfo("b", "tokenomics")))
	h.push(agentRun(t, "a", 6, "f1")...)
	h.push(agentRun(t, "b", 8, "f2")...)
	h.push(scanComplete(t, 7, "B", map[string]events.CategoryBreakdown{
		"security": {Score: 6, Findings: []events.Finding{{Severity: events.SeverityInfo, Message: "f0"}}},
	}))
	h.drain()

	r := h.last().Result
	require.NotNil(t, r)
	messages := func(cat string) []string {
		var out []string
		for _, f := range r.Breakdown[cat].Findings {
			out = append(out, f.Message)
		}
		return out
	}
	require.Contains(t, r.Breakdown, "security")
	require.Contains(t, r.Breakdown, "tokenomics")
	assert.Equal(t, []string{"f0", "f1"}, messages("security"))
	assert.Equal(t, []string{"f2"}, messages("tokenomics"))
	assert.Equal(t, []string{"security", "tokenomics"}, r.CategoryOrder)
	require.NotNil(t, r.Breakdown["tokenomics"].Score)
	assert.InDelta(t, 8, *r.Breakdown["tokenomics"].Score, 1e-9)
}

func TestDirector_DebateRoundTrip(t *testing.T) {
	h := newHarness(t, LiveConfig())
	h.push(scanStart(t, agentInfo("a", "security"), agentInfo("b", "tokenomics")))
	h.push(agentRun(t, "a", 6)...)
	h.push(agentRun(t, "b", 8)...)
	h.drain()

	h.push(rawEvent(t, events.EventTypeDebateStart, events.DebateStartPayload{
		Agents: []string{"a", "b"}, Topic: "liquidity risk",
	}))
	h.drain()

	f := h.d.Frame()
	assert.Equal(t, PhaseDebating, f.Phase)
	assert.Equal(t, AgentDebating, f.Agents["a"].Status)
	assert.Equal(t, AgentDebating, f.Agents["b"].Status)
	require.NotNil(t, f.Debate)
	assert.Equal(t, "liquidity risk", f.Debate.Topic)
	assert.Empty(t, f.Debate.Messages)
	assert.False(t, f.Debate.Resolved)

	h.push(
		rawEvent(t, events.EventTypeDebateMessage, events.DebateMessagePayload{
			From: "b", FromName: "B", TargetAgent: "a", Message: "liquidity is unlocked",
			Round: 1, Stance: events.StanceChallenge, Phase: events.DebatePhaseChallenge,
		}),
		rawEvent(t, events.EventTypeDebateMessage, events.DebateMessagePayload{
			From: "a", FromName: "A", TargetAgent: "b", Message: "fair, raising my score",
			Round: 1, Stance: events.StanceConcede, Phase: events.DebatePhaseDefense,
			ScoreAdjustment: &events.ScoreAdjustment{AgentID: "a", From: 6.0, To: 7.5},
		}),
	)
	d := DefaultDelays()
	h.clock.Advance(2 * (d.DebateMessage + d.TerminalLine))

	// The adjustment lands with its message, before the debate resolves.
	f = h.d.Frame()
	require.Len(t, f.Debate.Messages, 2)
	require.NotNil(t, f.Agents["a"].Score)
	assert.InDelta(t, 7.5, *f.Agents["a"].Score, 1e-9)
	assert.False(t, f.Debate.Resolved)

	h.push(rawEvent(t, events.EventTypeDebateResolved, events.DebateResolvedPayload{
		Outcome: events.OutcomeCompromise, Resolution: "meet in the middle", Confidence: 0.7,
	}))
	h.drain()

	f = h.last()
	assert.Equal(t, AgentComplete, f.Agents["a"].Status)
	assert.Equal(t, AgentComplete, f.Agents["b"].Status)
	assert.InDelta(t, 7.5, *f.Agents["a"].Score, 1e-9)
	assert.InDelta(t, 8.0, *f.Agents["b"].Score, 1e-9)
	require.NotNil(t, f.Debate)
	assert.True(t, f.Debate.Resolved)
	assert.Equal(t, events.OutcomeCompromise, f.Debate.Outcome)
	assert.Equal(t, PhaseScanning, f.Phase)
}

func TestDirector_UnknownEventResilience(t *testing.T) {
	first := scanStart(t, agentInfo("a", "security"))
	second := rawEvent(t, events.EventTypeAgentStart, events.AgentStartPayload{AgentID: "a", AgentName: "A"})
	unknown := events.RawEvent{Type: "totally:unknown", Data: []byte(`{"x":1}`), Timestamp: 5}

	with := newHarness(t, LiveConfig())
	with.push(first, unknown, second)
	without := newHarness(t, LiveConfig())
	without.push(first, second)

	assert.Equal(t, without.d.QueueLen(), with.d.QueueLen())
	assert.Equal(t, without.d.Frame(), with.d.Frame())
	assert.Equal(t, len(without.published()), len(with.published()))

	with.drain()
	without.drain()
	assert.Equal(t, without.d.Frame(), with.d.Frame())
	assert.Equal(t, 1, with.d.Stats().EventsIgnored)
}

func TestDirector_LateOnchain(t *testing.T) {
	var completed, onchain []Frame
	h := newHarness(t, LiveConfig(),
		WithOnComplete(func(f Frame) { completed = append(completed, f) }),
		WithOnOnchain(func(f Frame) { onchain = append(onchain, f) }),
	)
	h.push(happyPath(t)...)
	h.drain()

	before := h.d.Frame()
	require.NotNil(t, before.Result)
	require.Len(t, completed, 1)
	assert.Empty(t, onchain)

	h.clock.Advance(30 * time.Second)
	h.push(rawEvent(t, events.EventTypeVerdictOnchain, events.OnchainPayload{
		TxSignature: "5xSig", Network: "devnet", ExplorerURL: "https://explorer.solana.com/tx/5xSig?cluster=devnet",
	}))
	h.drain()

	after := h.d.Frame()
	assert.Equal(t, PhaseComplete, after.Phase)
	assert.Equal(t, before.Result, after.Result)
	require.NotNil(t, after.OnchainTx)
	assert.Equal(t, "5xSig", after.OnchainTx.Signature)
	assert.Equal(t, 1.0, after.Progress)

	assert.Len(t, completed, 1, "completion hook fires once")
	require.Len(t, onchain, 1)
	assert.Equal(t, "5xSig", onchain[0].OnchainTx.Signature)
}

func TestDirector_TeardownSafety(t *testing.T) {
	evs := happyPath(t)

	h := newHarness(t, LiveConfig())
	h.push(evs...)
	h.clock.Advance(time.Second)
	require.Positive(t, h.d.QueueLen())
	require.Equal(t, 1, h.clock.Pending())

	before := len(h.published())
	h.d.SkipToEnd()
	assert.Len(t, h.published(), before+1, "skip publishes once")
	assert.Zero(t, h.clock.Pending())
	assert.Zero(t, h.d.QueueLen())

	after := len(h.published())
	assert.Zero(t, h.clock.RunAll(1000))
	h.clock.Advance(time.Hour)
	assert.Len(t, h.published(), after, "no publish after skip")

	ref := NewDirector(LiveConfig(), WithClock(NewManualClock()))
	for _, ev := range evs {
		ref.Push(ev)
	}
	ref.SkipToEnd()
	assert.Equal(t, ref.Frame(), h.d.Frame())
}

func TestDirector_Destroy(t *testing.T) {
	h := newHarness(t, LiveConfig())
	h.push(happyPath(t)...)
	h.clock.Advance(300 * time.Millisecond)

	before := len(h.published())
	h.d.Destroy()
	assert.Len(t, h.published(), before+1)
	assert.True(t, h.d.IsDestroyed())
	final := h.d.Frame()
	assert.Equal(t, PhaseComplete, final.Phase)

	h.push(rawEvent(t, events.EventTypeVerdictOnchain, events.OnchainPayload{TxSignature: "late"}))
	h.d.SkipToEnd()
	h.d.Destroy()
	h.clock.Advance(time.Hour)
	assert.Len(t, h.published(), before+1)
	assert.Equal(t, final, h.d.Frame())
	assert.Zero(t, h.clock.Pending())

	var got []Frame
	unsubscribe := h.d.Subscribe(func(f Frame) { got = append(got, f) })
	unsubscribe()
	require.Len(t, got, 1)
	assert.Equal(t, PhaseComplete, got[0].Phase)
}

func TestDirector_CachedPacing(t *testing.T) {
	h := newHarness(t, CachedConfig())
	assert.True(t, h.d.Frame().IsCached)

	h.push(scanStart(t, agentInfo("a", "security")))
	// Phase hold is 800ms live, 200ms cached; the log line delay 80ms/20ms.
	h.clock.Advance(199 * time.Millisecond)
	assert.Empty(t, h.d.Frame().TerminalLines)
	h.clock.Advance(1 * time.Millisecond)
	assert.Empty(t, h.d.Frame().TerminalLines)
	h.clock.Advance(20 * time.Millisecond)
	assert.Len(t, h.d.Frame().TerminalLines, 1)

	h.drain()
	assert.True(t, h.last().IsCached)
}

func TestDirector_AgentErrors(t *testing.T) {
	h := newHarness(t, CachedConfig())
	h.push(scanStart(t, agentInfo("a", "security"), agentInfo("b", "tokenomics")))
	no := false
	h.push(
		rawEvent(t, events.EventTypeAgentStart, events.AgentStartPayload{AgentID: "a"}),
		rawEvent(t, events.EventTypeAgentError, events.AgentErrorPayload{AgentID: "a", Message: "rate limited"}),
		rawEvent(t, events.EventTypeAgentStart, events.AgentStartPayload{AgentID: "b"}),
		rawEvent(t, events.EventTypeAgentError, events.AgentErrorPayload{AgentID: "b", Message: "crashed", Recoverable: &no}),
		rawEvent(t, events.EventTypeAgentFinding, events.AgentFindingPayload{AgentID: "b", Severity: "critical", Message: "ignored"}),
	)
	h.drain()

	f := h.d.Frame()
	assert.Equal(t, AgentActive, f.Agents["a"].Status)
	assert.Equal(t, AgentError, f.Agents["b"].Status)
	assert.Empty(t, f.Agents["b"].Findings)
	assert.Empty(t, f.ActiveAgentID)
	assert.Equal(t, PhaseScanning, f.Phase)

	var types []LineType
	for _, l := range f.TerminalLines {
		types = append(types, l.Type)
	}
	assert.Contains(t, types, LineWarning)
	assert.Contains(t, types, LineError)
}

func TestDirector_ScanError(t *testing.T) {
	tests := []struct {
		name string
		code string
		want Phase
	}{
		{name: "timeout", code: events.ErrorCodeTimeout, want: PhaseTimeout},
		{name: "rate limit", code: events.ErrorCodeRateLimit, want: PhaseError},
		{name: "api error", code: events.ErrorCodeAPIError, want: PhaseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, LiveConfig())
			h.push(scanStart(t, agentInfo("a", "security")))
			h.push(rawEvent(t, events.EventTypeScanError, events.ScanErrorPayload{Message: "boom", Code: tt.code}))
			h.drain()

			f := h.last()
			assert.Equal(t, tt.want, f.Phase)
			require.NotNil(t, f.Error)
			assert.Equal(t, "boom", f.Error.Message)
			assert.Equal(t, tt.code, f.Error.Code)
			assert.False(t, f.IsComplete)
		})
	}
}

func TestDirector_RealClock(t *testing.T) {
	cfg := LiveConfig()
	cfg.SpeedMultiplier = 0.001
	done := make(chan Frame, 1)
	d := NewDirector(cfg, WithOnComplete(func(f Frame) { done <- f }))
	for _, ev := range happyPath(t) {
		d.Push(ev)
	}

	select {
	case f := <-done:
		assert.Equal(t, PhaseComplete, f.Phase)
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not complete")
	}
	d.Destroy()
}
