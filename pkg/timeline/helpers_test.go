package timeline

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verdictswarm/director/pkg/events"
)

const testAddress = "So11111111111111111111111111111111111111112"

func rawEvent(t *testing.T, typ string, payload any) events.RawEvent {
	t.Helper()
	ev, err := events.NewRawEvent(typ, payload, 1_700_000_000_000)
	require.NoError(t, err)
	return ev
}

func agentInfo(id, category string) events.AgentInfo {
	return events.AgentInfo{
		ID:          id,
		Name:        id,
		DisplayName: strings.ToUpper(id),
		Icon:        "*",
		Color:       "#" + id + id + id,
		Category:    category,
	}
}

func scanStart(t *testing.T, agents ...events.AgentInfo) events.RawEvent {
	t.Helper()
	return rawEvent(t, events.EventTypeScanStart, events.ScanStartPayload{
		TokenAddress: testAddress,
		Chain:        "solana",
		AgentCount:   len(agents),
		Agents:       agents,
	})
}

func agentRun(t *testing.T, id string, score float64, findings ...string) []events.RawEvent {
	t.Helper()
	name := strings.ToUpper(id)
	out := []events.RawEvent{
		rawEvent(t, events.EventTypeAgentStart, events.AgentStartPayload{AgentID: id, AgentName: name}),
		rawEvent(t, events.EventTypeAgentThinking, events.AgentThinkingPayload{AgentID: id, AgentName: name, Message: "looking at " + id}),
	}
	for _, f := range findings {
		out = append(out, rawEvent(t, events.EventTypeAgentFinding, events.AgentFindingPayload{
			AgentID: id, AgentName: name, Severity: events.SeverityWarning, Message: f,
		}))
	}
	out = append(out,
		rawEvent(t, events.EventTypeAgentScore, events.AgentScorePayload{AgentID: id, Score: score, Confidence: 0.9}),
		rawEvent(t, events.EventTypeAgentComplete, events.AgentCompletePayload{AgentID: id, AgentName: name}),
	)
	return out
}

func scanComplete(t *testing.T, score float64, grade string, breakdown map[string]events.CategoryBreakdown) events.RawEvent {
	t.Helper()
	return rawEvent(t, events.EventTypeScanComplete, events.ScanCompletePayload{
		Score:      score,
		Grade:      grade,
		Breakdown:  breakdown,
		AgentCount: 2,
	})
}

func happyPath(t *testing.T) []events.RawEvent {
	t.Helper()
	evs := []events.RawEvent{
		rawEvent(t, events.EventTypePreprocessStart, events.PreprocessStartPayload{Message: "Classifying token"}),
		scanStart(t, agentInfo("a", "security"), agentInfo("b", "tokenomics")),
	}
	evs = append(evs, agentRun(t, "a", 6)...)
	evs = append(evs, agentRun(t, "b", 8)...)
	return append(evs, scanComplete(t, 73, "B", nil))
}

// harness drives a Director on a manual clock and records every frame
// delivered to a subscriber.
type harness struct {
	t     *testing.T
	d     *Director
	clock *ManualClock

	mu     sync.Mutex
	frames []Frame
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, clock: NewManualClock()}
	h.d = NewDirector(cfg, append([]Option{WithClock(h.clock)}, opts...)...)
	h.d.Subscribe(func(f Frame) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.frames = append(h.frames, f)
	})
	return h
}

func (h *harness) push(evs ...events.RawEvent) {
	for _, ev := range evs {
		h.d.Push(ev)
	}
}

func (h *harness) drain() {
	h.t.Helper()
	const limit = 100_000
	fired := h.clock.RunAll(limit)
	require.Less(h.t, fired, limit, "pacing loop did not settle")
}

func (h *harness) published() []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Frame(nil), h.frames...)
}

func (h *harness) last() Frame {
	h.t.Helper()
	frames := h.published()
	require.NotEmpty(h.t, frames)
	return frames[len(frames)-1]
}

// compress drops consecutive duplicates.
func compress[T comparable](in []T) []T {
	var out []T
	for _, v := range in {
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}
