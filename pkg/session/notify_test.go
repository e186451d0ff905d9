package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictswarm/director/pkg/events"
	"github.com/verdictswarm/director/pkg/stream"
	"github.com/verdictswarm/director/pkg/timeline"
)

func TestVerdictInput(t *testing.T) {
	s := newSession("sess-1", stream.Request{Address: testAddress, Chain: "solana"}, timeline.ModeCached, time.Now())
	score := 4.5
	f := timeline.NewFrame()
	f.Token = &timeline.Token{Address: testAddress, Chain: "solana", Name: "BONK"}
	f.IsCached = true
	f.FinalScore = &score
	f.ConsensusNarrative = "Liquidity is thin and the deployer holds most of the supply."
	f.Agents = map[string]*timeline.AgentState{"a": {}, "b": {}, "c": {}}
	f.Result = &timeline.ScanResult{
		Score:         score,
		CategoryOrder: []string{"security", "tokenomics"},
		Breakdown: map[string]*timeline.CategoryResult{
			"security": {Findings: []timeline.Finding{
				{Severity: "critical", Message: "Mint authority not revoked"},
				{Severity: "info", Message: "Verified source"},
			}},
			"tokenomics": {Findings: []timeline.Finding{
				{Severity: "warning", Message: "Top 10 holders own 60%"},
			}},
		},
		Debates:    json.RawMessage(`[{"topic":"liquidity"},{"topic":"holders"}]`),
		DurationMs: 31_000,
	}

	in := verdictInput(s, f)
	assert.Equal(t, "sess-1", in.SessionID)
	assert.Equal(t, "BONK", in.TokenName)
	assert.InDelta(t, 4.5, in.Score, 1e-9)
	assert.Equal(t, "D", in.Grade)
	assert.Equal(t, "HIGH", in.RiskLevel)
	assert.Equal(t, 3, in.AgentCount)
	assert.Equal(t, 2, in.Debates)
	assert.Equal(t, int64(31_000), in.DurationMs)
	assert.True(t, in.Cached)
	assert.Equal(t, []string{"security: Mint authority not revoked"}, in.CriticalFindings)
	assert.Equal(t, f.ConsensusNarrative, in.Narrative)
}

func TestVerdictInput_PlaceholderNarrative(t *testing.T) {
	s := newSession("sess-2", stream.Request{Address: testAddress}, timeline.ModeLive, time.Now())
	f := timeline.NewFrame()
	f.ConsensusNarrative = timeline.DefaultConsensusNarrative
	f.Result = &timeline.ScanResult{Score: 91, Grade: "A+", AgentCount: 6}

	in := verdictInput(s, f)
	assert.Empty(t, in.Narrative)
	assert.InDelta(t, 9.1, in.Score, 1e-9)
	assert.Equal(t, "A+", in.Grade)
	assert.Equal(t, "LOW", in.RiskLevel)
	assert.Equal(t, 6, in.AgentCount)
}

func TestCountDebates(t *testing.T) {
	assert.Equal(t, 0, countDebates(nil))
	assert.Equal(t, 0, countDebates(json.RawMessage(`{"not":"a list"}`)))
	assert.Equal(t, 1, countDebates(json.RawMessage(`[{}]`)))
}

func TestManager_OnchainRepliesInThread(t *testing.T) {
	notifier := &fakeNotifier{}
	evs := append(scanEvents(t), rawEvent(t, events.EventTypeVerdictOnchain, events.OnchainPayload{
		TxSignature: "5xKq",
		Network:     "devnet",
		ExplorerURL: "https://explorer.solana.com/tx/5xKq?cluster=devnet",
	}))
	m := NewManager(testConfig(),
		WithNotifier(notifier),
		WithWatcherFactory(watcherFactory(&fakeWatcher{evs: evs})))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	s, err := m.Create(context.Background(), stream.Request{Address: testAddress, Chain: "solana"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _, o := notifier.snapshot()
		return len(v) == 1 && len(o) == 1
	}, 5*time.Second, 5*time.Millisecond)
	_, _, o := notifier.snapshot()
	assert.Equal(t, s.ID, o[0].SessionID)
	assert.Equal(t, "5xKq", o[0].TxSignature)
	assert.Equal(t, "devnet", o[0].Network)
	assert.Equal(t, "solana", o[0].Chain)
}
