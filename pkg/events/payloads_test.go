package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("debate message with score adjustment", func(t *testing.T) {
		ev := RawEvent{
			Type: EventTypeDebateMessage,
			Data: []byte(`{"from":"b","fromName":"Security","message":"liquidity is locked","round":1,
				"stance":"concede","targetAgent":"a","scoreAdjustment":{"agentId":"a","from":6.0,"to":7.5}}`),
		}
		p, err := Decode[DebateMessagePayload](ev)
		require.NoError(t, err)
		assert.Equal(t, "b", p.From)
		assert.Equal(t, StanceConcede, p.Stance)
		require.NotNil(t, p.ScoreAdjustment)
		assert.Equal(t, "a", p.ScoreAdjustment.AgentID)
		assert.InDelta(t, 7.5, p.ScoreAdjustment.To, 1e-9)
	})

	t.Run("preprocess complete is snake_case", func(t *testing.T) {
		ev := RawEvent{
			Type: EventTypePreprocessComplete,
			Data: []byte(`{"token_type":"meme","project_name":"Bonk","known_project":true,"contract_age_days":12.5}`),
		}
		p, err := Decode[PreprocessCompletePayload](ev)
		require.NoError(t, err)
		assert.Equal(t, "Bonk", p.ProjectName)
		assert.True(t, p.KnownProject)
		require.NotNil(t, p.ContractAgeDays)
		assert.InDelta(t, 12.5, *p.ContractAgeDays, 1e-9)
	})

	t.Run("null data decodes to zero value", func(t *testing.T) {
		p, err := Decode[OnchainPayload](RawEvent{Type: EventTypeVerdictOnchain, Data: []byte("null")})
		require.NoError(t, err)
		assert.Equal(t, OnchainPayload{}, p)
	})

	t.Run("wrong shape is an error", func(t *testing.T) {
		_, err := Decode[ScanStartPayload](RawEvent{Type: EventTypeScanStart, Data: []byte(`{"agents":"nope"}`)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode scan:start payload")
	})
}

func TestAgentErrorPayload_IsRecoverable(t *testing.T) {
	yes, no := true, false
	assert.True(t, AgentErrorPayload{}.IsRecoverable())
	assert.True(t, AgentErrorPayload{Recoverable: &yes}.IsRecoverable())
	assert.False(t, AgentErrorPayload{Recoverable: &no}.IsRecoverable())
}

func TestEventTypes(t *testing.T) {
	assert.True(t, IsKnownType(EventTypeAgentProgress))
	assert.True(t, IsKnownType(EventTypeVerdictOnchain))
	assert.False(t, IsKnownType("totally:unknown"))

	assert.True(t, IsTerminalType(EventTypeScanComplete))
	assert.True(t, IsTerminalType(EventTypeScanError))
	assert.False(t, IsTerminalType(EventTypeVerdictOnchain))
}

func TestNewRawEvent(t *testing.T) {
	ev, err := NewRawEvent(EventTypeVerdictOnchain, OnchainPayload{TxSignature: "sig", Network: "devnet"}, 99)
	require.NoError(t, err)
	assert.Equal(t, EventTypeVerdictOnchain, ev.Type)
	assert.Equal(t, int64(99), ev.Timestamp)
	assert.JSONEq(t, `{"txSignature":"sig","network":"devnet","explorerUrl":""}`, string(ev.Data))
}
