package timeline

import (
	"encoding/json"
	"time"
)

// ActionType tags a timeline action.
type ActionType string

const (
	ActionPhaseChange    ActionType = "PHASE_CHANGE"
	ActionSetToken       ActionType = "SET_TOKEN"
	ActionAgentAppear    ActionType = "AGENT_APPEAR"
	ActionAgentActivate  ActionType = "AGENT_ACTIVATE"
	ActionAgentThink     ActionType = "AGENT_THINK"
	ActionAgentFinding   ActionType = "AGENT_FINDING"
	ActionAgentScore     ActionType = "AGENT_SCORE"
	ActionAgentComplete  ActionType = "AGENT_COMPLETE"
	ActionDebateStart    ActionType = "DEBATE_START"
	ActionDebateMessage  ActionType = "DEBATE_MESSAGE"
	ActionDebateResolve  ActionType = "DEBATE_RESOLVE"
	ActionConsensusStart ActionType = "CONSENSUS_START"
	ActionScoreReveal    ActionType = "SCORE_REVEAL"
	ActionScanComplete   ActionType = "SCAN_COMPLETE"
	ActionScanError      ActionType = "SCAN_ERROR"
	ActionOnchainTx      ActionType = "ONCHAIN_TX"
	ActionLogLine        ActionType = "LOG_LINE"
)

// Action is one paced unit of frame mutation. Delay is waited before the
// action is applied and Hold after it, both before scaling.
type Action struct {
	ID    string
	Type  ActionType
	Data  any
	Delay time.Duration
	Hold  time.Duration
}

// PhaseChangeData is the data of PHASE_CHANGE.
type PhaseChangeData struct {
	Phase Phase
}

// SetTokenData is the data of SET_TOKEN. Empty fields leave the current
// value in place.
type SetTokenData struct {
	Address string
	Chain   string
	Name    string
}

// AgentAppearData is the data of AGENT_APPEAR.
type AgentAppearData struct {
	ID          string
	Name        string
	DisplayName string
	Icon        string
	Color       string
	Category    string
	Phase       int
}

// AgentActivateData is the data of AGENT_ACTIVATE. The display fields are
// only used when the agent has to be synthesized.
type AgentActivateData struct {
	AgentID   string
	AgentName string
	Icon      string
	Color     string
	Category  string
	Phase     int
}

// AgentThinkData is the data of AGENT_THINK.
type AgentThinkData struct {
	AgentID string
	Text    string
}

// AgentFindingData is the data of AGENT_FINDING.
type AgentFindingData struct {
	AgentID string
	Finding Finding
}

// AgentScoreData is the data of AGENT_SCORE.
type AgentScoreData struct {
	AgentID    string
	Score      float64
	Category   string
	Confidence float64
}

// AgentCompleteData is the data of AGENT_COMPLETE.
type AgentCompleteData struct {
	AgentID   string
	Failed    bool
	Score     *float64
	Reasoning string
	Category  string
}

// DebateStartData is the data of DEBATE_START.
type DebateStartData struct {
	Agents []string
	Topic  string
	Reason string
}

// DebateMessageData is the data of DEBATE_MESSAGE.
type DebateMessageData struct {
	Message DebateMessage
}

// DebateResolveData is the data of DEBATE_RESOLVE.
type DebateResolveData struct {
	Outcome        string
	Resolution     string
	Confidence     float64
	AdjustedScores map[string]float64
	SplitPositions []SplitPosition
}

// ConsensusStartData is the data of CONSENSUS_START.
type ConsensusStartData struct {
	Narrative string
}

// ScoreRevealData is the data of SCORE_REVEAL.
type ScoreRevealData struct {
	Score float64
	Grade string
}

// ScanCompleteData is the data of SCAN_COMPLETE.
type ScanCompleteData struct {
	Score      float64
	Grade      string
	Breakdown  map[string]CategoryResult
	Debates    json.RawMessage
	DurationMs int64
	AgentCount int
}

// ScanErrorData is the data of SCAN_ERROR.
type ScanErrorData struct {
	Message   string
	Code      string
	Retryable bool
}

// OnchainTxData is the data of ONCHAIN_TX.
type OnchainTxData struct {
	Tx OnchainTx
}

// LogLineData is the data of LOG_LINE. The line color is resolved from
// AgentID when the action is applied.
type LogLineData struct {
	Type      LineType
	AgentID   string
	Text      string
	Timestamp int64
}
