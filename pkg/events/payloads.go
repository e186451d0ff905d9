package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AgentInfo is the agent metadata sent with scan:start.
type AgentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	Phase       int    `json:"phase"`
	Category    string `json:"category"`
	Status      string `json:"status,omitempty"` // waiting | active | complete | error | locked
}

// Finding is a single finding reported by an agent.
type Finding struct {
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Evidence *string `json:"evidence,omitempty"`
	Category string  `json:"category,omitempty"`
}

// PreprocessStartPayload is the payload for preprocess:start.
type PreprocessStartPayload struct {
	Message string `json:"message"`
}

// PreprocessCompletePayload is the payload for preprocess:complete.
// The backend emits this one in snake_case.
type PreprocessCompletePayload struct {
	TokenType          string   `json:"token_type"`
	ProjectName        string   `json:"project_name"`
	ProjectDescription string   `json:"project_description"`
	ContractAgeDays    *float64 `json:"contract_age_days"`
	KnownProject       bool     `json:"known_project"`
	Confidence         float64  `json:"confidence"`
}

// ScanStartPayload is the payload for scan:start.
type ScanStartPayload struct {
	TokenAddress string      `json:"tokenAddress"`
	Chain        string      `json:"chain"`
	TokenName    *string     `json:"tokenName"`
	AgentCount   int         `json:"agentCount"`
	Agents       []AgentInfo `json:"agents"`
	Cached       bool        `json:"cached,omitempty"`
}

// AgentStartPayload is the payload for agent:start. The cached replay
// also sends display metadata so a client that missed scan:start can
// still render the agent.
type AgentStartPayload struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Phase     int    `json:"phase"`
	Icon      string `json:"icon,omitempty"`
	Color     string `json:"color,omitempty"`
	Category  string `json:"category,omitempty"`
	Message   string `json:"message,omitempty"`
}

// AgentThinkingPayload is the payload for agent:thinking.
type AgentThinkingPayload struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Message   string `json:"message"`
}

// AgentFindingPayload is the payload for agent:finding.
type AgentFindingPayload struct {
	AgentID   string  `json:"agentId"`
	AgentName string  `json:"agentName"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Evidence  *string `json:"evidence,omitempty"`
}

// AgentProgressPayload is the payload for agent:progress.
type AgentProgressPayload struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Step      string `json:"step"`
	Message   string `json:"message,omitempty"`
}

// AgentScorePayload is the payload for agent:score.
type AgentScorePayload struct {
	AgentID    string  `json:"agentId"`
	AgentName  string  `json:"agentName,omitempty"`
	Category   string  `json:"category"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// AgentCompletePayload is the payload for agent:complete.
type AgentCompletePayload struct {
	AgentID    string         `json:"agentId"`
	AgentName  string         `json:"agentName,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Category   string         `json:"category,omitempty"`
	Score      *float64       `json:"score,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Message    string         `json:"message,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AgentErrorPayload is the payload for agent:error. Recoverable defaults
// to true when absent, matching the backend.
type AgentErrorPayload struct {
	AgentID     string `json:"agentId"`
	AgentName   string `json:"agentName"`
	Message     string `json:"message"`
	Recoverable *bool  `json:"recoverable,omitempty"`
}

// IsRecoverable reports whether the agent may keep emitting events.
func (p AgentErrorPayload) IsRecoverable() bool {
	return p.Recoverable == nil || *p.Recoverable
}

// DebateStartPayload is the payload for debate:start.
type DebateStartPayload struct {
	Agents []string `json:"agents"`
	Topic  string   `json:"topic"`
	Reason string   `json:"reason"`
}

// ScoreAdjustment moves one agent's score as a result of a debate round.
// AgentID may be empty, in which case the message target (or sender) is
// the agent being adjusted.
type ScoreAdjustment struct {
	AgentID string  `json:"agentId,omitempty"`
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Reason  string  `json:"reason,omitempty"`
}

// DebateMessagePayload is the payload for debate:message.
type DebateMessagePayload struct {
	From            string           `json:"from"`
	FromName        string           `json:"fromName"`
	Message         string           `json:"message"`
	Round           int              `json:"round"`
	Stance          string           `json:"stance"`
	Phase           string           `json:"phase,omitempty"`
	TargetAgent     string           `json:"targetAgent,omitempty"`
	TargetName      string           `json:"targetName,omitempty"`
	EvidenceCited   string           `json:"evidenceCited,omitempty"`
	ScoreAdjustment *ScoreAdjustment `json:"scoreAdjustment,omitempty"`
}

// SplitPosition is one side of a debate that ended without agreement.
type SplitPosition struct {
	Agent    string   `json:"agent"`
	Position string   `json:"position"`
	Score    *float64 `json:"score,omitempty"`
}

// DebateResolvedPayload is the payload for debate:resolved.
type DebateResolvedPayload struct {
	Outcome        string             `json:"outcome"`
	Resolution     string             `json:"resolution"`
	Confidence     float64            `json:"confidence"`
	AdjustedScores map[string]float64 `json:"adjustedScores,omitempty"`
	SplitPositions []SplitPosition    `json:"splitPositions,omitempty"`
}

// ScanConsensusPayload is the payload for scan:consensus.
type ScanConsensusPayload struct {
	Score     float64 `json:"score"`
	Grade     string  `json:"grade"`
	Narrative string  `json:"narrative,omitempty"`
}

// CategoryBreakdown is the per-category section of the final verdict.
type CategoryBreakdown struct {
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Findings   []Finding `json:"findings,omitempty"`
}

// ScanCompletePayload is the payload for scan:complete.
type ScanCompletePayload struct {
	Score       float64                      `json:"score"`
	Grade       string                       `json:"grade"`
	Breakdown   map[string]CategoryBreakdown `json:"breakdown"`
	Debates     []map[string]any             `json:"debates,omitempty"`
	DurationMs  int64                        `json:"durationMs"`
	AgentCount  int                          `json:"agentCount"`
	FullResults map[string]any               `json:"fullResults,omitempty"`
}

// ScanErrorPayload is the payload for scan:error.
type ScanErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Limit     int    `json:"limit,omitempty"`
	Tier      string `json:"tier,omitempty"`
}

// OnchainPayload is the payload for verdict:onchain.
type OnchainPayload struct {
	TxSignature string `json:"txSignature"`
	Network     string `json:"network"`
	ExplorerURL string `json:"explorerUrl"`
}

// Decode unmarshals the event data into a typed payload.
// A missing or null data field decodes to the zero value.
func Decode[T any](ev RawEvent) (T, error) {
	var out T
	data := bytes.TrimSpace(ev.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	return out, nil
}
