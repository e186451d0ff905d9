// Package events defines the scan event stream emitted by the analysis
// backend and the SSE wire codec used to read it.
//
// ════════════════════════════════════════════════════════════════
// Scan Event Lifecycle
// ════════════════════════════════════════════════════════════════
//
// A live scan emits events in this order (agent and debate blocks
// repeat and may interleave):
//
//	preprocess:start → preprocess:complete
//	scan:start        {agents: [...]}
//	agent:start → agent:thinking* → agent:finding* → agent:score → agent:complete
//	debate:start → debate:message* → debate:resolved
//	scan:consensus → scan:complete
//	verdict:onchain   (optional, may arrive long after scan:complete)
//
// scan:error may terminate the stream at any point. A cached scan is
// replayed with the same shapes; scan:start then carries "cached": true.
//
// Payload field names are a contract with the backend and are kept
// exactly as emitted (camelCase, except preprocess:complete which uses
// snake_case).
// ════════════════════════════════════════════════════════════════
package events

import "encoding/json"

// Event type tags.
const (
	EventTypePreprocessStart    = "preprocess:start"
	EventTypePreprocessComplete = "preprocess:complete"

	EventTypeScanStart     = "scan:start"
	EventTypeScanConsensus = "scan:consensus"
	EventTypeScanComplete  = "scan:complete"
	EventTypeScanError     = "scan:error"

	EventTypeAgentStart    = "agent:start"
	EventTypeAgentThinking = "agent:thinking"
	EventTypeAgentFinding  = "agent:finding"
	EventTypeAgentProgress = "agent:progress"
	EventTypeAgentScore    = "agent:score"
	EventTypeAgentComplete = "agent:complete"
	EventTypeAgentError    = "agent:error"

	EventTypeDebateStart    = "debate:start"
	EventTypeDebateMessage  = "debate:message"
	EventTypeDebateResolved = "debate:resolved"

	EventTypeVerdictOnchain = "verdict:onchain"
)

// Finding severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
	SeverityPositive = "positive"
)

// Debate stances.
const (
	StanceChallenge  = "challenge"
	StanceDefend     = "defend"
	StanceConcede    = "concede"
	StanceEscalate   = "escalate"
	StanceCompromise = "compromise"
)

// Debate phases, used by clients to sequence debate animations.
const (
	DebatePhaseChallenge  = "challenge"
	DebatePhaseDefense    = "defense"
	DebatePhaseRebuttal   = "rebuttal"
	DebatePhaseResolution = "resolution"
	DebatePhaseConsensus  = "consensus"
)

// Debate outcomes.
const (
	OutcomeConsensus  = "consensus"
	OutcomeCompromise = "compromise"
	OutcomeSplit      = "split"
)

// Scan error codes.
const (
	ErrorCodeTimeout      = "TIMEOUT"
	ErrorCodeAPIError     = "API_ERROR"
	ErrorCodeInvalidToken = "INVALID_TOKEN"
	ErrorCodeRateLimited  = "RATE_LIMITED"
	// ErrorCodeRateLimit is what the stream endpoint actually sends when
	// the daily scan cap is reached.
	ErrorCodeRateLimit = "RATE_LIMIT"
)

var knownTypes = map[string]bool{
	EventTypePreprocessStart:    true,
	EventTypePreprocessComplete: true,
	EventTypeScanStart:          true,
	EventTypeScanConsensus:      true,
	EventTypeScanComplete:       true,
	EventTypeScanError:          true,
	EventTypeAgentStart:         true,
	EventTypeAgentThinking:      true,
	EventTypeAgentFinding:       true,
	EventTypeAgentProgress:      true,
	EventTypeAgentScore:         true,
	EventTypeAgentComplete:      true,
	EventTypeAgentError:         true,
	EventTypeDebateStart:        true,
	EventTypeDebateMessage:      true,
	EventTypeDebateResolved:     true,
	EventTypeVerdictOnchain:     true,
}

// IsKnownType reports whether t is one of the event tags this package
// understands. Unknown tags are valid on the wire and must be ignored.
func IsKnownType(t string) bool {
	return knownTypes[t]
}

// IsTerminalType reports whether an event of type t ends the scan stream.
// verdict:onchain may still follow scan:complete.
func IsTerminalType(t string) bool {
	return t == EventTypeScanComplete || t == EventTypeScanError
}

// RawEvent is one event as received from the stream.
type RawEvent struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`        // Unix ms
	ID        string          `json:"id,omitempty"`     // SSE id field, used as Last-Event-ID
	ScanID    string          `json:"scanId,omitempty"` // backend scan id when known
}

// NewRawEvent builds a RawEvent from a typed payload.
func NewRawEvent(eventType string, payload any, timestamp int64) (RawEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return RawEvent{}, err
	}
	return RawEvent{Type: eventType, Data: data, Timestamp: timestamp}, nil
}
