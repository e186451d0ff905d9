package timeline

import (
	"encoding/json"
	"slices"
)

// MaxTerminalLines bounds Frame.TerminalLines. Older lines are evicted first.
const MaxTerminalLines = 50

// Phase is the scan phase shown by the timeline.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseScanning     Phase = "scanning"
	PhaseDebating     Phase = "debating"
	PhaseConsensus    Phase = "consensus"
	PhaseComplete     Phase = "complete"
	PhaseError        Phase = "error"
	PhaseTimeout      Phase = "timeout"
)

// IsTerminal reports whether no further phase transitions are expected.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseTimeout
}

// AgentStatus is the display status of one agent.
type AgentStatus string

const (
	AgentWaiting   AgentStatus = "waiting"
	AgentActive    AgentStatus = "active"
	AgentComplete  AgentStatus = "complete"
	AgentError     AgentStatus = "error"
	AgentDebating  AgentStatus = "debating"
	AgentLocked    AgentStatus = "locked"
	AgentHidden    AgentStatus = "hidden"
	AgentAppearing AgentStatus = "appearing"
)

// LineType classifies a terminal line for rendering.
type LineType string

const (
	LineSystem   LineType = "system"
	LineAgent    LineType = "agent"
	LineThinking LineType = "thinking"
	LineFinding  LineType = "finding"
	LineProgress LineType = "progress"
	LineSuccess  LineType = "success"
	LineWarning  LineType = "warning"
	LineError    LineType = "error"
	LineDebate   LineType = "debate"
)

// Token identifies the scanned token.
type Token struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Name    string `json:"name,omitempty"`
}

// Finding is one agent finding.
type Finding struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Evidence string `json:"evidence,omitempty"`
}

// AgentState is the visual state of one agent.
type AgentState struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	DisplayName   string      `json:"displayName"`
	Icon          string      `json:"icon"`
	Color         string      `json:"color"`
	Category      string      `json:"category"`
	Phase         int         `json:"phase"`
	Status        AgentStatus `json:"status"`
	Score         *float64    `json:"score"`
	ScoreRevealed bool        `json:"scoreRevealed"`
	Findings      []Finding   `json:"findings"`
	Reasoning     string      `json:"reasoning"`

	// Synthesized is set when the agent was created by an activation
	// before its appearance was seen.
	Synthesized bool `json:"synthesized,omitempty"`
}

func (a *AgentState) clone() *AgentState {
	c := *a
	if a.Score != nil {
		s := *a.Score
		c.Score = &s
	}
	c.Findings = slices.Clone(a.Findings)
	return &c
}

// TerminalLine is one line of the terminal log.
type TerminalLine struct {
	ID        string   `json:"id"`
	Type      LineType `json:"type"`
	AgentID   string   `json:"agentId,omitempty"`
	Text      string   `json:"text"`
	Color     string   `json:"color,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// ScoreAdjustment moves an agent's score as a result of a debate message.
type ScoreAdjustment struct {
	AgentID string  `json:"agentId"`
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Reason  string  `json:"reason,omitempty"`
}

// DebateMessage is one stance-tagged message of a debate.
type DebateMessage struct {
	From            string           `json:"from"`
	FromName        string           `json:"fromName"`
	TargetAgent     string           `json:"targetAgent,omitempty"`
	TargetName      string           `json:"targetName,omitempty"`
	Message         string           `json:"message"`
	Round           int              `json:"round"`
	Stance          string           `json:"stance"`
	Phase           string           `json:"phase,omitempty"`
	EvidenceCited   string           `json:"evidenceCited,omitempty"`
	ScoreAdjustment *ScoreAdjustment `json:"scoreAdjustment,omitempty"`
}

// SplitPosition is one side of a debate that ended without agreement.
type SplitPosition struct {
	Agent    string   `json:"agent"`
	Position string   `json:"position"`
	Score    *float64 `json:"score,omitempty"`
}

// Debate is the single debate slot of the frame.
type Debate struct {
	Agents         []string        `json:"agents"`
	Topic          string          `json:"topic"`
	Reason         string          `json:"reason,omitempty"`
	Messages       []DebateMessage `json:"messages"`
	Resolved       bool            `json:"resolved"`
	Outcome        string          `json:"outcome,omitempty"`
	Resolution     string          `json:"resolution,omitempty"`
	Confidence     float64         `json:"confidence,omitempty"`
	SplitPositions []SplitPosition `json:"splitPositions,omitempty"`
}

func (d *Debate) clone() *Debate {
	c := *d
	c.Agents = slices.Clone(d.Agents)
	c.Messages = make([]DebateMessage, len(d.Messages))
	for i, m := range d.Messages {
		if m.ScoreAdjustment != nil {
			adj := *m.ScoreAdjustment
			m.ScoreAdjustment = &adj
		}
		c.Messages[i] = m
	}
	if d.SplitPositions != nil {
		c.SplitPositions = make([]SplitPosition, len(d.SplitPositions))
		for i, sp := range d.SplitPositions {
			if sp.Score != nil {
				s := *sp.Score
				sp.Score = &s
			}
			c.SplitPositions[i] = sp
		}
	}
	return &c
}

// CategoryResult is the per-category section of the final verdict.
type CategoryResult struct {
	Score      *float64  `json:"score,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Findings   []Finding `json:"findings"`
}

// ScanResult is the final verdict of a scan.
type ScanResult struct {
	Score         float64                    `json:"score"`
	Grade         string                     `json:"grade"`
	Breakdown     map[string]*CategoryResult `json:"breakdown"`
	CategoryOrder []string                   `json:"categoryOrder"`
	Debates       json.RawMessage            `json:"debates,omitempty"`
	DurationMs    int64                      `json:"durationMs"`
	AgentCount    int                        `json:"agentCount"`
}

func (r *ScanResult) clone() *ScanResult {
	c := *r
	c.CategoryOrder = slices.Clone(r.CategoryOrder)
	c.Debates = slices.Clone(r.Debates)
	if r.Breakdown != nil {
		c.Breakdown = make(map[string]*CategoryResult, len(r.Breakdown))
		for k, v := range r.Breakdown {
			cr := *v
			if v.Score != nil {
				s := *v.Score
				cr.Score = &s
			}
			cr.Findings = slices.Clone(v.Findings)
			c.Breakdown[k] = &cr
		}
	}
	return &c
}

// OnchainTx is the on-chain record of a verdict.
type OnchainTx struct {
	Signature   string `json:"txSignature"`
	Network     string `json:"network"`
	ExplorerURL string `json:"explorerUrl"`
}

// ScanError is a terminal scan error.
type ScanError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// Frame is one snapshot of the timeline state. Frames handed out by a
// Director or Bridge are independent deep copies.
type Frame struct {
	Phase         Phase                  `json:"phase"`
	Token         *Token                 `json:"token"`
	AgentOrder    []string               `json:"agentOrder"`
	Agents        map[string]*AgentState `json:"agents"`
	ActiveAgentID string                 `json:"activeAgentId"`
	TerminalLines []TerminalLine         `json:"terminalLines"`
	Debate        *Debate                `json:"debate"`
	Result        *ScanResult            `json:"result"`
	OnchainTx     *OnchainTx             `json:"onchainTx"`
	Error         *ScanError             `json:"error"`
	Progress      float64                `json:"progress"`

	IsPlaying  bool `json:"isPlaying"`
	IsComplete bool `json:"isComplete"`
	IsCached   bool `json:"isCached"`

	FinalScore         *float64 `json:"finalScore"`
	FinalGrade         string   `json:"finalGrade"`
	ScoreRevealed      bool     `json:"scoreRevealed"`
	ConsensusNarrative string   `json:"consensusNarrative"`
}

// NewFrame returns the initial empty frame.
func NewFrame() Frame {
	return Frame{
		Phase:  PhaseIdle,
		Agents: map[string]*AgentState{},
	}
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	c := f
	if f.Token != nil {
		t := *f.Token
		c.Token = &t
	}
	c.AgentOrder = slices.Clone(f.AgentOrder)
	c.Agents = make(map[string]*AgentState, len(f.Agents))
	for id, a := range f.Agents {
		c.Agents[id] = a.clone()
	}
	c.TerminalLines = slices.Clone(f.TerminalLines)
	if f.Debate != nil {
		c.Debate = f.Debate.clone()
	}
	if f.Result != nil {
		c.Result = f.Result.clone()
	}
	if f.OnchainTx != nil {
		tx := *f.OnchainTx
		c.OnchainTx = &tx
	}
	if f.Error != nil {
		e := *f.Error
		c.Error = &e
	}
	if f.FinalScore != nil {
		s := *f.FinalScore
		c.FinalScore = &s
	}
	return c
}

// Agent returns the agent with the given id, or nil.
func (f Frame) Agent(id string) *AgentState {
	return f.Agents[id]
}

// AgentList returns the agents in arrival order.
func (f Frame) AgentList() []*AgentState {
	out := make([]*AgentState, 0, len(f.AgentOrder))
	for _, id := range f.AgentOrder {
		if a, ok := f.Agents[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

// CompletedAgents counts agents whose analysis has finished, successfully
// or not.
func (f Frame) CompletedAgents() int {
	n := 0
	for _, a := range f.Agents {
		if a.Status == AgentComplete || a.Status == AgentError {
			n++
		}
	}
	return n
}
