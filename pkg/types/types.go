// Package types defines the shared data model for a call: the entities
// described in the call data model (Call, Tenant, Utterance, Turn, ToolCall,
// CallArtifact) and the small cross-cutting value types (messages, tool
// definitions, voice specs) that every package in this module needs without
// creating import cycles.
package types

import "time"

// Speaker identifies who produced an utterance or a span of transcript.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// CallDirection is inbound or outbound. Only inbound is exercised today but
// the field is part of the data model.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// TerminalCause enumerates why a call ended, mirrored verbatim in the
// emitted CallArtifact.
type TerminalCause string

const (
	CauseHangup         TerminalCause = "hangup"
	CauseTransfer       TerminalCause = "transfer"
	CauseEndCallTool    TerminalCause = "end_call_tool"
	CauseTransportError TerminalCause = "transport_error"
	CauseTimeout        TerminalCause = "timeout"
)

// Call is the top-level entity for a single carrier session. Exactly one
// Call exists per carrier session and the Session Orchestrator is its sole
// writer.
type Call struct {
	ID             string
	TenantID       string
	CallerID       string // caller-id (ANI), E.164
	DialedNumber   string // to, E.164
	Direction      CallDirection
	StartedAt      time.Time
	EndedAt        time.Time
	TerminalCause  TerminalCause
}

// Duration returns the call length, valid once EndedAt is set.
func (c *Call) Duration() time.Duration {
	if c.EndedAt.IsZero() {
		return 0
	}
	return c.EndedAt.Sub(c.StartedAt)
}

// Utterance is a contiguous span of caller or agent speech delimited by VAD
// (for the caller) or by TTS flush boundaries (for the agent).
type Utterance struct {
	ID              string
	CallID          string
	Speaker         Speaker
	StartOffsetMs   int64
	EndOffsetMs     int64
	Transcript      string // empty until finalized
	Finalized       bool
	Confidence      float64
}

// Turn is a contiguous span of agent output produced in response to a
// trigger. It may include tool calls. A cancelled turn's AgentText reflects
// only what was actually spoken before cutoff.
type Turn struct {
	ID          string
	CallID      string
	Trigger     TurnTrigger
	AgentText   string
	ToolCalls   []ToolCall
	StartedAt   time.Time
	CompletedAt time.Time
	Cancelled   bool
}

// TurnTrigger records what caused the orchestrator to start a Turn.
type TurnTrigger string

const (
	TriggerCallerUtterance TurnTrigger = "caller_utterance"
	TriggerSystem          TurnTrigger = "system"
	TriggerToolResult      TurnTrigger = "tool_result"
)

// ToolCallStatus enumerates the lifecycle of a ToolCall.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallSucceeded ToolCallStatus = "succeeded"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallCancelled ToolCallStatus = "cancelled"
)

// ToolCall is a single invocation of a registered tool, created by the LLM
// and resolved by the Tool Executor. A ToolCall never outlives its Turn:
// cancelling a Turn cancels its still-pending ToolCalls.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
	Status    ToolCallStatus
	Result    string // JSON-encoded
	StartedAt time.Time
	EndedAt   time.Time
}

// Urgency is the post-call urgency classification.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// TranscriptEntry is one ordered line of the call transcript, as emitted in
// the CallArtifact sink event.
type TranscriptEntry struct {
	Speaker  Speaker
	Text     string
	TStartMs int64
	TEndMs   int64
}

// ScopeCreep records whether a caller's request diverged from the matched
// project's stored scope.
type ScopeCreep struct {
	Flagged   bool
	Rationale string
}

// LeadRecord captures the lead-question sub-flow outcome.
type LeadRecord struct {
	Answers   map[string]string // question-id -> answer
	Completed bool
}

// CallArtifact is produced exactly once, after hangup, and handed to the
// downstream sink. Field names and shapes mirror the wire contract.
type CallArtifact struct {
	CallID          string
	TenantID        string
	From            string
	To              string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationS       float64
	TerminalCause   TerminalCause
	Transcript      []TranscriptEntry
	Summary         *string
	ActionItems     []string
	Urgency         Urgency
	ScopeCreep      *ScopeCreep
	Lead            *LeadRecord
	FinalizerErrors []string
}

// Message is a single entry in an LLM conversation history.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	Name       string
	ToolCalls  []LLMToolCall
	ToolCallID string
}

// LLMToolCall is a tool invocation requested by the LLM mid-stream, before
// the Tool Executor resolves it into a types.ToolCall.
type LLMToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a tool offered to the LLM, including the
// latency/budget metadata the Tool Executor uses for tier assignment and
// hard timeouts.
type ToolDefinition struct {
	Name                string
	Description         string
	Parameters          map[string]any
	EstimatedDurationMs int
	MaxDurationMs       int
	Idempotent          bool
	CacheableSeconds    int
}

// VoiceSpec selects a TTS voice and its delivery parameters.
type VoiceSpec struct {
	Provider   string
	VoiceID    string
	Stability  float64
	Similarity float64
	Style      float64
}

// BudgetTier controls which tools are visible to the LLM based on latency
// constraints — reused from the Tool Executor's calibration machinery.
type BudgetTier int

const (
	BudgetFast BudgetTier = iota
	BudgetStandard
	BudgetDeep
)

func (t BudgetTier) String() string {
	switch t {
	case BudgetFast:
		return "FAST"
	case BudgetStandard:
		return "STANDARD"
	case BudgetDeep:
		return "DEEP"
	default:
		return "UNKNOWN"
	}
}

// MaxLatencyMs returns the maximum latency budget for this tier.
func (t BudgetTier) MaxLatencyMs() int {
	switch t {
	case BudgetFast:
		return 500
	case BudgetStandard:
		return 1500
	case BudgetDeep:
		return 4000
	default:
		return 500
	}
}
