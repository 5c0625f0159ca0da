// Package models defines the domain types shared across Argus components:
// metric events, tenants, alert rules, MCP server definitions, and
// scheduled jobs.
package models

import "time"

// DefaultTenantID is the tenant stamped on events when no tenant was resolved.
const DefaultTenantID = "default"

// EventType identifies the concrete variant of a MetricEvent.
type EventType string

const (
	EventTypeAgentExecution EventType = "agent_execution"
	EventTypeToolCall       EventType = "tool_call"
	EventTypeTokenUsage     EventType = "token_usage"
	EventTypeSession        EventType = "session"
	EventTypeGuard          EventType = "guard"
	EventTypeMcpHealth      EventType = "mcp_health"
	EventTypeQuota          EventType = "quota"
	EventTypeEvalResult     EventType = "eval_result"
)

// MetricEvent is the tagged-variant interface implemented by every event the
// ingestion pipeline carries. Time is stamped once at publish and never
// mutated afterwards; TenantID defaults to "default" when unresolved.
type MetricEvent interface {
	EventType() EventType
	EventTime() time.Time
	SetEventTime(t time.Time)
	Tenant() string
}

// EventMeta carries the fields common to all metric events. Embed it in each
// concrete variant.
type EventMeta struct {
	Time     time.Time
	TenantID string
}

func (m *EventMeta) EventTime() time.Time     { return m.Time }
func (m *EventMeta) SetEventTime(t time.Time) { m.Time = t }

// Tenant returns the tenant ID, falling back to "default" when unset.
func (m *EventMeta) Tenant() string {
	if m.TenantID == "" {
		return DefaultTenantID
	}
	return m.TenantID
}

// ToolSource distinguishes built-in tools from MCP-served tools.
type ToolSource string

const (
	ToolSourceLocal ToolSource = "local"
	ToolSourceMCP   ToolSource = "mcp"
)

// GuardAction is the decision a guard took on a request or response.
type GuardAction string

const (
	GuardActionAllowed  GuardAction = "allowed"
	GuardActionRejected GuardAction = "rejected"
	GuardActionModified GuardAction = "modified"
)

// QuotaAction classifies quota enforcement outcomes.
type QuotaAction string

const (
	QuotaRejectedRequests    QuotaAction = "rejected_requests"
	QuotaRejectedTokens      QuotaAction = "rejected_tokens"
	QuotaRejectedSuspended   QuotaAction = "rejected_suspended"
	QuotaRejectedDeactivated QuotaAction = "rejected_deactivated"
	QuotaWarning             QuotaAction = "warning"
)

// AgentExecutionEvent records one full agent run.
type AgentExecutionEvent struct {
	EventMeta
	RunID            string
	UserID           string
	SessionID        string
	Channel          string
	Success          bool
	ErrorCode        string
	DurationMs       int64
	LLMDurationMs    int64
	ToolDurationMs   int64
	GuardDurationMs  int64
	QueueWaitMs      int64
	ToolCount        int
	PersonaID        string
	PromptTemplateID string
	IntentCategory   string
	GuardRejected    bool
	GuardStage       string
	GuardCategory    string
	FallbackUsed     bool
	RetryCount       int
}

func (*AgentExecutionEvent) EventType() EventType { return EventTypeAgentExecution }

// ToolCallEvent records a single tool invocation within a run.
type ToolCallEvent struct {
	EventMeta
	RunID         string
	ToolName      string
	ToolSource    ToolSource
	McpServerName string
	CallIndex     int
	Success       bool
	DurationMs    int64
	ErrorClass    string
	ErrorMessage  string // truncated to 500 chars at the store boundary
}

func (*ToolCallEvent) EventType() EventType { return EventTypeToolCall }

// TokenUsageEvent records LLM token consumption for one step of a run.
type TokenUsageEvent struct {
	EventMeta
	RunID            string
	Model            string
	Provider         string
	StepType         string
	PromptTokens     int64
	CompletionTokens int64
	ReasoningTokens  int64
	TotalTokens      int64
	EstimatedCostUsd float64
}

func (*TokenUsageEvent) EventType() EventType { return EventTypeTokenUsage }

// SessionEvent summarizes a completed conversation session.
type SessionEvent struct {
	EventMeta
	SessionID       string
	UserID          string
	Channel         string
	TurnCount       int
	TotalDurationMs int64
	TotalTokens     int64
	TotalCostUsd    float64
	StartedAt       time.Time
	EndedAt         time.Time
	Outcome         string
}

func (*SessionEvent) EventType() EventType { return EventTypeSession }

// GuardEvent records a guard decision on input or output content.
type GuardEvent struct {
	EventMeta
	UserID        string
	Channel       string
	Stage         string
	Category      string
	ReasonClass   string
	ReasonDetail  string // truncated to 500 chars at the store boundary
	IsOutputGuard bool
	Action        GuardAction
}

func (*GuardEvent) EventType() EventType { return EventTypeGuard }

// McpHealthEvent records the observed health of an MCP server interaction.
type McpHealthEvent struct {
	EventMeta
	ServerName     string
	Status         string // CONNECTED, FAILED, DISCONNECTED
	ResponseTimeMs int64
	ErrorClass     string
	ErrorMessage   string
	ToolCount      int
}

func (*McpHealthEvent) EventType() EventType { return EventTypeMcpHealth }

// QuotaEvent records a quota enforcement decision (rejection or warning).
type QuotaEvent struct {
	EventMeta
	Action       QuotaAction
	CurrentUsage int64
	QuotaLimit   int64
	Reason       string
}

func (*QuotaEvent) EventType() EventType { return EventTypeQuota }

// EvalResultEvent records the outcome of a single eval test case.
type EvalResultEvent struct {
	EventMeta
	EvalRunID     string
	TestCaseID    string
	Pass          bool
	Score         float64
	LatencyMs     int64
	TokenUsage    int64
	Cost          float64
	AssertionType string
	FailureClass  string
	FailureDetail string // truncated to 500 chars at the store boundary
	Tags          []string
}

func (*EvalResultEvent) EventType() EventType { return EventTypeEvalResult }
