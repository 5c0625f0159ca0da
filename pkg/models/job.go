package models

import "time"

// JobType selects what a scheduled job executes.
type JobType string

const (
	JobTypeMcpTool JobType = "MCP_TOOL"
	JobTypeAgent   JobType = "AGENT"
)

// JobStatus is the outcome of the most recent run of a job.
type JobStatus string

const (
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSkipped JobStatus = "SKIPPED"
)

// ScheduledJob is a cron-driven MCP tool call or agent invocation.
// Name is unique across all jobs.
type ScheduledJob struct {
	ID             string  `db:"id" json:"id"`
	Name           string  `db:"name" json:"name"`
	CronExpression string  `db:"cron_expression" json:"cronExpression"`
	Timezone       string  `db:"timezone" json:"timezone"`
	JobType        JobType `db:"job_type" json:"jobType"`

	// MCP_TOOL fields
	McpServerName string         `db:"mcp_server_name" json:"mcpServerName,omitempty"`
	ToolName      string         `db:"tool_name" json:"toolName,omitempty"`
	ToolArguments map[string]any `json:"toolArguments,omitempty"`

	// AGENT fields
	AgentPrompt       string `db:"agent_prompt" json:"agentPrompt,omitempty"`
	PersonaID         string `db:"persona_id" json:"personaId,omitempty"`
	AgentSystemPrompt string `db:"agent_system_prompt" json:"agentSystemPrompt,omitempty"`
	AgentModel        string `db:"agent_model" json:"agentModel,omitempty"`
	AgentMaxToolCalls int    `db:"agent_max_tool_calls" json:"agentMaxToolCalls,omitempty"`

	RetryOnFailure     bool       `db:"retry_on_failure" json:"retryOnFailure"`
	MaxRetryCount      int        `db:"max_retry_count" json:"maxRetryCount"`
	ExecutionTimeoutMs int64      `db:"execution_timeout_ms" json:"executionTimeoutMs,omitempty"`
	SlackChannelID     string     `db:"slack_channel_id" json:"slackChannelId,omitempty"`
	TeamsWebhookURL    string     `db:"teams_webhook_url" json:"teamsWebhookUrl,omitempty"`
	Enabled            bool       `db:"enabled" json:"enabled"`
	LastRunAt          *time.Time `db:"last_run_at" json:"lastRunAt,omitempty"`
	LastStatus         JobStatus  `db:"last_status" json:"lastStatus,omitempty"`
	LastResult         string     `db:"last_result" json:"lastResult,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

// ScheduledJobExecution is the persisted record of one job run.
// Result is truncated to 50,000 chars before persisting.
type ScheduledJobExecution struct {
	ID          string    `db:"id" json:"id"`
	JobID       string    `db:"job_id" json:"jobId"`
	Status      JobStatus `db:"status" json:"status"`
	Result      string    `db:"result" json:"result"`
	StartedAt   time.Time `db:"started_at" json:"startedAt"`
	CompletedAt time.Time `db:"completed_at" json:"completedAt"`
	DurationMs  int64     `db:"duration_ms" json:"durationMs"`
	DryRun      bool      `db:"dry_run" json:"dryRun"`
}

// PendingApprovalStatus tracks a human approval request for a tool call.
type PendingApprovalStatus string

const (
	ApprovalPending  PendingApprovalStatus = "PENDING"
	ApprovalApproved PendingApprovalStatus = "APPROVED"
	ApprovalRejected PendingApprovalStatus = "REJECTED"
	ApprovalExpired  PendingApprovalStatus = "EXPIRED"
)

// PendingApproval is a blocking approval request created before executing a
// tool the policy marks as requiring human sign-off.
type PendingApproval struct {
	ID          string                `db:"id" json:"id"`
	ToolName    string                `db:"tool_name" json:"toolName"`
	ServerName  string                `db:"server_name" json:"serverName"`
	RequestedBy string                `db:"requested_by" json:"requestedBy"`
	Arguments   map[string]any        `json:"arguments,omitempty"`
	Status      PendingApprovalStatus `db:"status" json:"status"`
	CreatedAt   time.Time             `db:"created_at" json:"createdAt"`
	DecidedAt   *time.Time            `db:"decided_at" json:"decidedAt,omitempty"`
	DecidedBy   string                `db:"decided_by" json:"decidedBy,omitempty"`
}
