package hooks

// Outcome metadata keys, stamped by the agent runtime before
// AfterAgentComplete runs.
const (
	MetaSuccess       = "success"
	MetaErrorCode     = "errorCode"
	MetaDurationMs    = "durationMs"
	MetaToolCount     = "toolCount"
	MetaRetryCount    = "retryCount"
	MetaGuardRejected = "guardRejected"
	MetaGuardStage    = "guardStage"
	MetaGuardCategory = "guardCategory"
)

// Per-call metadata keys, stamped by the tool execution path before
// AfterToolCall runs. They describe the most recent call only.
const (
	MetaToolCallName         = "toolCall_name"
	MetaToolCallIndex        = "toolCall_index"
	MetaToolCallSuccess      = "toolCall_success"
	MetaToolCallDurationMs   = "toolCall_durationMs"
	MetaToolCallErrorClass   = "toolCall_errorClass"
	MetaToolCallErrorMessage = "toolCall_errorMessage"
)
