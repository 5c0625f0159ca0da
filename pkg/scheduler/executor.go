package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/mcp"
	"github.com/codeready-toolchain/argus/pkg/models"
)

// DefaultAgentSystemPrompt is the last fallback in the system prompt chain.
const DefaultAgentSystemPrompt = "You are a helpful AI assistant."

// Terminal execution failures. Cancellation is re-raised as-is.
var (
	ErrMcpDisconnected  = errors.New("mcp server not connected")
	ErrToolNotFound     = errors.New("tool not found")
	ErrHookRejected     = errors.New("tool call rejected by hook")
	ErrApprovalRejected = errors.New("tool call approval rejected")
	ErrApprovalTimeout  = errors.New("tool call approval timed out")
)

// JobStore is the persistence surface the executor writes run state to.
type JobStore interface {
	FindByID(ctx context.Context, id string) (*models.ScheduledJob, error)
	List(ctx context.Context, enabledOnly bool) ([]*models.ScheduledJob, error)
	Save(ctx context.Context, j *models.ScheduledJob) error
	Delete(ctx context.Context, id string) error
	UpdateLastRun(ctx context.Context, id string, status models.JobStatus, result string, ranAt time.Time) error
	RecordExecution(ctx context.Context, e *models.ScheduledJobExecution) error
}

// McpManager is the connection-manager surface MCP_TOOL jobs need.
type McpManager interface {
	EnsureConnected(ctx context.Context, serverName string) bool
	FindTool(serverName, toolName string) (mcp.ToolCallback, bool)
}

// AgentCommand is a synthesized agent invocation for an AGENT job.
type AgentCommand struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxToolCalls int
	UserID       string
	Channel      string
	Metadata     map[string]any
}

// AgentExecutor runs agent commands. The runtime integration provides it.
type AgentExecutor interface {
	Execute(ctx context.Context, cmd AgentCommand) (string, error)
}

// PersonaSource resolves persona system prompts. An empty personaID asks
// for the default persona; empty result means no such persona.
type PersonaSource interface {
	SystemPrompt(ctx context.Context, personaID string) (string, error)
}

// PolicyStore answers whether a tool requires human approval.
type PolicyStore interface {
	Find(ctx context.Context, toolName, serverName string) (*models.ToolPolicy, error)
}

// ApprovalStore creates and polls blocking approval requests.
type ApprovalStore interface {
	Create(ctx context.Context, a *models.PendingApproval) error
	FindByID(ctx context.Context, id string) (*models.PendingApproval, error)
}

// ResultNotifier delivers a finished job's outcome to its configured
// channels.
type ResultNotifier interface {
	NotifyJobResult(ctx context.Context, job *models.ScheduledJob, status models.JobStatus, result string)
}

// Executor runs one scheduled job end to end: RUNNING marker, timeout,
// retries, the type-specific execution path, and the persisted execution
// record.
type Executor struct {
	config    *config.SchedulerConfig
	jobs      JobStore
	manager   McpManager
	agents    AgentExecutor
	personas  PersonaSource
	policies  PolicyStore
	approvals ApprovalStore
	chain     *hooks.Chain
	notifier  ResultNotifier
	logger    *slog.Logger

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(
	cfg *config.SchedulerConfig,
	jobs JobStore,
	manager McpManager,
	agents AgentExecutor,
	personas PersonaSource,
	policies PolicyStore,
	approvals ApprovalStore,
	chain *hooks.Chain,
	notifier ResultNotifier,
) *Executor {
	return &Executor{
		config:    cfg,
		jobs:      jobs,
		manager:   manager,
		agents:    agents,
		personas:  personas,
		policies:  policies,
		approvals: approvals,
		chain:     chain,
		notifier:  notifier,
		logger:    slog.Default().With("component", "job-executor"),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs the job once, including its retry loop. With dryRun the
// job's lastStatus/lastResult are left untouched; the execution record is
// still written with its dry-run flag set.
func (e *Executor) Execute(ctx context.Context, job *models.ScheduledJob, dryRun bool) {
	startedAt := time.Now()

	if !dryRun {
		if err := e.jobs.UpdateLastRun(ctx, job.ID, models.JobStatusRunning, "", startedAt); err != nil {
			e.logger.Error("Failed to mark job running", "job", job.Name, "error", err)
		}
	}

	runCtx := ctx
	if job.ExecutionTimeoutMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(job.ExecutionTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	result, err := e.runWithRetries(runCtx, job)

	status := models.JobStatusSuccess
	if err != nil {
		status = models.JobStatusFailed
		result = err.Error()
		e.logger.Warn("Scheduled job failed", "job", job.Name, "error", err)
	}
	result = truncateResult(result, e.config.MaxResultLength)
	completedAt := time.Now()

	if !dryRun {
		if err := e.jobs.UpdateLastRun(ctx, job.ID, status, result, startedAt); err != nil {
			e.logger.Error("Failed to record job outcome", "job", job.Name, "error", err)
		}
	}

	record := &models.ScheduledJobExecution{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		Status:      status,
		Result:      result,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
		DryRun:      dryRun,
	}
	if err := e.jobs.RecordExecution(ctx, record); err != nil {
		e.logger.Error("Failed to persist execution record", "job", job.Name, "error", err)
	}

	if e.notifier != nil && !dryRun {
		e.notifier.NotifyJobResult(ctx, job, status, result)
	}
}

// runWithRetries applies the job's retry policy around runOnce. Cancellation
// and deadline expiry are never retried.
func (e *Executor) runWithRetries(ctx context.Context, job *models.ScheduledJob) (string, error) {
	attempts := 1
	if job.RetryOnFailure && job.MaxRetryCount > 0 {
		attempts += job.MaxRetryCount
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := e.runOnce(ctx, job)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		if attempt < attempts {
			e.logger.Info("Retrying scheduled job",
				"job", job.Name, "attempt", attempt, "error", err)
			if serr := e.sleep(ctx, e.config.RetryDelay); serr != nil {
				return "", serr
			}
		}
	}
	return "", lastErr
}

func (e *Executor) runOnce(ctx context.Context, job *models.ScheduledJob) (string, error) {
	switch job.JobType {
	case models.JobTypeMcpTool:
		return e.runTool(ctx, job)
	case models.JobTypeAgent:
		return e.runAgent(ctx, job)
	default:
		return "", fmt.Errorf("unknown job type %q", job.JobType)
	}
}

func (e *Executor) runTool(ctx context.Context, job *models.ScheduledJob) (string, error) {
	if !e.manager.EnsureConnected(ctx, job.McpServerName) {
		return "", fmt.Errorf("%w: %s", ErrMcpDisconnected, job.McpServerName)
	}
	tool, ok := e.manager.FindTool(job.McpServerName, job.ToolName)
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrToolNotFound, job.ToolName, job.McpServerName)
	}

	hc := hooks.NewHookContext(uuid.NewString())
	hc.UserID = "scheduler"
	hc.Channel = "scheduler"
	hc.Metadata["schedulerJobId"] = job.ID
	hc.Metadata["schedulerJobName"] = job.Name
	hc.Metadata["toolName"] = job.ToolName
	hc.Metadata[hooks.MetaMcpServerPrefix+job.ToolName] = job.McpServerName

	if e.chain != nil {
		res, err := e.chain.Run(ctx, hooks.BeforeToolCall, hc)
		if err != nil {
			return "", err
		}
		if res.Rejected() {
			return "", fmt.Errorf("%w: %s", ErrHookRejected, res.Reason())
		}
	}

	if err := e.awaitApproval(ctx, job); err != nil {
		return "", err
	}

	result, err := tool.Call(ctx, job.ToolArguments)
	if err != nil {
		return "", fmt.Errorf("tool %s failed: %w", job.ToolName, err)
	}

	if e.chain != nil {
		if _, err := e.chain.Run(ctx, hooks.AfterToolCall, hc); err != nil {
			return "", err
		}
	}
	return result, nil
}

// awaitApproval blocks until a required approval is decided, polling the
// store. No policy, or a policy without requiresApproval, passes through.
func (e *Executor) awaitApproval(ctx context.Context, job *models.ScheduledJob) error {
	if e.policies == nil || e.approvals == nil {
		return nil
	}
	policy, err := e.policies.Find(ctx, job.ToolName, job.McpServerName)
	if err != nil {
		return fmt.Errorf("tool policy lookup: %w", err)
	}
	if policy == nil || !policy.Enabled || !policy.RequiresApproval {
		return nil
	}

	approval := &models.PendingApproval{
		ID:          uuid.NewString(),
		ToolName:    job.ToolName,
		ServerName:  job.McpServerName,
		RequestedBy: "scheduler:" + job.Name,
		Arguments:   job.ToolArguments,
	}
	if err := e.approvals.Create(ctx, approval); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	e.logger.Info("Tool call awaiting approval",
		"job", job.Name, "tool", job.ToolName, "approval_id", approval.ID)

	deadline := time.Now().Add(e.config.ApprovalTimeout)
	for time.Now().Before(deadline) {
		if err := e.sleep(ctx, e.config.ApprovalPollInterval); err != nil {
			return err
		}
		current, err := e.approvals.FindByID(ctx, approval.ID)
		if err != nil {
			return fmt.Errorf("poll approval %s: %w", approval.ID, err)
		}
		switch current.Status {
		case models.ApprovalApproved:
			return nil
		case models.ApprovalRejected:
			return fmt.Errorf("%w: %s by %s", ErrApprovalRejected, job.ToolName, current.DecidedBy)
		case models.ApprovalExpired:
			return fmt.Errorf("%w: %s", ErrApprovalTimeout, job.ToolName)
		}
	}
	return fmt.Errorf("%w: %s after %s", ErrApprovalTimeout, job.ToolName, e.config.ApprovalTimeout)
}

func (e *Executor) runAgent(ctx context.Context, job *models.ScheduledJob) (string, error) {
	if e.agents == nil {
		return "", errors.New("no agent executor configured")
	}

	cmd := AgentCommand{
		Prompt:       job.AgentPrompt,
		SystemPrompt: e.resolveSystemPrompt(ctx, job),
		Model:        job.AgentModel,
		MaxToolCalls: job.AgentMaxToolCalls,
		UserID:       "scheduler",
		Channel:      "scheduler",
		Metadata: map[string]any{
			"schedulerJobId":   job.ID,
			"schedulerJobName": job.Name,
		},
	}
	result, err := e.agents.Execute(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("agent execution: %w", err)
	}
	return result, nil
}

// resolveSystemPrompt walks the fallback chain: the job's own prompt, then
// its persona, then the default persona, then the built-in prompt.
func (e *Executor) resolveSystemPrompt(ctx context.Context, job *models.ScheduledJob) string {
	if job.AgentSystemPrompt != "" {
		return job.AgentSystemPrompt
	}
	if e.personas != nil {
		if job.PersonaID != "" {
			if p, err := e.personas.SystemPrompt(ctx, job.PersonaID); err == nil && p != "" {
				return p
			}
		}
		if p, err := e.personas.SystemPrompt(ctx, ""); err == nil && p != "" {
			return p
		}
	}
	return DefaultAgentSystemPrompt
}

// truncateResult cuts on a rune boundary at most limit characters in.
func truncateResult(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
