package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/mcp"
	"github.com/codeready-toolchain/argus/pkg/models"
)

type lastRun struct {
	status models.JobStatus
	result string
}

type memoryJobStore struct {
	mu         sync.Mutex
	jobs       map[string]*models.ScheduledJob
	runs       []lastRun
	executions []*models.ScheduledJobExecution
}

func newMemoryJobStore(jobs ...*models.ScheduledJob) *memoryJobStore {
	s := &memoryJobStore{jobs: make(map[string]*models.ScheduledJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memoryJobStore) FindByID(_ context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	return j, nil
}

func (s *memoryJobStore) List(context.Context, bool) ([]*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScheduledJob
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (s *memoryJobStore) Save(_ context.Context, j *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *memoryJobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memoryJobStore) UpdateLastRun(_ context.Context, _ string, status models.JobStatus, result string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, lastRun{status: status, result: result})
	return nil
}

func (s *memoryJobStore) RecordExecution(_ context.Context, e *models.ScheduledJobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, e)
	return nil
}

type stubManager struct {
	connected bool
	tool      mcp.ToolCallback
	hasTool   bool
}

func (s *stubManager) EnsureConnected(context.Context, string) bool { return s.connected }

func (s *stubManager) FindTool(string, string) (mcp.ToolCallback, bool) {
	return s.tool, s.hasTool
}

type stubApprovals struct {
	mu       sync.Mutex
	created  *models.PendingApproval
	statuses []models.PendingApprovalStatus
	polls    int
}

func (s *stubApprovals) Create(_ context.Context, a *models.PendingApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = a
	return nil
}

func (s *stubApprovals) FindByID(_ context.Context, id string) (*models.PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.statuses[len(s.statuses)-1]
	if s.polls < len(s.statuses) {
		status = s.statuses[s.polls]
	}
	s.polls++
	return &models.PendingApproval{ID: id, Status: status, DecidedBy: "admin"}, nil
}

type stubPolicies struct {
	policy *models.ToolPolicy
}

func (s *stubPolicies) Find(context.Context, string, string) (*models.ToolPolicy, error) {
	return s.policy, nil
}

type stubAgent struct {
	lastCmd AgentCommand
	result  string
	err     error
}

func (s *stubAgent) Execute(_ context.Context, cmd AgentCommand) (string, error) {
	s.lastCmd = cmd
	return s.result, s.err
}

type stubPersonas struct {
	prompts map[string]string
}

func (s *stubPersonas) SystemPrompt(_ context.Context, personaID string) (string, error) {
	return s.prompts[personaID], nil
}

func fastSchedulerConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{
		RetryDelay:           time.Millisecond,
		MaxResultLength:      50000,
		ApprovalPollInterval: time.Millisecond,
		ApprovalTimeout:      time.Second,
	}
}

func toolJob() *models.ScheduledJob {
	return &models.ScheduledJob{
		ID:            uuid.NewString(),
		Name:          "nightly-report",
		JobType:       models.JobTypeMcpTool,
		McpServerName: "reports",
		ToolName:      "generate",
		ToolArguments: map[string]any{"format": "csv"},
		Enabled:       true,
	}
}

func executorFixture(store *memoryJobStore, manager McpManager, approvals ApprovalStore, policies PolicyStore) *Executor {
	return NewExecutor(fastSchedulerConfig(), store, manager, nil, nil,
		policies, approvals, hooks.NewChain(), nil)
}

func successTool(result string) mcp.ToolCallback {
	return mcp.ToolCallback{
		Name: "generate",
		Call: func(context.Context, map[string]any) (string, error) {
			return result, nil
		},
	}
}

func TestExecute_ToolJobSuccess(t *testing.T) {
	job := toolJob()
	store := newMemoryJobStore(job)
	manager := &stubManager{connected: true, hasTool: true, tool: successTool("42 rows")}
	e := executorFixture(store, manager, nil, nil)

	e.Execute(context.Background(), job, false)

	require.Len(t, store.runs, 2)
	assert.Equal(t, models.JobStatusRunning, store.runs[0].status)
	assert.Equal(t, models.JobStatusSuccess, store.runs[1].status)
	assert.Equal(t, "42 rows", store.runs[1].result)

	require.Len(t, store.executions, 1)
	rec := store.executions[0]
	assert.Equal(t, models.JobStatusSuccess, rec.Status)
	assert.Equal(t, job.ID, rec.JobID)
	assert.False(t, rec.DryRun)
}

func TestExecute_DisconnectedServerFails(t *testing.T) {
	job := toolJob()
	store := newMemoryJobStore(job)
	e := executorFixture(store, &stubManager{connected: false}, nil, nil)

	e.Execute(context.Background(), job, false)

	require.Len(t, store.runs, 2)
	assert.Equal(t, models.JobStatusFailed, store.runs[1].status)
	assert.Contains(t, store.runs[1].result, "not connected")
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	job := toolJob()
	job.RetryOnFailure = true
	job.MaxRetryCount = 3
	store := newMemoryJobStore(job)

	var calls int
	manager := &stubManager{connected: true, hasTool: true, tool: mcp.ToolCallback{
		Call: func(context.Context, map[string]any) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("flaky upstream")
			}
			return "done", nil
		},
	}}
	e := executorFixture(store, manager, nil, nil)

	e.Execute(context.Background(), job, false)

	assert.Equal(t, 3, calls)
	assert.Equal(t, models.JobStatusSuccess, store.runs[1].status)
}

func TestExecute_ExhaustedRetriesFail(t *testing.T) {
	job := toolJob()
	job.RetryOnFailure = true
	job.MaxRetryCount = 2
	store := newMemoryJobStore(job)

	var calls int
	manager := &stubManager{connected: true, hasTool: true, tool: mcp.ToolCallback{
		Call: func(context.Context, map[string]any) (string, error) {
			calls++
			return "", errors.New("always broken")
		},
	}}
	e := executorFixture(store, manager, nil, nil)

	e.Execute(context.Background(), job, false)

	assert.Equal(t, 3, calls)
	assert.Equal(t, models.JobStatusFailed, store.runs[1].status)
}

func TestExecute_CancellationNotRetried(t *testing.T) {
	job := toolJob()
	job.RetryOnFailure = true
	job.MaxRetryCount = 5
	store := newMemoryJobStore(job)

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	manager := &stubManager{connected: true, hasTool: true, tool: mcp.ToolCallback{
		Call: func(ctx context.Context, _ map[string]any) (string, error) {
			calls++
			cancel()
			return "", ctx.Err()
		},
	}}
	e := executorFixture(store, manager, nil, nil)

	e.Execute(ctx, job, false)
	assert.Equal(t, 1, calls)
}

func TestExecute_TimeoutFailsJob(t *testing.T) {
	job := toolJob()
	job.ExecutionTimeoutMs = 20
	store := newMemoryJobStore(job)
	manager := &stubManager{connected: true, hasTool: true, tool: mcp.ToolCallback{
		Call: func(ctx context.Context, _ map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}}
	e := executorFixture(store, manager, nil, nil)

	e.Execute(context.Background(), job, false)
	assert.Equal(t, models.JobStatusFailed, store.runs[1].status)
}

func TestExecute_ApprovalGrantedAfterPolling(t *testing.T) {
	job := toolJob()
	store := newMemoryJobStore(job)
	manager := &stubManager{connected: true, hasTool: true, tool: successTool("ok")}
	approvals := &stubApprovals{statuses: []models.PendingApprovalStatus{
		models.ApprovalPending, models.ApprovalPending, models.ApprovalApproved,
	}}
	policies := &stubPolicies{policy: &models.ToolPolicy{
		ToolName: "generate", RequiresApproval: true, Enabled: true,
	}}
	e := executorFixture(store, manager, approvals, policies)

	e.Execute(context.Background(), job, false)

	assert.Equal(t, models.JobStatusSuccess, store.runs[1].status)
	require.NotNil(t, approvals.created)
	assert.Equal(t, "scheduler:nightly-report", approvals.created.RequestedBy)
	assert.GreaterOrEqual(t, approvals.polls, 3)
}

func TestExecute_ApprovalRejected(t *testing.T) {
	job := toolJob()
	store := newMemoryJobStore(job)
	var toolCalled bool
	manager := &stubManager{connected: true, hasTool: true, tool: mcp.ToolCallback{
		Call: func(context.Context, map[string]any) (string, error) {
			toolCalled = true
			return "", nil
		},
	}}
	approvals := &stubApprovals{statuses: []models.PendingApprovalStatus{models.ApprovalRejected}}
	policies := &stubPolicies{policy: &models.ToolPolicy{
		ToolName: "generate", RequiresApproval: true, Enabled: true,
	}}
	e := executorFixture(store, manager, approvals, policies)

	e.Execute(context.Background(), job, false)

	assert.False(t, toolCalled)
	assert.Equal(t, models.JobStatusFailed, store.runs[1].status)
	assert.Contains(t, store.runs[1].result, "approval rejected")
}

func TestExecute_DisabledPolicySkipsApproval(t *testing.T) {
	job := toolJob()
	store := newMemoryJobStore(job)
	manager := &stubManager{connected: true, hasTool: true, tool: successTool("ok")}
	approvals := &stubApprovals{statuses: []models.PendingApprovalStatus{models.ApprovalPending}}
	policies := &stubPolicies{policy: &models.ToolPolicy{
		ToolName: "generate", RequiresApproval: true, Enabled: false,
	}}
	e := executorFixture(store, manager, approvals, policies)

	e.Execute(context.Background(), job, false)

	assert.Equal(t, models.JobStatusSuccess, store.runs[1].status)
	assert.Nil(t, approvals.created)
}

func TestExecute_DryRunSkipsLastRunState(t *testing.T) {
	job := toolJob()
	store := newMemoryJobStore(job)
	manager := &stubManager{connected: true, hasTool: true, tool: successTool("preview")}
	e := executorFixture(store, manager, nil, nil)

	e.Execute(context.Background(), job, true)

	assert.Empty(t, store.runs)
	require.Len(t, store.executions, 1)
	assert.True(t, store.executions[0].DryRun)
	assert.Equal(t, "preview", store.executions[0].Result)
}

type rejectAllHook struct{}

func (rejectAllHook) Name() string        { return "reject-all" }
func (rejectAllHook) Order() int          { return 1 }
func (rejectAllHook) Enabled() bool       { return true }
func (rejectAllHook) FailOnError() bool   { return true }
func (rejectAllHook) Kinds() []hooks.Kind { return []hooks.Kind{hooks.BeforeToolCall} }
func (rejectAllHook) Invoke(context.Context, hooks.Kind, *hooks.HookContext) (hooks.Result, error) {
	return hooks.Reject("tool blocked"), nil
}

func TestExecute_HookRejectionBlocksTool(t *testing.T) {
	job := toolJob()
	store := newMemoryJobStore(job)
	var toolCalled bool
	manager := &stubManager{connected: true, hasTool: true, tool: mcp.ToolCallback{
		Call: func(context.Context, map[string]any) (string, error) {
			toolCalled = true
			return "", nil
		},
	}}
	chain := hooks.NewChain()
	chain.Register(rejectAllHook{})
	e := NewExecutor(fastSchedulerConfig(), store, manager, nil, nil, nil, nil, chain, nil)

	e.Execute(context.Background(), job, false)

	assert.False(t, toolCalled)
	assert.Equal(t, models.JobStatusFailed, store.runs[1].status)
	assert.Contains(t, store.runs[1].result, "tool blocked")
}

func TestExecute_ResultTruncated(t *testing.T) {
	job := toolJob()
	store := newMemoryJobStore(job)
	manager := &stubManager{connected: true, hasTool: true,
		tool: successTool(strings.Repeat("x", 60000))}
	e := executorFixture(store, manager, nil, nil)

	e.Execute(context.Background(), job, false)
	assert.Len(t, store.executions[0].Result, 50000)
}

func TestExecute_AgentJob(t *testing.T) {
	job := &models.ScheduledJob{
		ID:          uuid.NewString(),
		Name:        "daily-summary",
		JobType:     models.JobTypeAgent,
		AgentPrompt: "Summarize yesterday",
		Enabled:     true,
	}
	store := newMemoryJobStore(job)
	agent := &stubAgent{result: "all quiet"}
	e := NewExecutor(fastSchedulerConfig(), store, &stubManager{}, agent,
		&stubPersonas{}, nil, nil, nil, nil)

	e.Execute(context.Background(), job, false)

	assert.Equal(t, models.JobStatusSuccess, store.runs[1].status)
	assert.Equal(t, "all quiet", store.runs[1].result)
	assert.Equal(t, "scheduler", agent.lastCmd.UserID)
	assert.Equal(t, "scheduler", agent.lastCmd.Channel)
	assert.Equal(t, job.ID, agent.lastCmd.Metadata["schedulerJobId"])
	assert.Equal(t, "daily-summary", agent.lastCmd.Metadata["schedulerJobName"])
}

func TestResolveSystemPrompt_FallbackChain(t *testing.T) {
	e := NewExecutor(fastSchedulerConfig(), newMemoryJobStore(), &stubManager{},
		&stubAgent{}, &stubPersonas{prompts: map[string]string{
			"sre": "You are an SRE.",
			"":    "You are the default persona.",
		}}, nil, nil, nil, nil)
	ctx := context.Background()

	job := &models.ScheduledJob{AgentSystemPrompt: "explicit"}
	assert.Equal(t, "explicit", e.resolveSystemPrompt(ctx, job))

	job = &models.ScheduledJob{PersonaID: "sre"}
	assert.Equal(t, "You are an SRE.", e.resolveSystemPrompt(ctx, job))

	job = &models.ScheduledJob{PersonaID: "unknown"}
	assert.Equal(t, "You are the default persona.", e.resolveSystemPrompt(ctx, job))

	e.personas = &stubPersonas{}
	assert.Equal(t, DefaultAgentSystemPrompt, e.resolveSystemPrompt(ctx, &models.ScheduledJob{}))
}
