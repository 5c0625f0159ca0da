package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// JobStore persists scheduled job definitions and their execution records.
type JobStore struct {
	db *sqlx.DB
}

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

type jobRow struct {
	ID                 string           `db:"id"`
	Name               string           `db:"name"`
	CronExpression     string           `db:"cron_expression"`
	Timezone           string           `db:"timezone"`
	JobType            models.JobType   `db:"job_type"`
	McpServerName      string           `db:"mcp_server_name"`
	ToolName           string           `db:"tool_name"`
	ToolArguments      []byte           `db:"tool_arguments"`
	AgentPrompt        string           `db:"agent_prompt"`
	PersonaID          string           `db:"persona_id"`
	AgentSystemPrompt  string           `db:"agent_system_prompt"`
	AgentModel         string           `db:"agent_model"`
	AgentMaxToolCalls  int              `db:"agent_max_tool_calls"`
	RetryOnFailure     bool             `db:"retry_on_failure"`
	MaxRetryCount      int              `db:"max_retry_count"`
	ExecutionTimeoutMs int64            `db:"execution_timeout_ms"`
	SlackChannelID     string           `db:"slack_channel_id"`
	TeamsWebhookURL    string           `db:"teams_webhook_url"`
	Enabled            bool             `db:"enabled"`
	LastRunAt          sql.NullTime     `db:"last_run_at"`
	LastStatus         models.JobStatus `db:"last_status"`
	LastResult         string           `db:"last_result"`
	CreatedAt          time.Time        `db:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"`
}

func (r *jobRow) toModel() (*models.ScheduledJob, error) {
	j := &models.ScheduledJob{
		ID:                 r.ID,
		Name:               r.Name,
		CronExpression:     r.CronExpression,
		Timezone:           r.Timezone,
		JobType:            r.JobType,
		McpServerName:      r.McpServerName,
		ToolName:           r.ToolName,
		AgentPrompt:        r.AgentPrompt,
		PersonaID:          r.PersonaID,
		AgentSystemPrompt:  r.AgentSystemPrompt,
		AgentModel:         r.AgentModel,
		AgentMaxToolCalls:  r.AgentMaxToolCalls,
		RetryOnFailure:     r.RetryOnFailure,
		MaxRetryCount:      r.MaxRetryCount,
		ExecutionTimeoutMs: r.ExecutionTimeoutMs,
		SlackChannelID:     r.SlackChannelID,
		TeamsWebhookURL:    r.TeamsWebhookURL,
		Enabled:            r.Enabled,
		LastStatus:         r.LastStatus,
		LastResult:         r.LastResult,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if len(r.ToolArguments) > 0 {
		if err := json.Unmarshal(r.ToolArguments, &j.ToolArguments); err != nil {
			return nil, fmt.Errorf("decode tool arguments for job %s: %w", r.Name, err)
		}
	}
	if r.LastRunAt.Valid {
		t := r.LastRunAt.Time
		j.LastRunAt = &t
	}
	return j, nil
}

const jobColumns = `
	id, name, cron_expression, timezone, job_type,
	coalesce(mcp_server_name, '') AS mcp_server_name,
	coalesce(tool_name, '') AS tool_name,
	tool_arguments,
	coalesce(agent_prompt, '') AS agent_prompt,
	coalesce(persona_id, '') AS persona_id,
	coalesce(agent_system_prompt, '') AS agent_system_prompt,
	coalesce(agent_model, '') AS agent_model,
	coalesce(agent_max_tool_calls, 0) AS agent_max_tool_calls,
	retry_on_failure, max_retry_count, coalesce(execution_timeout_ms, 0) AS execution_timeout_ms,
	coalesce(slack_channel_id, '') AS slack_channel_id,
	coalesce(teams_webhook_url, '') AS teams_webhook_url,
	enabled, last_run_at,
	coalesce(last_status, '') AS last_status,
	coalesce(last_result, '') AS last_result,
	created_at, updated_at`

// FindByID loads one job. Returns ErrNotFound when absent.
func (s *JobStore) FindByID(ctx context.Context, id string) (*models.ScheduledJob, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scheduled job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load scheduled job %s: %w", id, err)
	}
	return row.toModel()
}

// List returns all jobs ordered by name. Pass enabledOnly to restrict to
// jobs the scheduler should register.
func (s *JobStore) List(ctx context.Context, enabledOnly bool) ([]*models.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	jobs := make([]*models.ScheduledJob, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Save upserts a job by ID; a blank ID gets a generated UUID.
func (s *JobStore) Save(ctx context.Context, j *models.ScheduledJob) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	args, err := json.Marshal(j.ToolArguments)
	if err != nil {
		return fmt.Errorf("encode tool arguments for job %s: %w", j.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs
			(id, name, cron_expression, timezone, job_type,
			 mcp_server_name, tool_name, tool_arguments,
			 agent_prompt, persona_id, agent_system_prompt, agent_model, agent_max_tool_calls,
			 retry_on_failure, max_retry_count, execution_timeout_ms,
			 slack_channel_id, teams_webhook_url, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,
		        NULLIF($6,''), NULLIF($7,''), $8,
		        NULLIF($9,''), NULLIF($10,''), NULLIF($11,''), NULLIF($12,''), $13,
		        $14, $15, $16,
		        NULLIF($17,''), NULLIF($18,''), $19, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			cron_expression = EXCLUDED.cron_expression,
			timezone = EXCLUDED.timezone,
			job_type = EXCLUDED.job_type,
			mcp_server_name = EXCLUDED.mcp_server_name,
			tool_name = EXCLUDED.tool_name,
			tool_arguments = EXCLUDED.tool_arguments,
			agent_prompt = EXCLUDED.agent_prompt,
			persona_id = EXCLUDED.persona_id,
			agent_system_prompt = EXCLUDED.agent_system_prompt,
			agent_model = EXCLUDED.agent_model,
			agent_max_tool_calls = EXCLUDED.agent_max_tool_calls,
			retry_on_failure = EXCLUDED.retry_on_failure,
			max_retry_count = EXCLUDED.max_retry_count,
			execution_timeout_ms = EXCLUDED.execution_timeout_ms,
			slack_channel_id = EXCLUDED.slack_channel_id,
			teams_webhook_url = EXCLUDED.teams_webhook_url,
			enabled = EXCLUDED.enabled,
			updated_at = now()`,
		j.ID, j.Name, j.CronExpression, j.Timezone, j.JobType,
		j.McpServerName, j.ToolName, args,
		j.AgentPrompt, j.PersonaID, j.AgentSystemPrompt, j.AgentModel, j.AgentMaxToolCalls,
		j.RetryOnFailure, j.MaxRetryCount, j.ExecutionTimeoutMs,
		j.SlackChannelID, j.TeamsWebhookURL, j.Enabled)
	if err != nil {
		return fmt.Errorf("save scheduled job %s: %w", j.Name, err)
	}
	return nil
}

// Delete removes a job and its execution history.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete scheduled job %s: %w", id, err)
	}
	return nil
}

// UpdateLastRun records the outcome of the latest run on the job row.
// Dry runs never call this.
func (s *JobStore) UpdateLastRun(ctx context.Context, id string, status models.JobStatus, result string, ranAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET last_run_at = $2, last_status = $3, last_result = $4, updated_at = now()
		WHERE id = $1`,
		id, ranAt, status, result)
	if err != nil {
		return fmt.Errorf("update last run for job %s: %w", id, err)
	}
	return nil
}

// RecordExecution appends one execution record; a blank ID gets a UUID.
func (s *JobStore) RecordExecution(ctx context.Context, e *models.ScheduledJobExecution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_job_executions
			(id, job_id, status, result, started_at, completed_at, duration_ms, dry_run)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.JobID, e.Status, e.Result, e.StartedAt, e.CompletedAt, e.DurationMs, e.DryRun)
	if err != nil {
		return fmt.Errorf("record execution for job %s: %w", e.JobID, err)
	}
	return nil
}

// ListExecutions returns the most recent executions of a job, newest first.
func (s *JobStore) ListExecutions(ctx context.Context, jobID string, limit int) ([]*models.ScheduledJobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*models.ScheduledJobExecution
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, job_id, status, coalesce(result, '') AS result,
		       started_at, completed_at, duration_ms, dry_run
		FROM scheduled_job_executions
		WHERE job_id = $1 ORDER BY started_at DESC LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for job %s: %w", jobID, err)
	}
	return out, nil
}
