// Package store implements persistence for Argus: the append-only metric
// tables written in batches by the ingestion pipeline, the aggregate queries
// the alerting and quota paths read, and the sqlx-backed entity stores for
// tenants, alert rules, MCP servers, and scheduled jobs.
package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// MaxMessageLength caps error/reason/failure detail fields at the store
// boundary. Longer values are cut rune-safe.
const MaxMessageLength = 500

// MetricStore writes metric events in grouped batches. Each event type maps
// to one table; a partition is persisted in a single round trip via
// pgx.Batch. Rows are append-only.
type MetricStore struct {
	pool *pgxpool.Pool
}

// NewMetricStore creates a metric store over a pgx pool.
func NewMetricStore(pool *pgxpool.Pool) *MetricStore {
	return &MetricStore{pool: pool}
}

// BatchInsert persists events grouped by concrete type, one batch statement
// set per type, each group in its own round trip. A failure in one group
// does not prevent the others; the first error is returned after all groups
// were attempted.
func (s *MetricStore) BatchInsert(ctx context.Context, events []models.MetricEvent) error {
	if len(events) == 0 {
		return nil
	}

	groups := make(map[models.EventType][]models.MetricEvent)
	for _, e := range events {
		groups[e.EventType()] = append(groups[e.EventType()], e)
	}

	var firstErr error
	for eventType, group := range groups {
		if err := s.insertGroup(ctx, eventType, group); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("batch insert %s: %w", eventType, err)
		}
	}
	return firstErr
}

func (s *MetricStore) insertGroup(ctx context.Context, eventType models.EventType, group []models.MetricEvent) error {
	batch := &pgx.Batch{}
	for _, e := range group {
		queueEvent(batch, e)
	}
	if batch.Len() == 0 {
		return nil
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// queueEvent appends the insert for one event to the batch. Message-like
// fields are truncated here; this is the single enforcement point for the
// 500-char bound.
func queueEvent(batch *pgx.Batch, event models.MetricEvent) {
	switch e := event.(type) {
	case *models.AgentExecutionEvent:
		batch.Queue(`INSERT INTO metric_agent_executions
			(time, tenant_id, run_id, user_id, session_id, channel, success, error_code,
			 duration_ms, llm_duration_ms, tool_duration_ms, guard_duration_ms, queue_wait_ms,
			 tool_count, persona_id, prompt_template_id, intent_category,
			 guard_rejected, guard_stage, guard_category, fallback_used, retry_count)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
			e.EventTime(), e.Tenant(), e.RunID, e.UserID, e.SessionID, e.Channel,
			e.Success, e.ErrorCode, e.DurationMs, e.LLMDurationMs, e.ToolDurationMs,
			e.GuardDurationMs, e.QueueWaitMs, e.ToolCount, e.PersonaID,
			e.PromptTemplateID, e.IntentCategory, e.GuardRejected, e.GuardStage,
			e.GuardCategory, e.FallbackUsed, e.RetryCount)

	case *models.ToolCallEvent:
		batch.Queue(`INSERT INTO metric_tool_calls
			(time, tenant_id, run_id, tool_name, tool_source, mcp_server_name,
			 call_index, success, duration_ms, error_class, error_message)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.EventTime(), e.Tenant(), e.RunID, e.ToolName, string(e.ToolSource),
			e.McpServerName, e.CallIndex, e.Success, e.DurationMs, e.ErrorClass,
			TruncateMessage(e.ErrorMessage))

	case *models.TokenUsageEvent:
		batch.Queue(`INSERT INTO metric_token_usage
			(time, tenant_id, run_id, model, provider, step_type,
			 prompt_tokens, completion_tokens, reasoning_tokens, total_tokens, estimated_cost_usd)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.EventTime(), e.Tenant(), e.RunID, e.Model, e.Provider, e.StepType,
			e.PromptTokens, e.CompletionTokens, e.ReasoningTokens, e.TotalTokens,
			e.EstimatedCostUsd)

	case *models.SessionEvent:
		batch.Queue(`INSERT INTO metric_sessions
			(time, tenant_id, session_id, user_id, channel, turn_count,
			 total_duration_ms, total_tokens, total_cost_usd, started_at, ended_at, outcome)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			e.EventTime(), e.Tenant(), e.SessionID, e.UserID, e.Channel, e.TurnCount,
			e.TotalDurationMs, e.TotalTokens, e.TotalCostUsd, e.StartedAt, e.EndedAt,
			e.Outcome)

	case *models.GuardEvent:
		batch.Queue(`INSERT INTO metric_guard_events
			(time, tenant_id, user_id, channel, stage, category,
			 reason_class, reason_detail, is_output_guard, action)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			e.EventTime(), e.Tenant(), e.UserID, e.Channel, e.Stage, e.Category,
			e.ReasonClass, TruncateMessage(e.ReasonDetail), e.IsOutputGuard,
			string(e.Action))

	case *models.McpHealthEvent:
		batch.Queue(`INSERT INTO metric_mcp_health
			(time, tenant_id, server_name, status, response_time_ms,
			 error_class, error_message, tool_count)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			e.EventTime(), e.Tenant(), e.ServerName, e.Status, e.ResponseTimeMs,
			e.ErrorClass, TruncateMessage(e.ErrorMessage), e.ToolCount)

	case *models.QuotaEvent:
		batch.Queue(`INSERT INTO metric_quota_events
			(time, tenant_id, action, current_usage, quota_limit, reason)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			e.EventTime(), e.Tenant(), string(e.Action), e.CurrentUsage,
			e.QuotaLimit, e.Reason)

	case *models.EvalResultEvent:
		batch.Queue(`INSERT INTO metric_eval_results
			(time, tenant_id, eval_run_id, test_case_id, pass, score, latency_ms,
			 token_usage, cost, assertion_type, failure_class, failure_detail, tags)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			e.EventTime(), e.Tenant(), e.EvalRunID, e.TestCaseID, e.Pass, e.Score,
			e.LatencyMs, e.TokenUsage, e.Cost, e.AssertionType, e.FailureClass,
			TruncateMessage(e.FailureDetail), e.Tags)
	}
}

// TruncateMessage cuts s to MaxMessageLength characters without splitting a
// multi-byte rune. Counted in runes, not bytes, so the stored value is a
// valid string of at most 500 characters.
func TruncateMessage(s string) string {
	if utf8.RuneCountInString(s) <= MaxMessageLength {
		return s
	}
	runes := 0
	for i := range s {
		if runes == MaxMessageLength {
			return s[:i]
		}
		runes++
	}
	return s
}
