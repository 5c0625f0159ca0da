package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// rawMetricTables age out after retention.rawDays.
var rawMetricTables = []string{
	"metric_agent_executions",
	"metric_tool_calls",
	"metric_token_usage",
	"metric_sessions",
	"metric_guard_events",
	"metric_mcp_health",
	"metric_eval_results",
	"metric_spans",
}

// RetentionStore deletes rows past their retention windows. Quota events and
// job execution history are audit data with a longer window than the raw
// metric tables.
type RetentionStore struct {
	db *sqlx.DB
}

func NewRetentionStore(db *sqlx.DB) *RetentionStore {
	return &RetentionStore{db: db}
}

// DeleteRawMetricsBefore removes raw metric rows older than cutoff across
// all metric tables. Returns the total number of rows removed.
func (s *RetentionStore) DeleteRawMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range rawMetricTables {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE time < $1`, table), cutoff)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// DeleteAuditRowsBefore removes quota events and job execution history older
// than cutoff.
func (s *RetentionStore) DeleteAuditRowsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM metric_quota_events WHERE time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge quota events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge quota events: %w", err)
	}
	total += n

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM scheduled_job_executions WHERE started_at < $1`, cutoff)
	if err != nil {
		return total, fmt.Errorf("purge job executions: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return total, fmt.Errorf("purge job executions: %w", err)
	}
	return total + n, nil
}

// DeleteResolvedAlertsBefore removes RESOLVED alert instances older than
// cutoff. ACTIVE instances are never touched.
func (s *RetentionStore) DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_instances WHERE status = 'RESOLVED' AND resolved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge resolved alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge resolved alerts: %w", err)
	}
	return n, nil
}
