package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// MetricQueryService answers the aggregate questions the alerting, quota,
// and SLO paths ask of the raw metric tables. All queries are tenant-scoped
// and window-bounded; they never mutate.
type MetricQueryService struct {
	pool *pgxpool.Pool
}

func NewMetricQueryService(pool *pgxpool.Pool) *MetricQueryService {
	return &MetricQueryService{pool: pool}
}

// GetSuccessRate returns successful/total agent executions for the tenant in
// the window, and the total count. A window with zero executions returns
// rate 1.0.
func (q *MetricQueryService) GetSuccessRate(ctx context.Context, tenantID string, window time.Duration) (float64, int64, error) {
	var total, succeeded int64
	err := q.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE success)
		FROM metric_agent_executions
		WHERE tenant_id = $1 AND time >= now() - $2::interval`,
		tenantID, window.String()).Scan(&total, &succeeded)
	if err != nil {
		return 0, 0, fmt.Errorf("success rate for tenant %s: %w", tenantID, err)
	}
	if total == 0 {
		return 1.0, 0, nil
	}
	return float64(succeeded) / float64(total), total, nil
}

// GetLatencyPercentiles returns p50/p95/p99 of agent execution duration in
// the window. Zero values when the window is empty.
func (q *MetricQueryService) GetLatencyPercentiles(ctx context.Context, tenantID string, window time.Duration) (models.LatencyPercentiles, error) {
	var p models.LatencyPercentiles
	err := q.pool.QueryRow(ctx, `
		SELECT
			coalesce(percentile_cont(0.50) WITHIN GROUP (ORDER BY duration_ms), 0)::bigint,
			coalesce(percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms), 0)::bigint,
			coalesce(percentile_cont(0.99) WITHIN GROUP (ORDER BY duration_ms), 0)::bigint
		FROM metric_agent_executions
		WHERE tenant_id = $1 AND time >= now() - $2::interval`,
		tenantID, window.String()).Scan(&p.P50, &p.P95, &p.P99)
	if err != nil {
		return models.LatencyPercentiles{}, fmt.Errorf("latency percentiles for tenant %s: %w", tenantID, err)
	}
	return p, nil
}

// GetCurrentMonthUsage aggregates requests, tokens, and cost for the tenant
// since the start of the current calendar month (UTC).
func (q *MetricQueryService) GetCurrentMonthUsage(ctx context.Context, tenantID string) (models.TenantUsage, error) {
	var u models.TenantUsage
	err := q.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM metric_agent_executions
			 WHERE tenant_id = $1 AND time >= date_trunc('month', now() AT TIME ZONE 'UTC')),
			(SELECT coalesce(sum(total_tokens), 0) FROM metric_token_usage
			 WHERE tenant_id = $1 AND time >= date_trunc('month', now() AT TIME ZONE 'UTC')),
			(SELECT coalesce(sum(estimated_cost_usd), 0) FROM metric_token_usage
			 WHERE tenant_id = $1 AND time >= date_trunc('month', now() AT TIME ZONE 'UTC'))`,
		tenantID).Scan(&u.Requests, &u.Tokens, &u.CostUsd)
	if err != nil {
		return models.TenantUsage{}, fmt.Errorf("current month usage for tenant %s: %w", tenantID, err)
	}
	return u, nil
}

// GetHourlyCost returns the estimated USD cost accrued by the tenant over
// the past hour.
func (q *MetricQueryService) GetHourlyCost(ctx context.Context, tenantID string) (float64, error) {
	var cost float64
	err := q.pool.QueryRow(ctx, `
		SELECT coalesce(sum(estimated_cost_usd), 0)
		FROM metric_token_usage
		WHERE tenant_id = $1 AND time >= now() - interval '1 hour'`,
		tenantID).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("hourly cost for tenant %s: %w", tenantID, err)
	}
	return cost, nil
}

// GetMaxConsecutiveMcpFailures returns the longest run of consecutive FAILED
// health records across the tenant's MCP servers in the window. Streaks are
// computed per server in time order.
func (q *MetricQueryService) GetMaxConsecutiveMcpFailures(ctx context.Context, tenantID string, window time.Duration) (int64, error) {
	var maxStreak int64
	err := q.pool.QueryRow(ctx, `
		WITH ordered AS (
			SELECT server_name, status,
				row_number() OVER (PARTITION BY server_name ORDER BY time) -
				row_number() OVER (PARTITION BY server_name, status ORDER BY time) AS grp
			FROM metric_mcp_health
			WHERE tenant_id = $1 AND time >= now() - $2::interval
		)
		SELECT coalesce(max(streak), 0) FROM (
			SELECT count(*) AS streak
			FROM ordered
			WHERE status = 'FAILED'
			GROUP BY server_name, grp
		) runs`,
		tenantID, window.String()).Scan(&maxStreak)
	if err != nil {
		return 0, fmt.Errorf("consecutive mcp failures for tenant %s: %w", tenantID, err)
	}
	return maxStreak, nil
}

// GetBaseline computes the historical hourly distribution of a metric for
// anomaly detection: mean and stddev of hourly buckets over the lookback
// period, plus the number of buckets. NULL aggregates (no data) coerce to
// zero, which callers treat as an unavailable baseline.
func (q *MetricQueryService) GetBaseline(ctx context.Context, tenantID string, metric models.AlertMetric, lookback time.Duration) (*models.Baseline, error) {
	var expr string
	switch metric {
	case models.MetricErrorRate:
		expr = `1.0 - avg(CASE WHEN success THEN 1.0 ELSE 0.0 END)`
	case models.MetricLatencyP99:
		expr = `percentile_cont(0.99) WITHIN GROUP (ORDER BY duration_ms)`
	default:
		return nil, fmt.Errorf("no baseline defined for metric %s", metric)
	}

	b := &models.Baseline{TenantID: tenantID, Metric: string(metric)}
	err := q.pool.QueryRow(ctx, fmt.Sprintf(`
		WITH hourly AS (
			SELECT date_trunc('hour', time) AS bucket, %s AS value
			FROM metric_agent_executions
			WHERE tenant_id = $1 AND time >= now() - $2::interval
			GROUP BY bucket
		)
		SELECT coalesce(avg(value), 0), coalesce(stddev_pop(value), 0), count(*)
		FROM hourly`, expr),
		tenantID, lookback.String()).Scan(&b.Mean, &b.StdDev, &b.SampleCount)
	if err != nil {
		return nil, fmt.Errorf("baseline %s for tenant %s: %w", metric, tenantID, err)
	}
	return b, nil
}
