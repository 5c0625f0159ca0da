package models

import "time"

// AlertRuleType selects the evaluation strategy for a rule.
type AlertRuleType string

const (
	RuleStaticThreshold AlertRuleType = "STATIC_THRESHOLD"
	RuleBaselineAnomaly AlertRuleType = "BASELINE_ANOMALY"
	RuleErrorBudgetBurn AlertRuleType = "ERROR_BUDGET_BURN_RATE"
)

// AlertMetric enumerates the metrics a rule can evaluate.
type AlertMetric string

const (
	MetricErrorRate              AlertMetric = "error_rate"
	MetricLatencyP99             AlertMetric = "latency_p99"
	MetricHourlyCost             AlertMetric = "hourly_cost"
	MetricBurnRate               AlertMetric = "burn_rate"
	MetricTokenBudgetUsage       AlertMetric = "token_budget_usage"
	MetricMcpConsecutiveFailures AlertMetric = "mcp_consecutive_failures"
	MetricPipelineBufferUsage    AlertMetric = "pipeline_buffer_usage"
	MetricAggregateRefreshLagMs  AlertMetric = "aggregate_refresh_lag_ms"
)

// AlertSeverity orders alert importance.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertStatus is the lifecycle state of an alert instance.
type AlertStatus string

const (
	AlertActive   AlertStatus = "ACTIVE"
	AlertResolved AlertStatus = "RESOLVED"
)

// AlertRule defines a condition evaluated on every alerting cycle.
// TenantID is empty for platform-wide rules.
type AlertRule struct {
	ID            string        `db:"id" json:"id"`
	TenantID      string        `db:"tenant_id" json:"tenantId,omitempty"`
	Name          string        `db:"name" json:"name"`
	Type          AlertRuleType `db:"rule_type" json:"type"`
	Metric        AlertMetric   `db:"metric" json:"metric"`
	Threshold     float64       `db:"threshold" json:"threshold"`
	WindowMinutes int           `db:"window_minutes" json:"windowMinutes"`
	Severity      AlertSeverity `db:"severity" json:"severity"`
	Enabled       bool          `db:"enabled" json:"enabled"`
	PlatformOnly  bool          `db:"platform_only" json:"platformOnly"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
}

// IsPlatform reports whether the rule evaluates platform-wide (no tenant).
func (r *AlertRule) IsPlatform() bool { return r.TenantID == "" }

// AlertInstance is a fired occurrence of a rule. At most one ACTIVE instance
// exists per rule at any time.
type AlertInstance struct {
	ID          string        `db:"id" json:"id"`
	RuleID      string        `db:"rule_id" json:"ruleId"`
	TenantID    string        `db:"tenant_id" json:"tenantId,omitempty"`
	Severity    AlertSeverity `db:"severity" json:"severity"`
	Status      AlertStatus   `db:"status" json:"status"`
	Message     string        `db:"message" json:"message"`
	MetricValue float64       `db:"metric_value" json:"metricValue"`
	Threshold   float64       `db:"threshold" json:"threshold"`
	FiredAt     time.Time     `db:"fired_at" json:"firedAt"`
	ResolvedAt  *time.Time    `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// Baseline is the historical distribution of a metric for one tenant.
// Valid only when SampleCount >= 24 (one day of hourly samples).
type Baseline struct {
	TenantID    string  `db:"tenant_id"`
	Metric      string  `db:"metric"`
	Mean        float64 `db:"mean"`
	StdDev      float64 `db:"std_dev"`
	SampleCount int64   `db:"sample_count"`
}

// MinBaselineSamples is the minimum sample count for a baseline to be usable.
const MinBaselineSamples = 24

// Valid reports whether the baseline has enough history to be trusted.
func (b *Baseline) Valid() bool { return b != nil && b.SampleCount >= MinBaselineSamples }

// ErrorBudget is the result of an SLO error-budget calculation over a window.
type ErrorBudget struct {
	SloTarget           float64 `json:"sloTarget"`
	TotalRequests       int64   `json:"totalRequests"`
	FailedRequests      int64   `json:"failedRequests"`
	BudgetTotal         int64   `json:"budgetTotal"`
	BudgetConsumed      int64   `json:"budgetConsumed"`
	BudgetRemaining     float64 `json:"budgetRemaining"`
	CurrentAvailability float64 `json:"currentAvailability"`
	BurnRate            float64 `json:"burnRate"`
}

// LatencyPercentiles holds the standard latency aggregates in milliseconds.
type LatencyPercentiles struct {
	P50 int64 `db:"p50" json:"p50"`
	P95 int64 `db:"p95" json:"p95"`
	P99 int64 `db:"p99" json:"p99"`
}
