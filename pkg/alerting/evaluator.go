package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/slo"
)

// DefaultWindowMinutes applies when a rule does not set its own window.
const DefaultWindowMinutes = 5

// RuleStore is the persistence surface for rules and fired instances.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]*models.AlertRule, error)
	ActiveInstance(ctx context.Context, ruleID string) (*models.AlertInstance, error)
	Fire(ctx context.Context, rule *models.AlertRule, value float64, message string) (*models.AlertInstance, bool, error)
	Resolve(ctx context.Context, ruleID string) (*models.AlertInstance, error)
}

// TenantSource pairs tenant rules with their tenants.
type TenantSource interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
}

// MetricSource is the aggregate query surface rule evaluation reads.
type MetricSource interface {
	GetSuccessRate(ctx context.Context, tenantID string, window time.Duration) (float64, int64, error)
	GetLatencyPercentiles(ctx context.Context, tenantID string, window time.Duration) (models.LatencyPercentiles, error)
	GetCurrentMonthUsage(ctx context.Context, tenantID string) (models.TenantUsage, error)
	GetHourlyCost(ctx context.Context, tenantID string) (float64, error)
	GetMaxConsecutiveMcpFailures(ctx context.Context, tenantID string, window time.Duration) (int64, error)
}

// PlatformHealth exposes the in-process pipeline gauges platform rules
// evaluate. The pipeline HealthMonitor satisfies it.
type PlatformHealth interface {
	BufferUsagePercent() float64
	AggregateRefreshLagMs() int64
}

// Notifier delivers a fired alert to one channel. Failures are isolated per
// notifier.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, rule *models.AlertRule, instance *models.AlertInstance) error
}

// Evaluator evaluates alert rules and maintains the one-ACTIVE-instance
// invariant per rule.
type Evaluator struct {
	store     RuleStore
	tenants   TenantSource
	metrics   MetricSource
	health    PlatformHealth
	baselines *BaselineCalculator
	notifiers []Notifier
	logger    *slog.Logger
}

func NewEvaluator(store RuleStore, tenants TenantSource, metrics MetricSource, health PlatformHealth, baselines *BaselineCalculator, notifiers []Notifier) *Evaluator {
	return &Evaluator{
		store:     store,
		tenants:   tenants,
		metrics:   metrics,
		health:    health,
		baselines: baselines,
		notifiers: notifiers,
		logger:    slog.Default().With("component", "alert-evaluator"),
	}
}

// EvaluateAll runs every enabled rule. A failing rule is logged and skipped;
// it never poisons the rest of the cycle.
func (e *Evaluator) EvaluateAll(ctx context.Context) {
	rules, err := e.store.ListEnabledRules(ctx)
	if err != nil {
		e.logger.Error("Failed to list alert rules", "error", err)
		return
	}
	for _, rule := range rules {
		if err := e.evaluateGuarded(ctx, rule); err != nil {
			e.logger.Warn("Alert rule evaluation failed",
				"rule", rule.Name, "rule_id", rule.ID, "error", err)
		}
	}
}

// evaluateGuarded converts panics from a single rule into errors.
func (e *Evaluator) evaluateGuarded(ctx context.Context, rule *models.AlertRule) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule evaluation panicked: %v", r)
		}
	}()
	return e.Evaluate(ctx, rule)
}

// Evaluate computes the rule's current metric value and fires or resolves
// its alert instance accordingly.
func (e *Evaluator) Evaluate(ctx context.Context, rule *models.AlertRule) error {
	var tenant *models.Tenant
	if !rule.IsPlatform() {
		var err error
		tenant, err = e.tenants.FindByID(ctx, rule.TenantID)
		if err != nil {
			return fmt.Errorf("tenant %s for rule %s: %w", rule.TenantID, rule.Name, err)
		}
	}

	value, breach, err := e.currentValue(ctx, rule, tenant)
	if err != nil {
		return err
	}

	if breach {
		return e.fire(ctx, rule, value)
	}
	return e.resolveIfActive(ctx, rule)
}

// currentValue dispatches on rule type and metric. The second return is
// whether the rule condition is currently breached.
func (e *Evaluator) currentValue(ctx context.Context, rule *models.AlertRule, tenant *models.Tenant) (float64, bool, error) {
	window := time.Duration(rule.WindowMinutes) * time.Minute
	if window <= 0 {
		window = DefaultWindowMinutes * time.Minute
	}

	switch rule.Type {
	case models.RuleStaticThreshold:
		value, err := e.staticValue(ctx, rule, tenant, window)
		if err != nil {
			return 0, false, err
		}
		return value, value > rule.Threshold, nil

	case models.RuleBaselineAnomaly:
		value, err := e.staticValue(ctx, rule, tenant, window)
		if err != nil {
			return 0, false, err
		}
		baseline, err := e.baselines.GetBaseline(ctx, rule.TenantID, rule.Metric)
		if err != nil {
			return 0, false, err
		}
		if baseline == nil {
			// Not enough history: never fire on a guess.
			return value, false, nil
		}
		// Threshold is the number of sigmas above the mean.
		return value, value > baseline.Mean+rule.Threshold*baseline.StdDev, nil

	case models.RuleErrorBudgetBurn:
		target := e.sloTarget(tenant)
		rate, total, err := e.metrics.GetSuccessRate(ctx, rule.TenantID, window)
		if err != nil {
			return 0, false, err
		}
		failed := total - int64(rate*float64(total)+0.5)
		budget := slo.ErrorBudget(target, total, failed)
		return budget.BurnRate, budget.BurnRate > rule.Threshold, nil

	default:
		return 0, false, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

func (e *Evaluator) staticValue(ctx context.Context, rule *models.AlertRule, tenant *models.Tenant, window time.Duration) (float64, error) {
	switch rule.Metric {
	case models.MetricErrorRate:
		rate, _, err := e.metrics.GetSuccessRate(ctx, rule.TenantID, window)
		if err != nil {
			return 0, err
		}
		return 1 - rate, nil

	case models.MetricLatencyP99:
		p, err := e.metrics.GetLatencyPercentiles(ctx, rule.TenantID, window)
		if err != nil {
			return 0, err
		}
		return float64(p.P99), nil

	case models.MetricHourlyCost:
		return e.metrics.GetHourlyCost(ctx, rule.TenantID)

	case models.MetricTokenBudgetUsage:
		if tenant == nil || tenant.Quota.MaxTokensPerMonth <= 0 {
			return 0, nil
		}
		usage, err := e.metrics.GetCurrentMonthUsage(ctx, rule.TenantID)
		if err != nil {
			return 0, err
		}
		return float64(usage.Tokens) / float64(tenant.Quota.MaxTokensPerMonth), nil

	case models.MetricMcpConsecutiveFailures:
		streak, err := e.metrics.GetMaxConsecutiveMcpFailures(ctx, rule.TenantID, window)
		if err != nil {
			return 0, err
		}
		return float64(streak), nil

	case models.MetricPipelineBufferUsage:
		return e.health.BufferUsagePercent(), nil

	case models.MetricAggregateRefreshLagMs:
		return float64(e.health.AggregateRefreshLagMs()), nil

	default:
		return 0, fmt.Errorf("unknown alert metric %q", rule.Metric)
	}
}

func (e *Evaluator) sloTarget(tenant *models.Tenant) float64 {
	if tenant != nil && tenant.SloAvailability > 0 {
		return tenant.SloAvailability
	}
	return 0.995
}

// fire creates an ACTIVE instance when none exists and dispatches it to all
// notifiers. Each notifier failure is logged and isolated.
func (e *Evaluator) fire(ctx context.Context, rule *models.AlertRule, value float64) error {
	message := fmt.Sprintf("%s: %s = %.4f exceeds threshold %.4f",
		rule.Name, rule.Metric, value, rule.Threshold)

	instance, created, err := e.store.Fire(ctx, rule, value, message)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	e.logger.Warn("Alert fired",
		"rule", rule.Name, "tenant", rule.TenantID,
		"metric", rule.Metric, "value", value, "threshold", rule.Threshold)

	for _, n := range e.notifiers {
		if err := n.Notify(ctx, rule, instance); err != nil {
			e.logger.Warn("Alert notifier failed",
				"notifier", n.Name(), "rule", rule.Name, "error", err)
		}
	}
	return nil
}

func (e *Evaluator) resolveIfActive(ctx context.Context, rule *models.AlertRule) error {
	resolved, err := e.store.Resolve(ctx, rule.ID)
	if err != nil {
		return err
	}
	if resolved != nil {
		e.logger.Info("Alert resolved", "rule", rule.Name, "tenant", rule.TenantID)
	}
	return nil
}
