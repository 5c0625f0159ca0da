package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// AlertStore persists alert rules and their fired instances. The store
// enforces at most one ACTIVE instance per rule via a partial unique index;
// Fire is a no-op when an ACTIVE instance already exists.
type AlertStore struct {
	db *sqlx.DB
}

func NewAlertStore(db *sqlx.DB) *AlertStore {
	return &AlertStore{db: db}
}

// ListEnabledRules returns all enabled rules, platform and tenant alike.
func (s *AlertStore) ListEnabledRules(ctx context.Context) ([]*models.AlertRule, error) {
	var rules []*models.AlertRule
	err := s.db.SelectContext(ctx, &rules, `
		SELECT id, coalesce(tenant_id, '') AS tenant_id, name, rule_type, metric,
		       threshold, window_minutes, severity, enabled, platform_only,
		       created_at, updated_at
		FROM alert_rules WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled alert rules: %w", err)
	}
	return rules, nil
}

// SaveRule upserts a rule; a blank ID gets a generated UUID.
func (s *AlertStore) SaveRule(ctx context.Context, r *models.AlertRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_rules
			(id, tenant_id, name, rule_type, metric, threshold, window_minutes,
			 severity, enabled, platform_only, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			rule_type = EXCLUDED.rule_type,
			metric = EXCLUDED.metric,
			threshold = EXCLUDED.threshold,
			window_minutes = EXCLUDED.window_minutes,
			severity = EXCLUDED.severity,
			enabled = EXCLUDED.enabled,
			platform_only = EXCLUDED.platform_only,
			updated_at = now()`,
		r.ID, r.TenantID, r.Name, r.Type, r.Metric, r.Threshold, r.WindowMinutes,
		r.Severity, r.Enabled, r.PlatformOnly)
	if err != nil {
		return fmt.Errorf("save alert rule %s: %w", r.Name, err)
	}
	return nil
}

// ActiveInstance returns the ACTIVE instance for a rule, or nil when none.
func (s *AlertStore) ActiveInstance(ctx context.Context, ruleID string) (*models.AlertInstance, error) {
	var inst models.AlertInstance
	err := s.db.GetContext(ctx, &inst, `
		SELECT id, rule_id, coalesce(tenant_id, '') AS tenant_id, severity, status,
		       message, metric_value, threshold, fired_at, resolved_at
		FROM alert_instances
		WHERE rule_id = $1 AND status = 'ACTIVE'`, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active instance for rule %s: %w", ruleID, err)
	}
	return &inst, nil
}

// Fire creates an ACTIVE instance for the rule unless one already exists.
// Returns the instance and whether a new one was created.
func (s *AlertStore) Fire(ctx context.Context, rule *models.AlertRule, value float64, message string) (*models.AlertInstance, bool, error) {
	existing, err := s.ActiveInstance(ctx, rule.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	inst := &models.AlertInstance{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		TenantID:    rule.TenantID,
		Severity:    rule.Severity,
		Status:      models.AlertActive,
		Message:     message,
		MetricValue: value,
		Threshold:   rule.Threshold,
		FiredAt:     time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_instances
			(id, rule_id, tenant_id, severity, status, message, metric_value, threshold, fired_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (rule_id) WHERE status = 'ACTIVE' DO NOTHING`,
		inst.ID, inst.RuleID, inst.TenantID, inst.Severity, inst.Status,
		inst.Message, inst.MetricValue, inst.Threshold, inst.FiredAt)
	if err != nil {
		return nil, false, fmt.Errorf("fire alert for rule %s: %w", rule.Name, err)
	}
	return inst, true, nil
}

// Resolve marks the rule's ACTIVE instance RESOLVED. Returns the resolved
// instance, or nil when there was nothing active.
func (s *AlertStore) Resolve(ctx context.Context, ruleID string) (*models.AlertInstance, error) {
	var inst models.AlertInstance
	err := s.db.GetContext(ctx, &inst, `
		UPDATE alert_instances
		SET status = 'RESOLVED', resolved_at = now()
		WHERE rule_id = $1 AND status = 'ACTIVE'
		RETURNING id, rule_id, coalesce(tenant_id, '') AS tenant_id, severity, status,
		          message, metric_value, threshold, fired_at, resolved_at`, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve alert for rule %s: %w", ruleID, err)
	}
	return &inst, nil
}

// ListActiveInstances returns all currently firing alerts, newest first.
func (s *AlertStore) ListActiveInstances(ctx context.Context) ([]*models.AlertInstance, error) {
	var out []*models.AlertInstance
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, rule_id, coalesce(tenant_id, '') AS tenant_id, severity, status,
		       message, metric_value, threshold, fired_at, resolved_at
		FROM alert_instances WHERE status = 'ACTIVE' ORDER BY fired_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return out, nil
}
