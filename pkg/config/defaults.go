package config

import (
	"fmt"
	"time"
)

// QuotaConfig controls the pre-execution quota enforcement hook.
type QuotaConfig struct {
	// HookOrder positions the enforcer in the BeforeAgentStart chain.
	// Lower runs earlier; the enforcer must gate before collectors.
	HookOrder int `yaml:"hook_order"`

	// WarnRatio is the fraction of the request quota at which the slow-path
	// usage check begins and the one-time warning fires.
	WarnRatio float64 `yaml:"warn_ratio"`

	// BreakerFailureThreshold trips the usage-lookup circuit breaker after
	// this many consecutive failures.
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`

	// BreakerResetTimeout is how long the breaker stays open before a
	// half-open trial.
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`
}

// DefaultQuotaConfig returns the built-in quota defaults.
func DefaultQuotaConfig() *QuotaConfig {
	return &QuotaConfig{
		HookOrder:               5,
		WarnRatio:               0.9,
		BreakerFailureThreshold: 5,
		BreakerResetTimeout:     30 * time.Second,
	}
}

// Validate rejects ratios outside (0, 1].
func (c *QuotaConfig) Validate() error {
	if c.WarnRatio <= 0 || c.WarnRatio > 1 {
		return fmt.Errorf("%w: quota.warn_ratio must be in (0, 1], got %g",
			ErrInvalidConfig, c.WarnRatio)
	}
	return nil
}

// SLOConfig holds the platform SLO defaults applied to tenants that have
// not set their own targets.
type SLOConfig struct {
	DefaultAvailability float64 `yaml:"default_availability"`
	DefaultLatencyP99Ms int64   `yaml:"default_latency_p99_ms"`
}

// DefaultSLOConfig returns the built-in SLO defaults.
func DefaultSLOConfig() *SLOConfig {
	return &SLOConfig{
		DefaultAvailability: 0.995,
		DefaultLatencyP99Ms: 10000,
	}
}

// Validate rejects availability targets outside (0, 1).
func (c *SLOConfig) Validate() error {
	if c.DefaultAvailability <= 0 || c.DefaultAvailability >= 1 {
		return fmt.Errorf("%w: slo.default_availability must be in (0, 1), got %g",
			ErrInvalidConfig, c.DefaultAvailability)
	}
	return nil
}

// AlertingConfig controls the periodic alert evaluation cycle.
type AlertingConfig struct {
	// EvalInterval is how often all enabled rules are evaluated.
	EvalInterval time.Duration `yaml:"eval_interval"`

	// BaselineCacheTTL bounds how long baseline query results are reused.
	BaselineCacheTTL time.Duration `yaml:"baseline_cache_ttl"`
}

// DefaultAlertingConfig returns the built-in alerting defaults.
func DefaultAlertingConfig() *AlertingConfig {
	return &AlertingConfig{
		EvalInterval:     600 * time.Second,
		BaselineCacheTTL: 10 * time.Minute,
	}
}

// Validate rejects non-positive intervals.
func (c *AlertingConfig) Validate() error {
	if c.EvalInterval <= 0 {
		return fmt.Errorf("%w: alerting.eval_interval must be positive, got %s",
			ErrInvalidConfig, c.EvalInterval)
	}
	return nil
}

// RetentionConfig controls how long persisted data is kept.
type RetentionConfig struct {
	// RawDays is the retention window for raw metric rows.
	RawDays int `yaml:"raw_days"`

	// AuditYears is the retention window for audit-relevant rows
	// (quota events, job execution history).
	AuditYears int `yaml:"audit_years"`

	// CompressionAfterDays is when metric rows become eligible for
	// storage-side compression.
	CompressionAfterDays int `yaml:"compression_after_days"`

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RawDays:              90,
		AuditYears:           7,
		CompressionAfterDays: 7,
		CleanupInterval:      1 * time.Hour,
	}
}

// Validate rejects non-positive retention windows.
func (c *RetentionConfig) Validate() error {
	if c.RawDays <= 0 {
		return fmt.Errorf("%w: retention.raw_days must be positive, got %d",
			ErrInvalidConfig, c.RawDays)
	}
	if c.AuditYears <= 0 {
		return fmt.Errorf("%w: retention.audit_years must be positive, got %d",
			ErrInvalidConfig, c.AuditYears)
	}
	return nil
}

// SchedulerConfig controls the cron job dispatcher.
type SchedulerConfig struct {
	// RetryDelay is the fixed pause between retry attempts of a failed job.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// MaxResultLength caps the persisted execution result text.
	MaxResultLength int `yaml:"max_result_length"`

	// ApprovalPollInterval is how often a blocked tool execution re-checks
	// its pending approval.
	ApprovalPollInterval time.Duration `yaml:"approval_poll_interval"`

	// ApprovalTimeout bounds how long a tool execution waits for approval.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RetryDelay:           2000 * time.Millisecond,
		MaxResultLength:      50000,
		ApprovalPollInterval: 2 * time.Second,
		ApprovalTimeout:      10 * time.Minute,
	}
}

// Validate rejects non-positive scheduler bounds.
func (c *SchedulerConfig) Validate() error {
	if c.RetryDelay <= 0 {
		return fmt.Errorf("%w: scheduler.retry_delay must be positive, got %s",
			ErrInvalidConfig, c.RetryDelay)
	}
	if c.MaxResultLength <= 0 {
		return fmt.Errorf("%w: scheduler.max_result_length must be positive, got %d",
			ErrInvalidConfig, c.MaxResultLength)
	}
	return nil
}
