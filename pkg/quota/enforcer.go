// Package quota gates agent requests against tenant status and monthly
// quota. The enforcer runs as a BeforeAgentStart hook ahead of everything
// else that costs money; its hot path is a local counter check, and the
// database is consulted only near the quota boundary, behind a circuit
// breaker. Infrastructure faults fail open; policy violations fail closed.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/argus/pkg/breaker"
	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/models"
)

// TenantLookup is the tenant surface the enforcer reads.
type TenantLookup interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
}

// UsageLookup answers the current-month consumption question.
type UsageLookup interface {
	GetCurrentMonthUsage(ctx context.Context, tenantID string) (models.TenantUsage, error)
}

// EventSink receives quota events; Publish returns false on overflow.
// The pipeline ring buffer satisfies it.
type EventSink interface {
	Publish(event models.MetricEvent) bool
}

// Enforcer is the quota enforcement hook.
type Enforcer struct {
	cfg     *config.QuotaConfig
	tenants TenantLookup
	usage   UsageLookup
	cb      *breaker.CircuitBreaker
	sink    EventSink
	logger  *slog.Logger

	// localRequestCount holds a per-tenant *atomic.Int64 incremented on every
	// entry. The count is approximate: it only decides when to start consulting
	// the database.
	localRequestCount sync.Map

	// warnedMonth maps tenantID to the "2006-01" month of its last 90%
	// warning, so the warning fires at most once per tenant per month.
	warnedMu    sync.Mutex
	warnedMonth map[string]string

	now func() time.Time
}

// NewEnforcer creates the quota hook. The usage lookup is wrapped in a
// circuit breaker sized from cfg.
func NewEnforcer(cfg *config.QuotaConfig, tenants TenantLookup, usage UsageLookup, sink EventSink) *Enforcer {
	return &Enforcer{
		cfg:     cfg,
		tenants: tenants,
		usage:   usage,
		cb: breaker.New(breaker.Settings{
			Name:             "quota-usage-lookup",
			FailureThreshold: cfg.BreakerFailureThreshold,
			ResetTimeout:     cfg.BreakerResetTimeout,
		}),
		sink:        sink,
		logger:      slog.Default().With("component", "quota-enforcer"),
		warnedMonth: make(map[string]string),
		now:         time.Now,
	}
}

func (e *Enforcer) Name() string        { return "quota-enforcer" }
func (e *Enforcer) Order() int          { return e.cfg.HookOrder }
func (e *Enforcer) Enabled() bool       { return true }
func (e *Enforcer) FailOnError() bool   { return false }
func (e *Enforcer) Kinds() []hooks.Kind { return []hooks.Kind{hooks.BeforeAgentStart} }

// Invoke applies the enforcement algorithm. It never returns an error other
// than context cancellation: infrastructure faults degrade to Continue.
func (e *Enforcer) Invoke(ctx context.Context, _ hooks.Kind, hc *hooks.HookContext) (hooks.Result, error) {
	if err := ctx.Err(); err != nil {
		return hooks.Result{}, err
	}

	tenantID := hc.MetaString(hooks.MetaTenantID)
	if tenantID == "" || tenantID == models.DefaultTenantID {
		return hooks.Continue(), nil
	}

	localCount := e.incrementLocal(tenantID)

	tenant, err := e.tenants.FindByID(ctx, tenantID)
	if err != nil || tenant == nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return hooks.Result{}, err
		}
		e.logger.Warn("Tenant lookup failed, allowing request", "tenant", tenantID, "error", err)
		return hooks.Continue(), nil
	}

	switch tenant.Status {
	case models.TenantSuspended:
		e.publish(tenantID, models.QuotaEvent{
			Action: models.QuotaRejectedSuspended,
			Reason: "Tenant SUSPENDED",
		})
		return hooks.Reject("Tenant SUSPENDED"), nil
	case models.TenantDeactivated:
		e.publish(tenantID, models.QuotaEvent{
			Action: models.QuotaRejectedDeactivated,
			Reason: "Tenant DEACTIVATED",
		})
		return hooks.Reject("Tenant DEACTIVATED"), nil
	}

	quota := tenant.Quota
	if quota.MaxRequestsPerMonth <= 0 && quota.MaxTokensPerMonth <= 0 {
		// Unlimited tenant.
		return hooks.Continue(), nil
	}

	// Fast path: far from the quota boundary, skip the database entirely.
	warnThreshold := e.cfg.WarnRatio * float64(quota.MaxRequestsPerMonth)
	if float64(localCount) < warnThreshold {
		return hooks.Continue(), nil
	}

	// Slow path: authoritative usage through the circuit breaker.
	usage, err := breaker.Execute(e.cb, func() (models.TenantUsage, error) {
		return e.usage.GetCurrentMonthUsage(ctx, tenantID)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return hooks.Result{}, err
		}
		// Fail open on breaker-open and any other infrastructure fault.
		e.logger.Warn("Usage lookup failed, allowing request",
			"tenant", tenantID, "breaker_state", e.cb.State(), "error", err)
		return hooks.Continue(), nil
	}

	if quota.MaxRequestsPerMonth > 0 && usage.Requests >= quota.MaxRequestsPerMonth {
		e.publish(tenantID, models.QuotaEvent{
			Action:       models.QuotaRejectedRequests,
			CurrentUsage: usage.Requests,
			QuotaLimit:   quota.MaxRequestsPerMonth,
			Reason:       "Monthly request quota exceeded",
		})
		return hooks.Reject("Monthly request quota exceeded"), nil
	}

	if quota.MaxTokensPerMonth > 0 && usage.Tokens >= quota.MaxTokensPerMonth {
		e.publish(tenantID, models.QuotaEvent{
			Action:       models.QuotaRejectedTokens,
			CurrentUsage: usage.Tokens,
			QuotaLimit:   quota.MaxTokensPerMonth,
			Reason:       "Monthly token quota exceeded",
		})
		return hooks.Reject("Monthly token quota exceeded"), nil
	}

	if quota.MaxRequestsPerMonth > 0 && float64(usage.Requests) >= warnThreshold && e.markWarned(tenantID) {
		e.publish(tenantID, models.QuotaEvent{
			Action:       models.QuotaWarning,
			CurrentUsage: usage.Requests,
			QuotaLimit:   quota.MaxRequestsPerMonth,
			Reason:       fmt.Sprintf("%.0f%% quota used", e.cfg.WarnRatio*100),
		})
	}
	return hooks.Continue(), nil
}

// incrementLocal bumps the tenant's local request counter and returns the
// new value.
func (e *Enforcer) incrementLocal(tenantID string) int64 {
	counterI, _ := e.localRequestCount.LoadOrStore(tenantID, &atomic.Int64{})
	return counterI.(*atomic.Int64).Add(1)
}

// markWarned records the 90% warning for the current calendar month.
// Returns true only for the first call per tenant per month.
func (e *Enforcer) markWarned(tenantID string) bool {
	month := e.now().UTC().Format("2006-01")
	e.warnedMu.Lock()
	defer e.warnedMu.Unlock()
	if e.warnedMonth[tenantID] == month {
		return false
	}
	e.warnedMonth[tenantID] = month
	return true
}

// publish emits a quota event to the pipeline; overflow is not an error for
// the request path.
func (e *Enforcer) publish(tenantID string, event models.QuotaEvent) {
	if e.sink == nil {
		return
	}
	event.TenantID = tenantID
	if !e.sink.Publish(&event) {
		e.logger.Warn("Quota event dropped on pipeline overflow", "tenant", tenantID, "action", event.Action)
	}
}
