package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/models"
)

type stubTenants struct {
	tenant *models.Tenant
	err    error
}

func (s *stubTenants) FindByID(context.Context, string) (*models.Tenant, error) {
	return s.tenant, s.err
}

type stubUsage struct {
	mu    sync.Mutex
	usage models.TenantUsage
	err   error
	calls int
}

func (s *stubUsage) GetCurrentMonthUsage(context.Context, string) (models.TenantUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.usage, s.err
}

func (s *stubUsage) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type captureSink struct {
	mu     sync.Mutex
	events []*models.QuotaEvent
}

func (c *captureSink) Publish(e models.MetricEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e.(*models.QuotaEvent))
	return true
}

func (c *captureSink) byAction(action models.QuotaAction) []*models.QuotaEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.QuotaEvent
	for _, e := range c.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func activeTenant(maxRequests, maxTokens int64) *models.Tenant {
	return &models.Tenant{
		ID:     "t1",
		Status: models.TenantActive,
		Quota: models.TenantQuota{
			MaxRequestsPerMonth: maxRequests,
			MaxTokensPerMonth:   maxTokens,
		},
	}
}

func enforcerFixture(tenant *models.Tenant, usage *stubUsage) (*Enforcer, *captureSink) {
	sink := &captureSink{}
	e := NewEnforcer(config.DefaultQuotaConfig(), &stubTenants{tenant: tenant}, usage, sink)
	return e, sink
}

func invoke(t *testing.T, e *Enforcer, tenantID string) hooks.Result {
	t.Helper()
	hc := hooks.NewHookContext("run")
	hc.Metadata[hooks.MetaTenantID] = tenantID
	res, err := e.Invoke(context.Background(), hooks.BeforeAgentStart, hc)
	require.NoError(t, err)
	return res
}

func TestEnforcer_WarnOnce(t *testing.T) {
	usage := &stubUsage{usage: models.TenantUsage{Requests: 9, Tokens: 50}}
	e, sink := enforcerFixture(activeTenant(10, 100000), usage)

	// Requests 1..8 pass on the fast path without touching the database.
	for i := 0; i < 8; i++ {
		assert.False(t, invoke(t, e, "t1").Rejected())
	}
	assert.Equal(t, 0, usage.callCount())

	// The 9th request crosses the warn threshold: one warning event.
	assert.False(t, invoke(t, e, "t1").Rejected())
	warnings := sink.byAction(models.QuotaWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(9), warnings[0].CurrentUsage)
	assert.Equal(t, int64(10), warnings[0].QuotaLimit)
	assert.Equal(t, "90% quota used", warnings[0].Reason)
	assert.Equal(t, "t1", warnings[0].Tenant())

	// The 10th request passes and emits no further event.
	assert.False(t, invoke(t, e, "t1").Rejected())
	assert.Len(t, sink.byAction(models.QuotaWarning), 1)
}

func TestEnforcer_WarningResetsNextMonth(t *testing.T) {
	usage := &stubUsage{usage: models.TenantUsage{Requests: 9}}
	e, sink := enforcerFixture(activeTenant(10, 0), usage)

	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return current }

	for i := 0; i < 12; i++ {
		invoke(t, e, "t1")
	}
	require.Len(t, sink.byAction(models.QuotaWarning), 1)

	current = current.AddDate(0, 1, 0)
	invoke(t, e, "t1")
	assert.Len(t, sink.byAction(models.QuotaWarning), 2)
}

func TestEnforcer_HardRejectOnRequestQuota(t *testing.T) {
	usage := &stubUsage{usage: models.TenantUsage{Requests: 100, Tokens: 0}}
	e, sink := enforcerFixture(activeTenant(1, 0), usage)

	res := invoke(t, e, "t1")
	require.True(t, res.Rejected())
	assert.Contains(t, res.Reason(), "request quota exceeded")

	rejected := sink.byAction(models.QuotaRejectedRequests)
	require.Len(t, rejected, 1)
	assert.Equal(t, int64(100), rejected[0].CurrentUsage)
	assert.Equal(t, int64(1), rejected[0].QuotaLimit)
}

func TestEnforcer_RejectOnTokenQuota(t *testing.T) {
	usage := &stubUsage{usage: models.TenantUsage{Requests: 1, Tokens: 200000}}
	e, sink := enforcerFixture(activeTenant(1, 100000), usage)

	res := invoke(t, e, "t1")
	require.True(t, res.Rejected())
	assert.Contains(t, res.Reason(), "token quota exceeded")
	require.Len(t, sink.byAction(models.QuotaRejectedTokens), 1)
}

func TestEnforcer_CircuitOpenFailsOpen(t *testing.T) {
	usage := &stubUsage{err: errors.New("db down")}
	e, _ := enforcerFixture(activeTenant(1, 0), usage)

	// Trip the breaker with consecutive failures, then verify fail-open.
	for i := 0; i < 10; i++ {
		assert.False(t, invoke(t, e, "t1").Rejected())
	}
	// Once open, the usage lookup is no longer invoked at all.
	calls := usage.callCount()
	assert.False(t, invoke(t, e, "t1").Rejected())
	assert.Equal(t, calls, usage.callCount())
}

func TestEnforcer_SuspendedAndDeactivated(t *testing.T) {
	tenant := activeTenant(10, 0)
	tenant.Status = models.TenantSuspended
	e, sink := enforcerFixture(tenant, &stubUsage{})

	res := invoke(t, e, "t1")
	require.True(t, res.Rejected())
	assert.Contains(t, res.Reason(), "SUSPENDED")
	require.Len(t, sink.byAction(models.QuotaRejectedSuspended), 1)

	tenant.Status = models.TenantDeactivated
	res = invoke(t, e, "t1")
	require.True(t, res.Rejected())
	assert.Contains(t, res.Reason(), "DEACTIVATED")
	require.Len(t, sink.byAction(models.QuotaRejectedDeactivated), 1)
}

func TestEnforcer_DefaultTenantBypasses(t *testing.T) {
	usage := &stubUsage{}
	e, sink := enforcerFixture(activeTenant(0, 0), usage)

	assert.False(t, invoke(t, e, models.DefaultTenantID).Rejected())

	hc := hooks.NewHookContext("run")
	res, err := e.Invoke(context.Background(), hooks.BeforeAgentStart, hc)
	require.NoError(t, err)
	assert.False(t, res.Rejected())

	assert.Empty(t, sink.events)
	assert.Equal(t, 0, usage.callCount())
}

func TestEnforcer_UnknownTenantFailsOpen(t *testing.T) {
	sink := &captureSink{}
	e := NewEnforcer(config.DefaultQuotaConfig(),
		&stubTenants{err: errors.New("not found")}, &stubUsage{}, sink)

	assert.False(t, invoke(t, e, "ghost").Rejected())
	assert.Empty(t, sink.events)
}

func TestEnforcer_CancellationPropagates(t *testing.T) {
	e, _ := enforcerFixture(activeTenant(10, 0), &stubUsage{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hc := hooks.NewHookContext("run")
	hc.Metadata[hooks.MetaTenantID] = "t1"
	_, err := e.Invoke(ctx, hooks.BeforeAgentStart, hc)
	require.ErrorIs(t, err, context.Canceled)
}
