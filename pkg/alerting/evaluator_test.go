package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// memoryRuleStore mirrors the one-ACTIVE-per-rule behavior of the database
// store.
type memoryRuleStore struct {
	mu        sync.Mutex
	rules     []*models.AlertRule
	active    map[string]*models.AlertInstance
	resolved  []*models.AlertInstance
	listErr   error
	perRuleID map[string]error
}

func newMemoryRuleStore(rules ...*models.AlertRule) *memoryRuleStore {
	return &memoryRuleStore{
		rules:     rules,
		active:    make(map[string]*models.AlertInstance),
		perRuleID: make(map[string]error),
	}
}

func (s *memoryRuleStore) ListEnabledRules(context.Context) ([]*models.AlertRule, error) {
	return s.rules, s.listErr
}

func (s *memoryRuleStore) ActiveInstance(_ context.Context, ruleID string) (*models.AlertInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[ruleID], nil
}

func (s *memoryRuleStore) Fire(_ context.Context, rule *models.AlertRule, value float64, message string) (*models.AlertInstance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.perRuleID[rule.ID]; err != nil {
		return nil, false, err
	}
	if existing, ok := s.active[rule.ID]; ok {
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
		FiredAt:     time.Now(),
	}
	s.active[rule.ID] = inst
	return inst, true, nil
}

func (s *memoryRuleStore) Resolve(_ context.Context, ruleID string) (*models.AlertInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.active[ruleID]
	if !ok {
		return nil, nil
	}
	delete(s.active, ruleID)
	now := time.Now()
	inst.Status = models.AlertResolved
	inst.ResolvedAt = &now
	s.resolved = append(s.resolved, inst)
	return inst, nil
}

type stubTenants struct {
	tenant *models.Tenant
}

func (s *stubTenants) FindByID(context.Context, string) (*models.Tenant, error) {
	if s.tenant == nil {
		return nil, errors.New("tenant not found")
	}
	return s.tenant, nil
}

type stubMetrics struct {
	successRate  float64
	totalCount   int64
	latency      models.LatencyPercentiles
	usage        models.TenantUsage
	hourlyCost   float64
	mcpStreak    int64
	successErr   error
	successCalls int
}

func (s *stubMetrics) GetSuccessRate(context.Context, string, time.Duration) (float64, int64, error) {
	s.successCalls++
	return s.successRate, s.totalCount, s.successErr
}

func (s *stubMetrics) GetLatencyPercentiles(context.Context, string, time.Duration) (models.LatencyPercentiles, error) {
	return s.latency, nil
}

func (s *stubMetrics) GetCurrentMonthUsage(context.Context, string) (models.TenantUsage, error) {
	return s.usage, nil
}

func (s *stubMetrics) GetHourlyCost(context.Context, string) (float64, error) {
	return s.hourlyCost, nil
}

func (s *stubMetrics) GetMaxConsecutiveMcpFailures(context.Context, string, time.Duration) (int64, error) {
	return s.mcpStreak, nil
}

type stubHealth struct {
	bufferUsage float64
	refreshLag  int64
}

func (s *stubHealth) BufferUsagePercent() float64  { return s.bufferUsage }
func (s *stubHealth) AggregateRefreshLagMs() int64 { return s.refreshLag }

type stubBaselines struct {
	baseline *models.Baseline
	err      error
	calls    int
}

func (s *stubBaselines) GetBaseline(context.Context, string, models.AlertMetric, time.Duration) (*models.Baseline, error) {
	s.calls++
	return s.baseline, s.err
}

type captureNotifier struct {
	mu    sync.Mutex
	fired []*models.AlertInstance
	err   error
}

func (n *captureNotifier) Name() string { return "capture" }

func (n *captureNotifier) Notify(_ context.Context, _ *models.AlertRule, inst *models.AlertInstance) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fired = append(n.fired, inst)
	return n.err
}

func errorRateRule(threshold float64) *models.AlertRule {
	return &models.AlertRule{
		ID:        uuid.NewString(),
		TenantID:  "t1",
		Name:      "high-error-rate",
		Type:      models.RuleStaticThreshold,
		Metric:    models.MetricErrorRate,
		Threshold: threshold,
		Severity:  models.SeverityCritical,
		Enabled:   true,
	}
}

func activeTenant() *models.Tenant {
	return &models.Tenant{ID: "t1", Status: models.TenantActive}
}

func evaluatorFixture(store *memoryRuleStore, metrics *stubMetrics, baselines BaselineSource) (*Evaluator, *captureNotifier) {
	notifier := &captureNotifier{}
	calc := NewBaselineCalculator(baselines, 10*time.Minute)
	e := NewEvaluator(store, &stubTenants{tenant: activeTenant()}, metrics,
		&stubHealth{}, calc, []Notifier{notifier})
	return e, notifier
}

func TestEvaluate_StaticThresholdFiresAndResolves(t *testing.T) {
	rule := errorRateRule(0.10)
	store := newMemoryRuleStore(rule)
	metrics := &stubMetrics{successRate: 0.80, totalCount: 100}
	e, notifier := evaluatorFixture(store, metrics, &stubBaselines{})

	// error_rate = 0.20 > 0.10: exactly one ACTIVE instance fires.
	e.EvaluateAll(context.Background())
	require.Len(t, store.active, 1)
	inst := store.active[rule.ID]
	assert.InDelta(t, 0.20, inst.MetricValue, 1e-9)
	assert.Contains(t, inst.Message, "error_rate")
	assert.Equal(t, models.AlertActive, inst.Status)
	require.Len(t, notifier.fired, 1)

	// A second breaching cycle does not duplicate the instance or re-notify.
	e.EvaluateAll(context.Background())
	assert.Len(t, store.active, 1)
	assert.Len(t, notifier.fired, 1)

	// Recovery resolves the instance.
	metrics.successRate = 0.99
	e.EvaluateAll(context.Background())
	assert.Empty(t, store.active)
	require.Len(t, store.resolved, 1)
	assert.Equal(t, models.AlertResolved, store.resolved[0].Status)
	assert.NotNil(t, store.resolved[0].ResolvedAt)
}

func TestEvaluate_NoBreachNoInstance(t *testing.T) {
	rule := errorRateRule(0.10)
	store := newMemoryRuleStore(rule)
	e, notifier := evaluatorFixture(store, &stubMetrics{successRate: 0.95, totalCount: 100}, &stubBaselines{})

	e.EvaluateAll(context.Background())
	assert.Empty(t, store.active)
	assert.Empty(t, store.resolved)
	assert.Empty(t, notifier.fired)
}

func TestEvaluate_BaselineAnomalyGatedOnHistory(t *testing.T) {
	rule := errorRateRule(2.0)
	rule.Type = models.RuleBaselineAnomaly
	store := newMemoryRuleStore(rule)
	metrics := &stubMetrics{successRate: 0.50, totalCount: 100}
	baselines := &stubBaselines{baseline: &models.Baseline{SampleCount: 5, Mean: 0.05, StdDev: 0.01}}
	e, _ := evaluatorFixture(store, metrics, baselines)

	// Fewer than 24 samples: the rule never fires regardless of the value.
	e.EvaluateAll(context.Background())
	assert.Empty(t, store.active)
}

func TestEvaluate_BaselineAnomalyFiresAboveSigma(t *testing.T) {
	rule := errorRateRule(2.0)
	rule.Type = models.RuleBaselineAnomaly
	store := newMemoryRuleStore(rule)
	// error_rate 0.50 against mean 0.05, sigma 0.10: 0.50 > 0.05 + 2*0.10.
	metrics := &stubMetrics{successRate: 0.50, totalCount: 100}
	baselines := &stubBaselines{baseline: &models.Baseline{SampleCount: 100, Mean: 0.05, StdDev: 0.10}}
	e, _ := evaluatorFixture(store, metrics, baselines)

	e.EvaluateAll(context.Background())
	require.Len(t, store.active, 1)
	assert.InDelta(t, 0.50, store.active[rule.ID].MetricValue, 1e-9)
}

func TestEvaluate_BurnRateRule(t *testing.T) {
	rule := errorRateRule(2.0)
	rule.Type = models.RuleErrorBudgetBurn
	rule.Metric = models.MetricBurnRate
	store := newMemoryRuleStore(rule)
	// 4% failures against a 0.5% budget burns at 8x.
	metrics := &stubMetrics{successRate: 0.96, totalCount: 10000}
	e, _ := evaluatorFixture(store, metrics, &stubBaselines{})

	e.EvaluateAll(context.Background())
	require.Len(t, store.active, 1)
	assert.InDelta(t, 8.0, store.active[rule.ID].MetricValue, 1e-6)
}

func TestEvaluate_PlatformRuleSkipsTenantLookup(t *testing.T) {
	rule := &models.AlertRule{
		ID:        uuid.NewString(),
		Name:      "buffer-pressure",
		Type:      models.RuleStaticThreshold,
		Metric:    models.MetricPipelineBufferUsage,
		Threshold: 80,
		Severity:  models.SeverityWarning,
		Enabled:   true,
	}
	store := newMemoryRuleStore(rule)
	notifier := &captureNotifier{}
	calc := NewBaselineCalculator(&stubBaselines{}, time.Minute)
	// A nil tenant source would panic if a platform rule tried to use it.
	e := NewEvaluator(store, &stubTenants{}, &stubMetrics{},
		&stubHealth{bufferUsage: 92.5}, calc, []Notifier{notifier})

	e.EvaluateAll(context.Background())
	require.Len(t, store.active, 1)
	assert.InDelta(t, 92.5, store.active[rule.ID].MetricValue, 1e-9)
	assert.Empty(t, store.active[rule.ID].TenantID)
}

func TestEvaluateAll_RuleFailureIsIsolated(t *testing.T) {
	broken := errorRateRule(0.10)
	healthy := errorRateRule(0.10)
	store := newMemoryRuleStore(broken, healthy)
	store.perRuleID[broken.ID] = errors.New("store down")
	metrics := &stubMetrics{successRate: 0.50, totalCount: 100}
	e, _ := evaluatorFixture(store, metrics, &stubBaselines{})

	e.EvaluateAll(context.Background())
	require.Len(t, store.active, 1)
	assert.NotNil(t, store.active[healthy.ID])
}

func TestEvaluate_NotifierFailureDoesNotFailRule(t *testing.T) {
	rule := errorRateRule(0.10)
	store := newMemoryRuleStore(rule)
	metrics := &stubMetrics{successRate: 0.50, totalCount: 100}
	notifier := &captureNotifier{err: errors.New("webhook down")}
	calc := NewBaselineCalculator(&stubBaselines{}, time.Minute)
	e := NewEvaluator(store, &stubTenants{tenant: activeTenant()}, metrics,
		&stubHealth{}, calc, []Notifier{notifier})

	require.NoError(t, e.Evaluate(context.Background(), rule))
	assert.Len(t, store.active, 1)
}

func TestBaselineCalculator_CachesWithinTTL(t *testing.T) {
	source := &stubBaselines{baseline: &models.Baseline{SampleCount: 100, Mean: 0.1, StdDev: 0.02}}
	calc := NewBaselineCalculator(source, time.Hour)

	for i := 0; i < 5; i++ {
		b, err := calc.GetBaseline(context.Background(), "t1", models.MetricErrorRate)
		require.NoError(t, err)
		require.NotNil(t, b)
	}
	assert.Equal(t, 1, source.calls)

	// A different key misses the cache.
	_, err := calc.GetBaseline(context.Background(), "t2", models.MetricErrorRate)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestBaselineCalculator_CachesNegativeResult(t *testing.T) {
	source := &stubBaselines{baseline: &models.Baseline{SampleCount: 3}}
	calc := NewBaselineCalculator(source, time.Hour)

	for i := 0; i < 3; i++ {
		b, err := calc.GetBaseline(context.Background(), "t1", models.MetricErrorRate)
		require.NoError(t, err)
		assert.Nil(t, b)
	}
	assert.Equal(t, 1, source.calls)
}

func TestBaselineCalculator_RefetchesAfterTTL(t *testing.T) {
	source := &stubBaselines{baseline: &models.Baseline{SampleCount: 100}}
	calc := NewBaselineCalculator(source, 10*time.Minute)

	current := time.Now()
	calc.now = func() time.Time { return current }

	_, err := calc.GetBaseline(context.Background(), "t1", models.MetricErrorRate)
	require.NoError(t, err)
	current = current.Add(11 * time.Minute)
	_, err = calc.GetBaseline(context.Background(), "t1", models.MetricErrorRate)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}
