// Package alerting evaluates alert rules against the metric tables: static
// thresholds, baseline anomaly detection, and error-budget burn rates, with
// a periodic scheduler and isolated notifier dispatch.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// BaselineSource answers historical distribution queries.
type BaselineSource interface {
	GetBaseline(ctx context.Context, tenantID string, metric models.AlertMetric, lookback time.Duration) (*models.Baseline, error)
}

// BaselineLookback is how far back the hourly distribution reaches.
const BaselineLookback = 7 * 24 * time.Hour

// BaselineCalculator caches baseline queries per (tenantID, metric) with a
// TTL. GetBaseline returns nil when the baseline has fewer than 24 samples;
// the negative result is cached too.
type BaselineCalculator struct {
	source BaselineSource
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]baselineEntry

	now func() time.Time
}

type baselineEntry struct {
	baseline  *models.Baseline
	fetchedAt time.Time
}

func NewBaselineCalculator(source BaselineSource, ttl time.Duration) *BaselineCalculator {
	return &BaselineCalculator{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]baselineEntry),
		now:    time.Now,
	}
}

// GetBaseline returns the cached or freshly-queried baseline, or nil when
// there is not enough history (sampleCount < 24) to trust it.
func (c *BaselineCalculator) GetBaseline(ctx context.Context, tenantID string, metric models.AlertMetric) (*models.Baseline, error) {
	key := tenantID + "|" + string(metric)

	c.mu.Lock()
	entry, cached := c.cache[key]
	c.mu.Unlock()
	if cached && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.baseline, nil
	}

	baseline, err := c.source.GetBaseline(ctx, tenantID, metric, BaselineLookback)
	if err != nil {
		return nil, fmt.Errorf("baseline %s/%s: %w", tenantID, metric, err)
	}
	if !baseline.Valid() {
		baseline = nil
	}

	c.mu.Lock()
	c.cache[key] = baselineEntry{baseline: baseline, fetchedAt: c.now()}
	c.mu.Unlock()
	return baseline, nil
}
