package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// dropHistorySize bounds the recent-drop history ring. Old entries are
// overwritten; DroppedSince only answers precisely for windows that fit.
const dropHistorySize = 1024

// dropEntry is one recorded drop batch.
type dropEntry struct {
	atUnixNano atomic.Int64
	count      atomic.Int64
}

// HealthMonitor tracks pipeline health: total drops, a bounded recent-drop
// history, current buffer usage, and the aggregate refresh lag. All updates
// are atomic; RecordDrop and UpdateBufferUsage sit on hot paths and must
// never block or suspend.
type HealthMonitor struct {
	droppedTotal     atomic.Int64
	bufferUsagePct   atomic.Int64 // percent * 100 for two decimals
	aggRefreshLagMs  atomic.Int64
	dropHistory      [dropHistorySize]dropEntry
	dropHistoryIndex atomic.Uint64

	promDropped     prometheus.Counter
	promBufferUsage prometheus.Gauge
	promRefreshLag  prometheus.Gauge
}

// NewHealthMonitor creates a monitor and registers its prometheus
// collectors on reg (nil skips registration, for tests).
func NewHealthMonitor(reg prometheus.Registerer) *HealthMonitor {
	m := &HealthMonitor{
		promDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "argus_pipeline_dropped_total",
			Help: "Metric events dropped because the ring buffer was full.",
		}),
		promBufferUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "argus_pipeline_buffer_usage_percent",
			Help: "Ring buffer fill level in percent, updated each writer tick.",
		}),
		promRefreshLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "argus_aggregate_refresh_lag_ms",
			Help: "Age of the newest row in the metric aggregates, in milliseconds.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.promDropped, m.promBufferUsage, m.promRefreshLag)
	}
	return m
}

// RecordDrop counts n dropped events. Atomic, non-blocking.
func (m *HealthMonitor) RecordDrop(n int) {
	if n <= 0 {
		return
	}
	m.droppedTotal.Add(int64(n))
	m.promDropped.Add(float64(n))

	idx := m.dropHistoryIndex.Add(1) - 1
	e := &m.dropHistory[idx%dropHistorySize]
	e.atUnixNano.Store(time.Now().UnixNano())
	e.count.Store(int64(n))
}

// DroppedTotal returns the lifetime drop count.
func (m *HealthMonitor) DroppedTotal() int64 {
	return m.droppedTotal.Load()
}

// DroppedSince returns the number of events dropped at or after t, based on
// the bounded history. When the window predates the oldest retained entry
// the result is a lower bound.
func (m *HealthMonitor) DroppedSince(t time.Time) int64 {
	cutoff := t.UnixNano()
	var total int64
	for i := range m.dropHistory {
		e := &m.dropHistory[i]
		if e.atUnixNano.Load() >= cutoff {
			total += e.count.Load()
		}
	}
	return total
}

// UpdateBufferUsage records the buffer fill level in percent.
func (m *HealthMonitor) UpdateBufferUsage(percent float64) {
	m.bufferUsagePct.Store(int64(percent * 100))
	m.promBufferUsage.Set(percent)
}

// BufferUsagePercent returns the last recorded buffer fill level.
func (m *HealthMonitor) BufferUsagePercent() float64 {
	return float64(m.bufferUsagePct.Load()) / 100
}

// SetAggregateRefreshLag records the observed aggregate refresh lag.
func (m *HealthMonitor) SetAggregateRefreshLag(lagMs int64) {
	m.aggRefreshLagMs.Store(lagMs)
	m.promRefreshLag.Set(float64(lagMs))
}

// AggregateRefreshLagMs returns the last observed aggregate refresh lag.
func (m *HealthMonitor) AggregateRefreshLagMs() int64 {
	return m.aggRefreshLagMs.Load()
}
