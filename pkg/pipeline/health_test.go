package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthMonitor_DropAccounting(t *testing.T) {
	m := NewHealthMonitor(nil)
	start := time.Now().Add(-time.Minute)

	m.RecordDrop(3)
	m.RecordDrop(1)
	m.RecordDrop(0) // ignored

	assert.Equal(t, int64(4), m.DroppedTotal())
	assert.Equal(t, int64(4), m.DroppedSince(start))
	assert.Equal(t, int64(0), m.DroppedSince(time.Now().Add(time.Minute)))
}

func TestHealthMonitor_ConcurrentRecordDrop(t *testing.T) {
	m := NewHealthMonitor(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordDrop(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(3200), m.DroppedTotal())
}

func TestHealthMonitor_BufferUsageAndLag(t *testing.T) {
	m := NewHealthMonitor(nil)

	m.UpdateBufferUsage(87.5)
	assert.InDelta(t, 87.5, m.BufferUsagePercent(), 0.01)

	m.SetAggregateRefreshLag(1500)
	assert.Equal(t, int64(1500), m.AggregateRefreshLagMs())
}
