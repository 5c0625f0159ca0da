package mcp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/models"
)

func fastReconnection() config.ReconnectionConfig {
	return config.ReconnectionConfig{
		Enabled:      true,
		MaxAttempts:  5,
		InitialDelay: 5 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     20 * time.Millisecond,
	}
}

func TestReconnect_BackoffBounds(t *testing.T) {
	r := &ReconnectCoordinator{cfg: config.ReconnectionConfig{
		Enabled:      true,
		MaxAttempts:  5,
		InitialDelay: 5 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
	}}

	for attempt := 1; attempt <= 10; attempt++ {
		base := 5 * time.Second * (1 << (attempt - 1))
		if base > 60*time.Second {
			base = 60 * time.Second
		}
		for i := 0; i < 50; i++ {
			d := r.backoff(attempt)
			// Jitter is ±25% of base, floored at zero.
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75))
			assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25))
		}
	}
}

func TestReconnect_RecoversFailedServer(t *testing.T) {
	m := testManager(t)
	m.cfg.Reconnection = fastReconnection()
	r := NewReconnectCoordinator(m.cfg.Reconnection, m)
	defer r.Stop()

	// The transport stays broken until "repaired" flips, simulating an
	// external dependency coming back.
	var repaired atomic.Bool
	working := inMemoryFactory(nil)
	m.transportFactory = func(server *models.McpServer, timeout time.Duration) (mcpsdk.Transport, error) {
		if !repaired.Load() {
			return nil, errors.New("transport down")
		}
		return working(server, timeout)
	}

	ctx := context.Background()
	require.NoError(t, m.Register(ctx, stdioServer("flaky", "echo")))

	// First connect fails and schedules the background reconnection.
	require.False(t, m.Connect(ctx, "flaky"))
	status, _ := m.Status("flaky")
	require.Equal(t, models.McpStatusFailed, status)

	repaired.Store(true)
	assert.Eventually(t, func() bool {
		status, _ := m.Status("flaky")
		return status == models.McpStatusConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconnect_DedupOneTaskPerServer(t *testing.T) {
	m := testManager(t)
	m.cfg.Reconnection = fastReconnection()
	r := NewReconnectCoordinator(m.cfg.Reconnection, m)
	defer r.Stop()

	require.NoError(t, m.Register(context.Background(), stdioServer("flaky", "/nonexistent/binary")))
	m.setStatus("flaky", models.McpStatusFailed)

	for i := 0; i < 10; i++ {
		r.Schedule("flaky")
	}

	tasks := 0
	r.inflight.Range(func(_, _ any) bool {
		tasks++
		return true
	})
	assert.Equal(t, 1, tasks)
}

func TestReconnect_StopsOnExplicitDisconnect(t *testing.T) {
	m := testManager(t)
	m.cfg.Reconnection = fastReconnection()
	r := NewReconnectCoordinator(m.cfg.Reconnection, m)
	defer r.Stop()

	ctx := context.Background()
	require.NoError(t, m.Register(ctx, stdioServer("flaky", "/nonexistent/binary")))
	require.False(t, m.Connect(ctx, "flaky"))

	// Explicit disconnect cancels the pending reconnection.
	m.Disconnect(ctx, "flaky")

	assert.Eventually(t, func() bool {
		_, inflight := r.inflight.Load("flaky")
		return !inflight
	}, time.Second, 5*time.Millisecond)

	// Status stays DISCONNECTED; no task revives the server.
	time.Sleep(50 * time.Millisecond)
	status, _ := m.Status("flaky")
	assert.Equal(t, models.McpStatusDisconnected, status)
}

func TestReconnect_StopCancelsSleepingTasks(t *testing.T) {
	m := testManager(t)
	cfg := fastReconnection()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	m.cfg.Reconnection = cfg
	r := NewReconnectCoordinator(cfg, m)

	require.NoError(t, m.Register(context.Background(), stdioServer("flaky", "/nonexistent/binary")))
	m.setStatus("flaky", models.McpStatusFailed)
	r.Schedule("flaky")

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt sleeping reconnection task")
	}
}
