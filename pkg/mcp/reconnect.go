package mcp

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/models"
)

// ReconnectCoordinator runs background reconnection attempts for FAILED
// servers. At most one reconnection task is in flight per server; duplicate
// Schedule calls are deduplicated. Nothing persists across restarts.
type ReconnectCoordinator struct {
	cfg     config.ReconnectionConfig
	manager *ConnectionManager
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// inflight maps serverName to its running *reconnectTask.
	inflight sync.Map
}

// reconnectTask identifies one in-flight reconnection loop; the pointer
// doubles as the dedup token in the inflight map.
type reconnectTask struct {
	cancel context.CancelFunc
}

// NewReconnectCoordinator creates a coordinator and wires it into the
// manager.
func NewReconnectCoordinator(cfg config.ReconnectionConfig, manager *ConnectionManager) *ReconnectCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	r := &ReconnectCoordinator{
		cfg:     cfg,
		manager: manager,
		logger:  slog.Default().With("component", "mcp-reconnect"),
		ctx:     ctx,
		cancel:  cancel,
	}
	manager.SetReconnector(r)
	return r
}

// Schedule starts a reconnection task for the server unless one is already
// in flight.
func (r *ReconnectCoordinator) Schedule(serverName string) {
	if !r.cfg.Enabled {
		return
	}
	taskCtx, taskCancel := context.WithCancel(r.ctx)
	task := &reconnectTask{cancel: taskCancel}
	if _, loaded := r.inflight.LoadOrStore(serverName, task); loaded {
		taskCancel()
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Remove only our own entry; a Clear followed by a new Schedule may
		// have replaced it with a newer task.
		defer r.inflight.CompareAndDelete(serverName, task)
		defer taskCancel()
		r.run(taskCtx, serverName)
	}()
}

// Clear cancels any in-flight reconnection for the server.
func (r *ReconnectCoordinator) Clear(serverName string) {
	if taskI, loaded := r.inflight.LoadAndDelete(serverName); loaded {
		taskI.(*reconnectTask).cancel()
	}
}

// Stop cancels all reconnection tasks and waits for them to exit.
func (r *ReconnectCoordinator) Stop() {
	r.cancel()
	r.wg.Wait()
}

// run performs up to MaxAttempts reconnection attempts with jittered
// exponential backoff. The loop exits early when the server disappears, is
// resolved by someone else, or was explicitly disconnected.
func (r *ReconnectCoordinator) run(ctx context.Context, serverName string) {
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		delay := r.backoff(attempt)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		status, exists := r.manager.Status(serverName)
		if !exists || status == models.McpStatusConnected || status == models.McpStatusDisconnected {
			return
		}

		r.logger.Info("Attempting MCP reconnection",
			"server", serverName, "attempt", attempt, "max_attempts", r.cfg.MaxAttempts)
		if r.manager.Connect(ctx, serverName) {
			return
		}
	}
	r.logger.Warn("MCP reconnection attempts exhausted",
		"server", serverName, "attempts", r.cfg.MaxAttempts)
}

// backoff computes the delay before the given attempt:
// base = min(initial * multiplier^(attempt-1), max), jittered by ±25%,
// floored at zero.
func (r *ReconnectCoordinator) backoff(attempt int) time.Duration {
	base := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1))
	base = math.Min(base, float64(r.cfg.MaxDelay))
	jitter := base * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(math.Max(0, base+jitter))
}
