package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/argus/pkg/hooks"
	"github.com/codeready-toolchain/argus/pkg/models"
)

// CollectorOrder places the collector last in the hook chain so it observes
// metadata stamped by every earlier hook.
const CollectorOrder = 200

// Collector is the AfterAgentComplete / AfterToolCall hook that turns
// request metadata into metric events and publishes them to the ring
// buffer. Publish failures are counted as drops and never surfaced to the
// request path; only cancellation propagates.
type Collector struct {
	ring    *RingBuffer
	monitor *HealthMonitor
	writer  *Writer // may be nil in tests; used for the size-trigger wake
	logger  *slog.Logger
}

// NewCollector creates the metric collector hook.
func NewCollector(ring *RingBuffer, monitor *HealthMonitor, writer *Writer) *Collector {
	return &Collector{
		ring:    ring,
		monitor: monitor,
		writer:  writer,
		logger:  slog.Default().With("component", "metric-collector"),
	}
}

func (c *Collector) Name() string  { return "metric-collector" }
func (c *Collector) Order() int    { return CollectorOrder }
func (c *Collector) Enabled() bool { return true }

// FailOnError is false: metrics must never reject a request.
func (c *Collector) FailOnError() bool { return false }

func (c *Collector) Kinds() []hooks.Kind {
	return []hooks.Kind{hooks.AfterAgentComplete, hooks.AfterToolCall}
}

// Invoke builds and publishes the events for the given lifecycle point.
func (c *Collector) Invoke(ctx context.Context, kind hooks.Kind, hc *hooks.HookContext) (hooks.Result, error) {
	if err := ctx.Err(); err != nil {
		return hooks.Continue(), err
	}
	var err error
	switch kind {
	case hooks.AfterAgentComplete:
		err = c.collectAgentExecution(hc)
	case hooks.AfterToolCall:
		err = c.collectToolCall(hc)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return hooks.Continue(), err
		}
		c.monitor.RecordDrop(1)
		c.logger.Warn("Metric collection failed", "kind", kind, "run_id", hc.RunID, "error", err)
	}
	return hooks.Continue(), nil
}

// collectAgentExecution emits the enriched AgentExecutionEvent plus the
// derived GuardEvent and SessionEvent when their source metadata is present.
func (c *Collector) collectAgentExecution(hc *hooks.HookContext) error {
	tenantID := hc.MetaString(hooks.MetaTenantID)

	llmMs, _ := hc.MetaInt64(hooks.MetaLLMDurationMs)
	toolMs, _ := hc.MetaInt64(hooks.MetaToolDurationMs)
	guardMs, guardPresent := hc.MetaInt64(hooks.MetaGuardDurationMs)
	queueMs, _ := hc.MetaInt64(hooks.MetaQueueWaitMs)
	durationMs, _ := hc.MetaInt64(hooks.MetaDurationMs)
	toolCount, _ := hc.MetaInt64(hooks.MetaToolCount)
	retryCount, _ := hc.MetaInt64(hooks.MetaRetryCount)

	exec := &models.AgentExecutionEvent{
		EventMeta:        models.EventMeta{TenantID: tenantID},
		RunID:            hc.RunID,
		UserID:           hc.UserID,
		SessionID:        hc.MetaString(hooks.MetaSessionID),
		Channel:          hc.Channel,
		Success:          hc.MetaBool(hooks.MetaSuccess),
		ErrorCode:        hc.MetaString(hooks.MetaErrorCode),
		DurationMs:       durationMs,
		LLMDurationMs:    llmMs,
		ToolDurationMs:   toolMs,
		GuardDurationMs:  guardMs,
		QueueWaitMs:      queueMs,
		ToolCount:        int(toolCount),
		PersonaID:        hc.MetaString(hooks.MetaPersonaID),
		PromptTemplateID: hc.MetaString(hooks.MetaPromptTemplateID),
		IntentCategory:   hc.MetaString(hooks.MetaIntentCategory),
		GuardRejected:    hc.MetaBool(hooks.MetaGuardRejected),
		GuardStage:       hc.MetaString(hooks.MetaGuardStage),
		GuardCategory:    hc.MetaString(hooks.MetaGuardCategory),
		FallbackUsed:     hc.MetaBool(hooks.MetaFallbackUsed),
		RetryCount:       int(retryCount),
	}
	c.publish(exec)

	if guardPresent {
		stage := exec.GuardStage
		if stage == "" {
			stage = "all"
		}
		category := exec.GuardCategory
		if category == "" {
			category = "none"
		}
		action := models.GuardActionAllowed
		if exec.GuardRejected {
			action = models.GuardActionRejected
		}
		c.publish(&models.GuardEvent{
			EventMeta:     models.EventMeta{TenantID: tenantID},
			UserID:        hc.UserID,
			Channel:       hc.Channel,
			Stage:         stage,
			Category:      category,
			IsOutputGuard: false,
			Action:        action,
		})
	}

	if sessionID := hc.MetaString(hooks.MetaSessionID); sessionID != "" {
		now := time.Now()
		c.publish(&models.SessionEvent{
			EventMeta:       models.EventMeta{TenantID: tenantID},
			SessionID:       sessionID,
			UserID:          hc.UserID,
			Channel:         hc.Channel,
			TurnCount:       1,
			TotalDurationMs: durationMs,
			StartedAt:       now.Add(-time.Duration(durationMs) * time.Millisecond),
			EndedAt:         now,
		})
	}

	return nil
}

// collectToolCall emits the ToolCallEvent for the most recent call, plus an
// McpHealthEvent when the tool was served by an MCP server.
func (c *Collector) collectToolCall(hc *hooks.HookContext) error {
	toolName := hc.MetaString(hooks.MetaToolCallName)
	if toolName == "" {
		return nil // nothing stamped; tool path did not run
	}
	tenantID := hc.MetaString(hooks.MetaTenantID)

	callIndex, _ := hc.MetaInt64(hooks.MetaToolCallIndex)
	durationMs, _ := hc.MetaInt64(hooks.MetaToolCallDurationMs)
	success := hc.MetaBool(hooks.MetaToolCallSuccess)

	source := models.ToolSource(hc.MetaString(hooks.MetaToolSourcePrefix + toolName))
	if source == "" {
		source = models.ToolSourceLocal
	}
	serverName := hc.MetaString(hooks.MetaMcpServerPrefix + toolName)

	c.publish(&models.ToolCallEvent{
		EventMeta:     models.EventMeta{TenantID: tenantID},
		RunID:         hc.RunID,
		ToolName:      toolName,
		ToolSource:    source,
		McpServerName: serverName,
		CallIndex:     int(callIndex),
		Success:       success,
		DurationMs:    durationMs,
		ErrorClass:    hc.MetaString(hooks.MetaToolCallErrorClass),
		ErrorMessage:  hc.MetaString(hooks.MetaToolCallErrorMessage),
	})

	if source == models.ToolSourceMCP && serverName != "" {
		status := string(models.McpStatusConnected)
		if !success {
			status = string(models.McpStatusFailed)
		}
		c.publish(&models.McpHealthEvent{
			EventMeta:      models.EventMeta{TenantID: tenantID},
			ServerName:     serverName,
			Status:         status,
			ResponseTimeMs: durationMs,
			ErrorClass:     hc.MetaString(hooks.MetaToolCallErrorClass),
			ErrorMessage:   hc.MetaString(hooks.MetaToolCallErrorMessage),
		})
	}

	return nil
}

// publish enqueues one event, counting overflow as a drop.
func (c *Collector) publish(event models.MetricEvent) {
	c.Publish(event)
}

// Publish enqueues an externally built event with the same drop accounting
// as collected events. The quota enforcer publishes through this.
func (c *Collector) Publish(event models.MetricEvent) bool {
	if !c.ring.Publish(event) {
		c.monitor.RecordDrop(1)
		return false
	}
	if c.writer != nil {
		c.writer.NotifyPublish()
	}
	return true
}
