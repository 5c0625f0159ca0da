// Package hooks defines the per-request lifecycle extension points consumed
// by the quota enforcer and the metric collector: a context carried through
// the agent request, a small set of hook kinds, and an ordered chain that
// invokes registered hooks.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Kind identifies a lifecycle extension point.
type Kind string

const (
	BeforeAgentStart   Kind = "before_agent_start"
	AfterAgentComplete Kind = "after_agent_complete"
	BeforeToolCall     Kind = "before_tool_call"
	AfterToolCall      Kind = "after_tool_call"
)

// Well-known metadata keys on HookContext.Metadata. Per-tool keys are
// prefixed: "toolSource_<toolName>", "mcpServer_<toolName>".
const (
	MetaTenantID         = "tenantId"
	MetaSessionID        = "sessionId"
	MetaPersonaID        = "personaId"
	MetaPromptTemplateID = "promptTemplateId"
	MetaIntentCategory   = "intentCategory"
	MetaLLMDurationMs    = "llmDurationMs"
	MetaToolDurationMs   = "toolDurationMs"
	MetaGuardDurationMs  = "guardDurationMs"
	MetaQueueWaitMs      = "queueWaitMs"
	MetaFallbackUsed     = "fallbackUsed"
	MetaToolSourcePrefix = "toolSource_"
	MetaMcpServerPrefix  = "mcpServer_"
)

// HookContext carries per-request data through the hook chain.
// Metadata is owned by the request goroutine; hooks read and write it
// without additional locking.
type HookContext struct {
	RunID      string
	UserID     string
	Channel    string
	UserPrompt string
	Metadata   map[string]any
}

// NewHookContext creates a context with initialized metadata.
func NewHookContext(runID string) *HookContext {
	return &HookContext{
		RunID:    runID,
		Metadata: make(map[string]any),
	}
}

// MetaString returns a string metadata value, or "" when absent or not a string.
func (c *HookContext) MetaString(key string) string {
	v, _ := c.Metadata[key].(string)
	return v
}

// MetaInt64 returns an integer metadata value coerced from the numeric types
// JSON decoding and direct assignment produce. Second return is false when
// the key is absent or non-numeric.
func (c *HookContext) MetaInt64(key string) (int64, bool) {
	switch v := c.Metadata[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// MetaBool returns a boolean metadata value, false when absent.
func (c *HookContext) MetaBool(key string) bool {
	v, _ := c.Metadata[key].(bool)
	return v
}

// Result is the tagged outcome of a gating hook: Continue or Reject.
type Result struct {
	rejected bool
	reason   string
}

// Continue lets the request proceed.
func Continue() Result { return Result{} }

// Reject stops the request with the given reason.
func Reject(reason string) Result { return Result{rejected: true, reason: reason} }

// Rejected reports whether the hook stopped the request.
func (r Result) Rejected() bool { return r.rejected }

// Reason returns the rejection reason, "" for Continue.
func (r Result) Reason() string { return r.reason }

// Hook is the capability record every extension point implements.
// Invoke receives the kind so one hook can serve several points.
type Hook interface {
	// Name identifies the hook in logs.
	Name() string
	// Order positions the hook in the chain; lower runs first.
	Order() int
	// Enabled reports whether the hook participates at all.
	Enabled() bool
	// FailOnError controls whether an error from Invoke rejects the request.
	FailOnError() bool
	// Kinds returns the extension points this hook serves.
	Kinds() []Kind
	// Invoke runs the hook. The result is only meaningful for gating kinds
	// (BeforeAgentStart, BeforeToolCall); observers return Continue.
	Invoke(ctx context.Context, kind Kind, hc *HookContext) (Result, error)
}

// Chain holds registered hooks and invokes them in order.
type Chain struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewChain creates an empty hook chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register adds a hook and keeps the chain sorted by Order.
func (c *Chain) Register(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
	sort.SliceStable(c.hooks, func(i, j int) bool {
		return c.hooks[i].Order() < c.hooks[j].Order()
	})
}

// hooksFor snapshots the enabled hooks serving the given kind.
func (c *Chain) hooksFor(kind Kind) []Hook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Hook
	for _, h := range c.hooks {
		if !h.Enabled() {
			continue
		}
		for _, k := range h.Kinds() {
			if k == kind {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// Run invokes every enabled hook for kind in order. The first Reject stops
// the chain. Hook errors are handled per the hook's FailOnError: rejecting
// the request when set, logged and skipped otherwise. Context cancellation
// is always re-raised, never swallowed.
func (c *Chain) Run(ctx context.Context, kind Kind, hc *HookContext) (Result, error) {
	for _, h := range c.hooksFor(kind) {
		res, err := h.Invoke(ctx, kind, hc)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Result{}, err
			}
			if h.FailOnError() {
				return Reject(fmt.Sprintf("hook %s failed: %s", h.Name(), err)), nil
			}
			slog.Warn("Hook failed, continuing", "hook", h.Name(), "kind", kind, "error", err)
			continue
		}
		if res.Rejected() {
			return res, nil
		}
	}
	return Continue(), nil
}
