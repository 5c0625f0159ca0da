// Package warnings keeps an in-memory registry of non-fatal system issues,
// served on the operational API. Warnings are transient and reset on restart.
package warnings

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// Warning categories.
const (
	CategoryMcpHealth = "mcp_health"
	CategoryPipeline  = "pipeline"
)

// Warning represents a non-fatal system issue.
type Warning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Registry manages in-memory warnings. Thread-safe.
type Registry struct {
	mu       sync.RWMutex
	warnings map[string]*Warning
}

func NewRegistry() *Registry {
	return &Registry{warnings: make(map[string]*Warning)}
}

// Add records a warning and returns its ID. An existing warning with the
// same category and source is replaced.
func (r *Registry) Add(category, message, details, source string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.warnings {
		if w.Category == category && w.Source == source {
			delete(r.warnings, id)
			break
		}
	}

	id := uuid.NewString()
	r.warnings[id] = &Warning{
		ID:        id,
		Category:  category,
		Message:   message,
		Details:   details,
		Source:    source,
		CreatedAt: time.Now(),
	}
	return id
}

// List returns all active warnings as value copies.
func (r *Registry) List() []*Warning {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Warning, 0, len(r.warnings))
	for _, w := range r.warnings {
		cp := *w
		result = append(result, &cp)
	}
	return result
}

// ClearBySource removes the warning matching category and source.
// Returns true if a warning was removed.
func (r *Registry) ClearBySource(category, source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.warnings {
		if w.Category == category && w.Source == source {
			delete(r.warnings, id)
			return true
		}
	}
	return false
}

// McpStatusHook adapts the registry to the connection manager's status hook:
// FAILED raises a warning for the server, recovery clears it.
func (r *Registry) McpStatusHook(serverName string, status models.McpServerStatus) {
	switch status {
	case models.McpStatusFailed:
		r.Add(CategoryMcpHealth,
			"MCP server connection failed", "", serverName)
	case models.McpStatusConnected, models.McpStatusDisconnected:
		r.ClearBySource(CategoryMcpHealth, serverName)
	}
}
