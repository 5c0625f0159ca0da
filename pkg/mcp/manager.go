// Package mcp manages connections to MCP (Model Context Protocol) servers:
// a per-server connection state machine, background reconnection with
// jittered backoff, fail-soft persistence sync, and deduplicated tool
// callbacks for the scheduler and agent paths.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/argus/pkg/config"
	"github.com/codeready-toolchain/argus/pkg/models"
	"github.com/codeready-toolchain/argus/pkg/version"
)

// ConnectionManager owns the runtime registry of MCP servers and their
// connection state machine:
//
//	PENDING → CONNECTING → CONNECTED ↔ DISCONNECTED/FAILED
//
// Per-server operations are serialized by a per-server mutex; different
// servers proceed independently.
type ConnectionManager struct {
	cfg       *config.MCPConfig
	storeSync *StoreSync
	logger    *slog.Logger

	mu       sync.RWMutex
	registry map[string]*models.McpServer
	states   map[string]models.McpServerStatus
	sessions map[string]*mcpsdk.ClientSession
	tools    map[string][]ToolCallback

	// serverMu holds one *sync.Mutex per server; the entry is removed on
	// unregister.
	serverMu sync.Map

	reconnector *ReconnectCoordinator

	// transportFactory is replaceable in tests.
	transportFactory func(*models.McpServer, time.Duration) (mcpsdk.Transport, error)

	// dropHook observes tool-name collisions during deduplication.
	dropHook func(toolName, keptServer, droppedServer string)

	// statusHook observes connection state transitions.
	statusHook func(serverName string, status models.McpServerStatus)
}

// NewConnectionManager creates a manager over the given config and fail-soft
// store sync.
func NewConnectionManager(cfg *config.MCPConfig, storeSync *StoreSync) *ConnectionManager {
	if storeSync == nil {
		storeSync = NewStoreSync(nil)
	}
	return &ConnectionManager{
		cfg:              cfg,
		storeSync:        storeSync,
		logger:           slog.Default().With("component", "mcp-manager"),
		registry:         make(map[string]*models.McpServer),
		states:           make(map[string]models.McpServerStatus),
		sessions:         make(map[string]*mcpsdk.ClientSession),
		tools:            make(map[string][]ToolCallback),
		transportFactory: buildTransport,
	}
}

// SetReconnector wires the background reconnection coordinator.
func (m *ConnectionManager) SetReconnector(r *ReconnectCoordinator) {
	m.reconnector = r
}

// SetToolDropHook registers an observer for tool-name collisions in
// AllToolCallbacks.
func (m *ConnectionManager) SetToolDropHook(hook func(toolName, keptServer, droppedServer string)) {
	m.dropHook = hook
}

// SetStatusHook registers an observer for connection state transitions.
// Must be set before the manager starts connecting.
func (m *ConnectionManager) SetStatusHook(hook func(serverName string, status models.McpServerStatus)) {
	m.statusHook = hook
}

// Register adds or updates a server definition in the runtime registry and
// persists it fail-soft. New servers start PENDING; re-registering an
// existing name updates the config but keeps the current status so a FAILED
// server can be repaired in place. Names are checked against the allowlist.
func (m *ConnectionManager) Register(ctx context.Context, server *models.McpServer) error {
	if !m.cfg.ServerAllowed(server.Name) {
		return fmt.Errorf("server name %q is not in the allowlist", server.Name)
	}

	m.mu.Lock()
	if _, exists := m.registry[server.Name]; !exists {
		m.states[server.Name] = models.McpStatusPending
	}
	m.registry[server.Name] = server
	m.mu.Unlock()

	m.storeSync.SaveIfAbsent(ctx, server)
	m.logger.Info("MCP server registered", "server", server.Name, "transport", server.Transport)

	if server.AutoConnect {
		m.Connect(ctx, server.Name)
	}
	return nil
}

// RestoreFromStore loads persisted server definitions into the registry and
// connects the ones marked autoConnect. Called once at startup.
func (m *ConnectionManager) RestoreFromStore(ctx context.Context) {
	for _, server := range m.storeSync.List(ctx) {
		if !m.cfg.ServerAllowed(server.Name) {
			m.logger.Warn("Skipping persisted MCP server not in allowlist", "server", server.Name)
			continue
		}
		m.mu.Lock()
		if _, exists := m.registry[server.Name]; !exists {
			m.registry[server.Name] = server
			m.states[server.Name] = models.McpStatusPending
		}
		m.mu.Unlock()

		if server.AutoConnect {
			m.Connect(ctx, server.Name)
		}
	}
}

// Connect opens the transport for a registered server and caches its tools.
// Returns false when the server is unknown or any step fails; failures set
// status FAILED and schedule a background reconnection.
func (m *ConnectionManager) Connect(ctx context.Context, serverName string) bool {
	m.mu.RLock()
	server, exists := m.registry[serverName]
	m.mu.RUnlock()
	if !exists {
		return false
	}

	mu := m.lockServer(serverName)
	defer mu.Unlock()

	// Already connected by a racing caller.
	m.mu.RLock()
	_, hasSession := m.sessions[serverName]
	m.mu.RUnlock()
	if hasSession {
		return true
	}

	m.setStatus(serverName, models.McpStatusConnecting)

	transport, err := m.transportFactory(server, m.cfg.ConnectionTimeout)
	if err != nil {
		m.logger.Warn("MCP transport setup failed", "server", serverName, "error", err)
		m.connectFailed(serverName)
		return false
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		// Close the transport if it holds resources (stdio child processes).
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		m.logger.Warn("MCP connect failed", "server", serverName, "error", err)
		m.connectFailed(serverName)
		return false
	}

	callbacks, err := m.discoverTools(connectCtx, serverName, session)
	if err != nil {
		_ = session.Close()
		m.logger.Warn("MCP tool discovery failed", "server", serverName, "error", err)
		m.connectFailed(serverName)
		return false
	}

	m.mu.Lock()
	m.sessions[serverName] = session
	m.tools[serverName] = callbacks
	m.states[serverName] = models.McpStatusConnected
	m.mu.Unlock()

	if m.reconnector != nil {
		m.reconnector.Clear(serverName)
	}
	m.logger.Info("MCP server connected", "server", serverName, "tools", len(callbacks))
	return true
}

// Disconnect closes the session gracefully, clears cached tools, and sets
// status DISCONNECTED. Any scheduled reconnection is cancelled: an explicit
// disconnect is a user decision, not a failure.
func (m *ConnectionManager) Disconnect(ctx context.Context, serverName string) {
	mu := m.lockServer(serverName)
	defer mu.Unlock()

	m.mu.Lock()
	session, hasSession := m.sessions[serverName]
	delete(m.sessions, serverName)
	delete(m.tools, serverName)
	if _, exists := m.registry[serverName]; exists {
		m.states[serverName] = models.McpStatusDisconnected
	}
	m.mu.Unlock()

	if hasSession {
		if err := session.Close(); err != nil {
			m.logger.Warn("MCP session close failed", "server", serverName, "error", err)
		}
	}
	if m.reconnector != nil {
		m.reconnector.Clear(serverName)
	}
	m.logger.Info("MCP server disconnected", "server", serverName)
}

// Unregister disconnects the server and removes every trace of it: runtime
// registry, persisted definition (fail-soft), per-server mutex, and
// reconnection state.
func (m *ConnectionManager) Unregister(ctx context.Context, serverName string) {
	m.Disconnect(ctx, serverName)

	m.mu.Lock()
	delete(m.registry, serverName)
	delete(m.states, serverName)
	m.mu.Unlock()

	m.storeSync.Delete(ctx, serverName)
	m.serverMu.Delete(serverName)
	if m.reconnector != nil {
		m.reconnector.Clear(serverName)
	}
	m.logger.Info("MCP server unregistered", "server", serverName)
}

// EnsureConnected returns true when the server is CONNECTED. CONNECTING and
// PENDING return false (a connect is already underway or was never asked
// for). FAILED and DISCONNECTED attempt one synchronous connect when
// reconnection is enabled.
func (m *ConnectionManager) EnsureConnected(ctx context.Context, serverName string) bool {
	status, exists := m.Status(serverName)
	if !exists {
		return false
	}
	switch status {
	case models.McpStatusConnected:
		return true
	case models.McpStatusFailed, models.McpStatusDisconnected:
		if m.cfg.Reconnection.Enabled {
			return m.Connect(ctx, serverName)
		}
		return false
	default:
		return false
	}
}

// Status returns the connection state of a registered server.
func (m *ConnectionManager) Status(serverName string) (models.McpServerStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, exists := m.states[serverName]
	return status, exists
}

// Statuses returns a snapshot of all server states.
func (m *ConnectionManager) Statuses() map[string]models.McpServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.McpServerStatus, len(m.states))
	for name, status := range m.states {
		out[name] = status
	}
	return out
}

// ServerExists reports whether the server is in the runtime registry.
func (m *ConnectionManager) ServerExists(serverName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.registry[serverName]
	return exists
}

// ToolCallbacks returns the cached callbacks for one server.
func (m *ConnectionManager) ToolCallbacks(serverName string) []ToolCallback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tools[serverName]
}

// FindTool returns the named tool callback from one server.
func (m *ConnectionManager) FindTool(serverName, toolName string) (ToolCallback, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cb := range m.tools[serverName] {
		if cb.Name == toolName {
			return cb, true
		}
	}
	return ToolCallback{}, false
}

// AllToolCallbacks concatenates per-server callbacks in lexicographic server
// order and deduplicates on tool name: the first server wins, and each drop
// is reported through the drop hook.
func (m *ConnectionManager) AllToolCallbacks() []ToolCallback {
	m.mu.RLock()
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	byServer := make(map[string][]ToolCallback, len(m.tools))
	for name, callbacks := range m.tools {
		byServer[name] = callbacks
	}
	m.mu.RUnlock()

	sort.Strings(names)

	var out []ToolCallback
	keptBy := make(map[string]string)
	for _, serverName := range names {
		for _, cb := range byServer[serverName] {
			if keeper, seen := keptBy[cb.Name]; seen {
				if m.dropHook != nil {
					m.dropHook(cb.Name, keeper, serverName)
				}
				continue
			}
			keptBy[cb.Name] = serverName
			out = append(out, cb)
		}
	}
	return out
}

// Close disconnects every server. Used at shutdown.
func (m *ConnectionManager) Close(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.registry))
	for name := range m.registry {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.Disconnect(ctx, name)
	}
}

// lockServer acquires the per-server mutex, creating it on first use.
func (m *ConnectionManager) lockServer(serverName string) *sync.Mutex {
	muI, _ := m.serverMu.LoadOrStore(serverName, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	return mu
}

func (m *ConnectionManager) setStatus(serverName string, status models.McpServerStatus) {
	m.mu.Lock()
	_, exists := m.registry[serverName]
	if exists {
		m.states[serverName] = status
	}
	m.mu.Unlock()

	if exists && m.statusHook != nil {
		m.statusHook(serverName, status)
	}
}

// connectFailed records a failed connect and schedules a reconnection.
func (m *ConnectionManager) connectFailed(serverName string) {
	m.setStatus(serverName, models.McpStatusFailed)
	if m.reconnector != nil && m.cfg.Reconnection.Enabled {
		m.reconnector.Schedule(serverName)
	}
}

// markTransportError handles a transport-level failure observed during a
// tool call on a CONNECTED server: the session is torn down, status moves to
// FAILED, and a reconnection is scheduled.
func (m *ConnectionManager) markTransportError(serverName string) {
	m.mu.Lock()
	session, hasSession := m.sessions[serverName]
	delete(m.sessions, serverName)
	delete(m.tools, serverName)
	_, exists := m.registry[serverName]
	if exists {
		m.states[serverName] = models.McpStatusFailed
	}
	m.mu.Unlock()

	if hasSession {
		_ = session.Close()
	}
	if exists && m.statusHook != nil {
		m.statusHook(serverName, models.McpStatusFailed)
	}
	if m.reconnector != nil && m.cfg.Reconnection.Enabled {
		m.reconnector.Schedule(serverName)
	}
}

// discoverTools lists the server's tools and wraps each in a ToolCallback
// whose Call flattens and truncates output.
func (m *ConnectionManager) discoverTools(ctx context.Context, serverName string, session *mcpsdk.ClientSession) ([]ToolCallback, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverName, err)
	}

	maxOutput := m.cfg.MaxToolOutputLength
	if maxOutput <= 0 {
		maxOutput = DefaultMaxToolOutputLength
	}

	callbacks := make([]ToolCallback, 0, len(result.Tools))
	for _, tool := range result.Tools {
		toolName := tool.Name
		callbacks = append(callbacks, ToolCallback{
			Name:        toolName,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			ServerName:  serverName,
			Call: func(ctx context.Context, args map[string]any) (string, error) {
				res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
					Name:      toolName,
					Arguments: args,
				})
				if err != nil {
					if ctx.Err() == nil {
						m.markTransportError(serverName)
					}
					return "", fmt.Errorf("call %q.%s: %w", serverName, toolName, err)
				}
				output, err := flattenResult(res)
				if err != nil {
					return "", err
				}
				return truncateToolOutput(output, maxOutput), nil
			},
		})
	}
	return callbacks, nil
}
