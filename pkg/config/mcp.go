package config

import (
	"fmt"
	"time"
)

// ReconnectionConfig controls the background reconnection loop for failed
// MCP server connections.
type ReconnectionConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// MCPConfig controls MCP connection establishment and tool execution.
type MCPConfig struct {
	// ConnectionTimeout bounds transport open + protocol handshake.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	// MaxToolOutputLength caps tool output before it reaches callers.
	// Longer output is cut at a line boundary with a [TRUNCATED: ...] marker.
	MaxToolOutputLength int `yaml:"max_tool_output_length"`

	// AllowedServerNames restricts which server names may be registered.
	// Empty means all names are allowed. Comparison is exact (case-sensitive).
	AllowedServerNames []string `yaml:"allowed_server_names"`

	Reconnection ReconnectionConfig `yaml:"reconnection"`
}

// DefaultMCPConfig returns the built-in MCP defaults.
func DefaultMCPConfig() *MCPConfig {
	return &MCPConfig{
		ConnectionTimeout:   30 * time.Second,
		MaxToolOutputLength: 50000,
		Reconnection: ReconnectionConfig{
			Enabled:      true,
			MaxAttempts:  5,
			InitialDelay: 5 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     60 * time.Second,
		},
	}
}

// Validate rejects reconnection parameters the backoff loop cannot honor.
func (c *MCPConfig) Validate() error {
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("%w: mcp.connection_timeout must be positive, got %s",
			ErrInvalidConfig, c.ConnectionTimeout)
	}
	if c.MaxToolOutputLength <= 0 {
		return fmt.Errorf("%w: mcp.max_tool_output_length must be positive, got %d",
			ErrInvalidConfig, c.MaxToolOutputLength)
	}
	r := c.Reconnection
	if r.Enabled {
		if r.MaxAttempts <= 0 {
			return fmt.Errorf("%w: mcp.reconnection.max_attempts must be positive, got %d",
				ErrInvalidConfig, r.MaxAttempts)
		}
		if r.InitialDelay <= 0 || r.MaxDelay < r.InitialDelay {
			return fmt.Errorf("%w: mcp.reconnection delays invalid (initial=%s max=%s)",
				ErrInvalidConfig, r.InitialDelay, r.MaxDelay)
		}
		if r.Multiplier < 1.0 {
			return fmt.Errorf("%w: mcp.reconnection.multiplier must be >= 1.0, got %g",
				ErrInvalidConfig, r.Multiplier)
		}
	}
	return nil
}

// ServerAllowed reports whether serverName passes the allowlist.
func (c *MCPConfig) ServerAllowed(serverName string) bool {
	if len(c.AllowedServerNames) == 0 {
		return true
	}
	for _, name := range c.AllowedServerNames {
		if name == serverName {
			return true
		}
	}
	return false
}
