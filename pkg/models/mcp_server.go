package models

import "time"

// McpTransportType selects how a connection to an MCP server is opened.
type McpTransportType string

const (
	TransportStdio McpTransportType = "STDIO"
	TransportSSE   McpTransportType = "SSE"
	TransportHTTP  McpTransportType = "HTTP"
)

// McpServerStatus is the runtime connection state of a registered server.
type McpServerStatus string

const (
	McpStatusPending      McpServerStatus = "PENDING"
	McpStatusConnecting   McpServerStatus = "CONNECTING"
	McpStatusConnected    McpServerStatus = "CONNECTED"
	McpStatusDisconnected McpServerStatus = "DISCONNECTED"
	McpStatusFailed       McpServerStatus = "FAILED"
	McpStatusDisabled     McpServerStatus = "DISABLED"
)

// McpServer is a registered MCP server definition. Name is the unique key.
// Config keys depend on the transport: "command"/"args" for STDIO, "url"
// for SSE and HTTP.
type McpServer struct {
	Name        string           `db:"name" json:"name"`
	Transport   McpTransportType `db:"transport" json:"transport"`
	Config      map[string]any   `json:"config"`
	Version     string           `db:"version" json:"version,omitempty"`
	AutoConnect bool             `db:"auto_connect" json:"autoConnect"`
	Description string           `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updatedAt"`
}

// Command returns the stdio command, or "" when not configured.
func (s *McpServer) Command() string {
	v, _ := s.Config["command"].(string)
	return v
}

// Args returns the stdio argument list. Accepts both []string and []any
// (the latter is what JSON decoding produces).
func (s *McpServer) Args() []string {
	switch v := s.Config["args"].(type) {
	case []string:
		return v
	case []any:
		args := make([]string, 0, len(v))
		for _, a := range v {
			if str, ok := a.(string); ok {
				args = append(args, str)
			}
		}
		return args
	}
	return nil
}

// URL returns the SSE/HTTP endpoint, or "" when not configured.
func (s *McpServer) URL() string {
	v, _ := s.Config["url"].(string)
	return v
}
