package models

import "time"

// ToolPolicy controls whether a tool may run and whether it needs human
// approval first. Matched by tool name, optionally narrowed to one server.
type ToolPolicy struct {
	ID               string    `db:"id" json:"id"`
	ToolName         string    `db:"tool_name" json:"toolName"`
	ServerName       string    `db:"server_name" json:"serverName,omitempty"`
	RequiresApproval bool      `db:"requires_approval" json:"requiresApproval"`
	Enabled          bool      `db:"enabled" json:"enabled"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}
