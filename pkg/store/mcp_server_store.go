package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// McpServerStore persists MCP server definitions. Name is the unique key;
// the transport config is a JSONB column.
type McpServerStore struct {
	db *sqlx.DB
}

func NewMcpServerStore(db *sqlx.DB) *McpServerStore {
	return &McpServerStore{db: db}
}

type mcpServerRow struct {
	Name        string                  `db:"name"`
	Transport   models.McpTransportType `db:"transport"`
	Config      []byte                  `db:"config"`
	Version     string                  `db:"version"`
	AutoConnect bool                    `db:"auto_connect"`
	Description string                  `db:"description"`
	CreatedAt   sql.NullTime            `db:"created_at"`
	UpdatedAt   sql.NullTime            `db:"updated_at"`
}

func (r *mcpServerRow) toModel() (*models.McpServer, error) {
	s := &models.McpServer{
		Name:        r.Name,
		Transport:   r.Transport,
		Version:     r.Version,
		AutoConnect: r.AutoConnect,
		Description: r.Description,
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &s.Config); err != nil {
			return nil, fmt.Errorf("decode config for server %s: %w", r.Name, err)
		}
	}
	if r.CreatedAt.Valid {
		s.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		s.UpdatedAt = r.UpdatedAt.Time
	}
	return s, nil
}

// FindByName loads one server definition. Returns ErrNotFound when absent.
func (s *McpServerStore) FindByName(ctx context.Context, name string) (*models.McpServer, error) {
	var row mcpServerRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM mcp_servers WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mcp server %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load mcp server %s: %w", name, err)
	}
	return row.toModel()
}

// List returns all registered servers ordered by name.
func (s *McpServerStore) List(ctx context.Context) ([]*models.McpServer, error) {
	var rows []mcpServerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM mcp_servers ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	servers := make([]*models.McpServer, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		servers = append(servers, m)
	}
	return servers, nil
}

// Save upserts a server definition by name.
func (s *McpServerStore) Save(ctx context.Context, server *models.McpServer) error {
	cfg, err := json.Marshal(server.Config)
	if err != nil {
		return fmt.Errorf("encode config for server %s: %w", server.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers
			(name, transport, config, version, auto_connect, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (name) DO UPDATE SET
			transport = EXCLUDED.transport,
			config = EXCLUDED.config,
			version = EXCLUDED.version,
			auto_connect = EXCLUDED.auto_connect,
			description = EXCLUDED.description,
			updated_at = now()`,
		server.Name, server.Transport, cfg, server.Version, server.AutoConnect,
		server.Description)
	if err != nil {
		return fmt.Errorf("save mcp server %s: %w", server.Name, err)
	}
	return nil
}

// SaveIfAbsent inserts the server only when no row with its name exists.
// Returns true when the insert happened. Existing rows are never modified,
// so repeated registration of a config-defined server is idempotent.
func (s *McpServerStore) SaveIfAbsent(ctx context.Context, server *models.McpServer) (bool, error) {
	cfg, err := json.Marshal(server.Config)
	if err != nil {
		return false, fmt.Errorf("encode config for server %s: %w", server.Name, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers
			(name, transport, config, version, auto_connect, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (name) DO NOTHING`,
		server.Name, server.Transport, cfg, server.Version, server.AutoConnect,
		server.Description)
	if err != nil {
		return false, fmt.Errorf("save mcp server %s: %w", server.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save mcp server %s: %w", server.Name, err)
	}
	return n > 0, nil
}

// Delete removes a server definition. Missing rows are not an error.
func (s *McpServerStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE name = $1`, name); err != nil {
		return fmt.Errorf("delete mcp server %s: %w", name, err)
	}
	return nil
}
