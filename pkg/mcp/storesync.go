package mcp

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ServerStore is the persistence surface the connection manager syncs server
// definitions through.
type ServerStore interface {
	FindByName(ctx context.Context, name string) (*models.McpServer, error)
	List(ctx context.Context) ([]*models.McpServer, error)
	SaveIfAbsent(ctx context.Context, server *models.McpServer) (bool, error)
	Delete(ctx context.Context, name string) error
}

// StoreSync is a fail-soft wrapper over a ServerStore: store errors are
// logged and swallowed so a broken database never takes down the runtime
// registry. A nil underlying store turns every call into a no-op.
type StoreSync struct {
	store  ServerStore
	logger *slog.Logger
}

func NewStoreSync(store ServerStore) *StoreSync {
	return &StoreSync{
		store:  store,
		logger: slog.Default().With("component", "mcp-store-sync"),
	}
}

// List returns the persisted server definitions, or an empty slice on error.
func (s *StoreSync) List(ctx context.Context) []*models.McpServer {
	if s.store == nil {
		return nil
	}
	servers, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn("Failed to list persisted MCP servers, using runtime registry only", "error", err)
		return nil
	}
	return servers
}

// SaveIfAbsent persists the server when no row with its name exists.
// Idempotent on name; errors are swallowed.
func (s *StoreSync) SaveIfAbsent(ctx context.Context, server *models.McpServer) {
	if s.store == nil {
		return
	}
	created, err := s.store.SaveIfAbsent(ctx, server)
	if err != nil {
		s.logger.Warn("Failed to persist MCP server", "server", server.Name, "error", err)
		return
	}
	if created {
		s.logger.Info("MCP server persisted", "server", server.Name)
	}
}

// Delete removes the persisted definition; errors are swallowed.
func (s *StoreSync) Delete(ctx context.Context, name string) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, name); err != nil {
		s.logger.Warn("Failed to delete persisted MCP server", "server", name, "error", err)
	}
}
