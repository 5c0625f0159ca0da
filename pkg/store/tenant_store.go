package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ErrNotFound is returned when a lookup by ID or name matches no row.
var ErrNotFound = errors.New("not found")

// TenantStore persists tenant definitions and quotas.
type TenantStore struct {
	db *sqlx.DB
}

func NewTenantStore(db *sqlx.DB) *TenantStore {
	return &TenantStore{db: db}
}

type tenantRow struct {
	ID                  string               `db:"id"`
	Name                string               `db:"name"`
	Slug                string               `db:"slug"`
	Plan                models.TenantPlan    `db:"plan"`
	Status              models.TenantStatus  `db:"status"`
	MaxRequestsPerMonth int64                `db:"max_requests_per_month"`
	MaxTokensPerMonth   int64                `db:"max_tokens_per_month"`
	MaxUsers            int64                `db:"max_users"`
	MaxAgents           int64                `db:"max_agents"`
	MaxMcpServers       int64                `db:"max_mcp_servers"`
	SloAvailability     float64              `db:"slo_availability"`
	SloLatencyP99Ms     int64                `db:"slo_latency_p99_ms"`
	CreatedAt           sql.NullTime         `db:"created_at"`
	UpdatedAt           sql.NullTime         `db:"updated_at"`
}

func (r *tenantRow) toModel() *models.Tenant {
	t := &models.Tenant{
		ID:     r.ID,
		Name:   r.Name,
		Slug:   r.Slug,
		Plan:   r.Plan,
		Status: r.Status,
		Quota: models.TenantQuota{
			MaxRequestsPerMonth: r.MaxRequestsPerMonth,
			MaxTokensPerMonth:   r.MaxTokensPerMonth,
			MaxUsers:            r.MaxUsers,
			MaxAgents:           r.MaxAgents,
			MaxMcpServers:       r.MaxMcpServers,
		},
		SloAvailability: r.SloAvailability,
		SloLatencyP99Ms: r.SloLatencyP99Ms,
	}
	if r.CreatedAt.Valid {
		t.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		t.UpdatedAt = r.UpdatedAt.Time
	}
	return t
}

// FindByID loads one tenant. Returns ErrNotFound when absent.
func (s *TenantStore) FindByID(ctx context.Context, id string) (*models.Tenant, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tenants WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", id, err)
	}
	return row.toModel(), nil
}

// List returns all tenants ordered by ID.
func (s *TenantStore) List(ctx context.Context) ([]*models.Tenant, error) {
	var rows []tenantRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM tenants ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	tenants := make([]*models.Tenant, 0, len(rows))
	for i := range rows {
		tenants = append(tenants, rows[i].toModel())
	}
	return tenants, nil
}

// Save upserts a tenant by ID.
func (s *TenantStore) Save(ctx context.Context, t *models.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants
			(id, name, slug, plan, status,
			 max_requests_per_month, max_tokens_per_month, max_users, max_agents, max_mcp_servers,
			 slo_availability, slo_latency_p99_ms, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			max_requests_per_month = EXCLUDED.max_requests_per_month,
			max_tokens_per_month = EXCLUDED.max_tokens_per_month,
			max_users = EXCLUDED.max_users,
			max_agents = EXCLUDED.max_agents,
			max_mcp_servers = EXCLUDED.max_mcp_servers,
			slo_availability = EXCLUDED.slo_availability,
			slo_latency_p99_ms = EXCLUDED.slo_latency_p99_ms,
			updated_at = now()`,
		t.ID, t.Name, t.Slug, t.Plan, t.Status,
		t.Quota.MaxRequestsPerMonth, t.Quota.MaxTokensPerMonth, t.Quota.MaxUsers,
		t.Quota.MaxAgents, t.Quota.MaxMcpServers,
		t.SloAvailability, t.SloLatencyP99Ms)
	if err != nil {
		return fmt.Errorf("save tenant %s: %w", t.ID, err)
	}
	return nil
}
