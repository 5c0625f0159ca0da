package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// ApprovalStore persists pending tool-call approvals.
type ApprovalStore struct {
	db *sqlx.DB
}

func NewApprovalStore(db *sqlx.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

type approvalRow struct {
	ID          string                       `db:"id"`
	ToolName    string                       `db:"tool_name"`
	ServerName  string                       `db:"server_name"`
	RequestedBy string                       `db:"requested_by"`
	Arguments   []byte                       `db:"arguments"`
	Status      models.PendingApprovalStatus `db:"status"`
	CreatedAt   time.Time                    `db:"created_at"`
	DecidedAt   sql.NullTime                 `db:"decided_at"`
	DecidedBy   string                       `db:"decided_by"`
}

func (r *approvalRow) toModel() (*models.PendingApproval, error) {
	a := &models.PendingApproval{
		ID:          r.ID,
		ToolName:    r.ToolName,
		ServerName:  r.ServerName,
		RequestedBy: r.RequestedBy,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		DecidedBy:   r.DecidedBy,
	}
	if len(r.Arguments) > 0 {
		if err := json.Unmarshal(r.Arguments, &a.Arguments); err != nil {
			return nil, fmt.Errorf("decode arguments for approval %s: %w", r.ID, err)
		}
	}
	if r.DecidedAt.Valid {
		t := r.DecidedAt.Time
		a.DecidedAt = &t
	}
	return a, nil
}

// Create inserts a PENDING approval and returns it with its generated ID.
func (s *ApprovalStore) Create(ctx context.Context, a *models.PendingApproval) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = models.ApprovalPending
	args, err := json.Marshal(a.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments for approval: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_approvals
			(id, tool_name, server_name, requested_by, arguments, status, created_at)
		VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, now())`,
		a.ID, a.ToolName, a.ServerName, a.RequestedBy, args, a.Status)
	if err != nil {
		return fmt.Errorf("create approval for tool %s: %w", a.ToolName, err)
	}
	return nil
}

// FindByID loads one approval. Returns ErrNotFound when absent.
func (s *ApprovalStore) FindByID(ctx context.Context, id string) (*models.PendingApproval, error) {
	var row approvalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tool_name, coalesce(server_name, '') AS server_name, requested_by,
		       arguments, status, created_at, decided_at, coalesce(decided_by, '') AS decided_by
		FROM pending_approvals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load approval %s: %w", id, err)
	}
	return row.toModel()
}

// Decide transitions a PENDING approval to APPROVED or REJECTED. Decisions
// on already-decided approvals are ignored.
func (s *ApprovalStore) Decide(ctx context.Context, id string, status models.PendingApprovalStatus, decidedBy string) error {
	if status != models.ApprovalApproved && status != models.ApprovalRejected {
		return fmt.Errorf("invalid approval decision %q", status)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_approvals
		SET status = $2, decided_at = now(), decided_by = $3
		WHERE id = $1 AND status = 'PENDING'`,
		id, status, decidedBy)
	if err != nil {
		return fmt.Errorf("decide approval %s: %w", id, err)
	}
	return nil
}

// ExpireOlderThan marks PENDING approvals created before the cutoff EXPIRED
// and returns how many were expired.
func (s *ApprovalStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_approvals
		SET status = 'EXPIRED', decided_at = now()
		WHERE status = 'PENDING' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	return n, nil
}

// ToolPolicyStore persists per-tool execution policies.
type ToolPolicyStore struct {
	db *sqlx.DB
}

func NewToolPolicyStore(db *sqlx.DB) *ToolPolicyStore {
	return &ToolPolicyStore{db: db}
}

// Find returns the policy for a tool, preferring a server-specific policy
// over a server-agnostic one. Nil when no policy exists.
func (s *ToolPolicyStore) Find(ctx context.Context, toolName, serverName string) (*models.ToolPolicy, error) {
	var p models.ToolPolicy
	err := s.db.GetContext(ctx, &p, `
		SELECT id, tool_name, coalesce(server_name, '') AS server_name,
		       requires_approval, enabled, created_at, updated_at
		FROM tool_policy
		WHERE tool_name = $1 AND (server_name = $2 OR server_name IS NULL)
		ORDER BY server_name NULLS LAST
		LIMIT 1`, toolName, serverName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load policy for tool %s: %w", toolName, err)
	}
	return &p, nil
}

// Save upserts a policy keyed by tool and server.
func (s *ToolPolicyStore) Save(ctx context.Context, p *models.ToolPolicy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_policy
			(id, tool_name, server_name, requires_approval, enabled, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3,''), $4, $5, now(), now())
		ON CONFLICT (tool_name, server_name) DO UPDATE SET
			requires_approval = EXCLUDED.requires_approval,
			enabled = EXCLUDED.enabled,
			updated_at = now()`,
		p.ID, p.ToolName, p.ServerName, p.RequiresApproval, p.Enabled)
	if err != nil {
		return fmt.Errorf("save policy for tool %s: %w", p.ToolName, err)
	}
	return nil
}
