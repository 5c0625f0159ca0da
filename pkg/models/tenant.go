package models

import "time"

// TenantPlan is the subscription tier of a tenant.
type TenantPlan string

const (
	PlanStarter    TenantPlan = "STARTER"
	PlanBusiness   TenantPlan = "BUSINESS"
	PlanEnterprise TenantPlan = "ENTERPRISE"
)

// TenantStatus gates whether a tenant may execute requests.
type TenantStatus string

const (
	TenantActive      TenantStatus = "ACTIVE"
	TenantSuspended   TenantStatus = "SUSPENDED"
	TenantDeactivated TenantStatus = "DEACTIVATED"
)

// TenantQuota holds the per-tenant monthly limits.
type TenantQuota struct {
	MaxRequestsPerMonth int64 `db:"max_requests_per_month" json:"maxRequestsPerMonth"`
	MaxTokensPerMonth   int64 `db:"max_tokens_per_month" json:"maxTokensPerMonth"`
	MaxUsers            int64 `db:"max_users" json:"maxUsers"`
	MaxAgents           int64 `db:"max_agents" json:"maxAgents"`
	MaxMcpServers       int64 `db:"max_mcp_servers" json:"maxMcpServers"`
}

// Tenant is the unit of isolation. Mutated only through TenantStore.Save.
type Tenant struct {
	ID              string       `db:"id" json:"id"`
	Name            string       `db:"name" json:"name"`
	Slug            string       `db:"slug" json:"slug"`
	Plan            TenantPlan   `db:"plan" json:"plan"`
	Status          TenantStatus `db:"status" json:"status"`
	Quota           TenantQuota  `json:"quota"`
	SloAvailability float64      `db:"slo_availability" json:"sloAvailability"`
	SloLatencyP99Ms int64        `db:"slo_latency_p99_ms" json:"sloLatencyP99Ms"`
	CreatedAt       time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updatedAt"`
}

// TenantUsage is the aggregated consumption for the current calendar month.
type TenantUsage struct {
	Requests int64   `db:"requests" json:"requests"`
	Tokens   int64   `db:"tokens" json:"tokens"`
	CostUsd  float64 `db:"cost_usd" json:"costUsd"`
}
