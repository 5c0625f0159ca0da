// Package tenant resolves the tenant for an in-flight request and carries it
// through a bounded per-request context value. There is no process-wide
// current-tenant global: the value lives on the request's context.Context,
// set when the request enters and released with the request.
package tenant

import (
	"context"
	"net/http"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// HeaderTenantID is the request header carrying an explicit tenant ID.
const HeaderTenantID = "X-Tenant-Id"

// AttributeTenantID is the request-attribute key set by upstream middleware
// (e.g. after JWT validation).
const AttributeTenantID = "tenant.id"

type contextKey struct{}

// WithTenant returns a child context carrying the tenant ID. Intended to be
// called once at request entry; the value disappears with the request context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKey{}, tenantID)
}

// FromContext returns the ambient tenant ID, or "" when none is set.
func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKey{}).(string)
	return v
}

// Resolver determines the tenant for a request. Resolution order:
// request attribute, X-Tenant-Id header, ambient context value. Falls back
// to "default" when nothing is present.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve inspects the request and its context and returns the tenant ID.
// attributes may be nil.
func (r *Resolver) Resolve(req *http.Request, attributes map[string]any) string {
	if attributes != nil {
		if id, ok := attributes[AttributeTenantID].(string); ok && id != "" {
			return id
		}
	}
	if id := req.Header.Get(HeaderTenantID); id != "" {
		return id
	}
	if id := FromContext(req.Context()); id != "" {
		return id
	}
	return models.DefaultTenantID
}
