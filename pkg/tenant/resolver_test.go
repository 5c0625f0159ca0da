package tenant

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolver_AttributeWins(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderTenantID, "header-tenant")
	req = req.WithContext(WithTenant(req.Context(), "ambient-tenant"))

	r := NewResolver()
	got := r.Resolve(req, map[string]any{AttributeTenantID: "attr-tenant"})
	assert.Equal(t, "attr-tenant", got)
}

func TestResolver_HeaderBeforeAmbient(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderTenantID, "header-tenant")
	req = req.WithContext(WithTenant(req.Context(), "ambient-tenant"))

	r := NewResolver()
	assert.Equal(t, "header-tenant", r.Resolve(req, nil))
}

func TestResolver_AmbientContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(WithTenant(req.Context(), "ambient-tenant"))

	r := NewResolver()
	assert.Equal(t, "ambient-tenant", r.Resolve(req, nil))
}

func TestResolver_DefaultFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	r := NewResolver()
	assert.Equal(t, "default", r.Resolve(req, nil))
}

func TestFromContext_BoundedToContext(t *testing.T) {
	parent := context.Background()
	child := WithTenant(parent, "t1")

	assert.Equal(t, "t1", FromContext(child))
	// The parent never sees the value.
	assert.Equal(t, "", FromContext(parent))
}
