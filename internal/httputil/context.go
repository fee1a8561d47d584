package httputil

import (
	"context"
	"net/http"

	"github.com/rawcontext/engram-sub009/internal/domain/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	userIDKey contextKey = "userID"
	tenantKey contextKey = "tenant"
)

// WithUserID adds userID to the request context
func WithUserID(r *http.Request, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), userIDKey, userID)
	return r.WithContext(ctx)
}

// GetUserID retrieves userID from context, returns empty string if not found
func GetUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// WithTenant adds the caller's tenant identity to the request context
func WithTenant(r *http.Request, tenant models.TenantContext) *http.Request {
	ctx := context.WithValue(r.Context(), tenantKey, tenant)
	return r.WithContext(ctx)
}

// GetTenant retrieves the tenant identity from context; the zero value means
// no tenant (shared-graph ingestion).
func GetTenant(r *http.Request) models.TenantContext {
	tenant, _ := r.Context().Value(tenantKey).(models.TenantContext)
	return tenant
}
