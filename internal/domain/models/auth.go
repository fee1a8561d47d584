package models

import "github.com/golang-jwt/jwt/v5"

// Claims are the JWT claims this service understands. Tokens are issued by
// the session gateway; org fields are absent for single-tenant deployments.
type Claims struct {
	jwt.RegisteredClaims
	Role    string `json:"role"`
	OrgID   string `json:"org_id,omitempty"`
	OrgSlug string `json:"org_slug,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

// TenantContext identifies the organization a graph write belongs to.
type TenantContext struct {
	OrgID      string
	OrgSlug    string
	ActingUser string
	IsAdmin    bool
}

// Complete reports whether the context carries enough identity to resolve a
// dedicated tenant graph. Partial tenant info falls back to the shared graph.
func (tc TenantContext) Complete() bool {
	return tc.OrgID != "" && tc.OrgSlug != ""
}
