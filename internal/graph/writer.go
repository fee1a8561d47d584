// Package graph persists the conversation graph. Writes are expressed as
// parameterized Cypher and executed against a property-graph store; the
// default implementation targets Postgres with the Apache AGE extension.
package graph

import (
	"context"

	"github.com/rawcontext/engram-sub009/internal/domain/models"
)

// Writer executes a parameterized Cypher query and returns the result rows.
// Implementations must be safe for concurrent use.
type Writer interface {
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// TenantResolver maps a tenant context to the graph-writer handle for that
// organization's dedicated graph partition, creating the partition on first
// use.
type TenantResolver interface {
	EnsureTenantGraph(ctx context.Context, tenant models.TenantContext) (Writer, error)
}
