package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawcontext/engram-sub009/internal/domain/models"
)

// AGETenantResolver hands out per-organization AGEClients, creating each
// org's graph on first use and caching the handle afterwards.
type AGETenantResolver struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu      sync.RWMutex
	handles map[string]*AGEClient
}

func NewAGETenantResolver(pool *pgxpool.Pool, logger *slog.Logger) *AGETenantResolver {
	return &AGETenantResolver{
		pool:    pool,
		logger:  logger,
		handles: make(map[string]*AGEClient),
	}
}

// EnsureTenantGraph returns the Writer for the tenant's dedicated graph.
func (r *AGETenantResolver) EnsureTenantGraph(ctx context.Context, tenant models.TenantContext) (Writer, error) {
	if !tenant.Complete() {
		return nil, fmt.Errorf("tenant context incomplete: org_id=%q org_slug=%q", tenant.OrgID, tenant.OrgSlug)
	}

	name := TenantGraphName(tenant)

	r.mu.RLock()
	client, ok := r.handles[name]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	client, err := NewAGEClient(ctx, r.pool, name, r.logger)
	if err != nil {
		return nil, fmt.Errorf("ensure tenant graph %s: %w", name, err)
	}

	r.mu.Lock()
	// Another goroutine may have raced us here; keep the first handle.
	if existing, ok := r.handles[name]; ok {
		client = existing
	} else {
		r.handles[name] = client
		r.logger.Info("tenant graph resolved", "graph", name, "org_id", tenant.OrgID)
	}
	r.mu.Unlock()

	return client, nil
}

// TenantGraphName derives the graph partition name for an organization.
func TenantGraphName(tenant models.TenantContext) string {
	return SanitizeGraphName(fmt.Sprintf("org_%s_%s", tenant.OrgID, tenant.OrgSlug))
}
