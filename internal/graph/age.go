package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AGEClient is a Writer backed by Postgres with the Apache AGE extension.
// One client is bound to one graph; tenant partitions get their own clients
// sharing the underlying pool.
type AGEClient struct {
	pool   *pgxpool.Pool
	graph  string
	logger *slog.Logger
}

// CreateConnectionPool creates a pgx pool whose connections have AGE loaded
// and ag_catalog on the search path, so cypher() is callable without
// per-query setup.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LOAD 'age'"); err != nil {
			return fmt.Errorf("load age extension: %w", err)
		}
		if _, err := conn.Exec(ctx, `SET search_path = ag_catalog, "$user", public`); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NewAGEClient binds a Writer to one graph, creating the graph if needed.
func NewAGEClient(ctx context.Context, pool *pgxpool.Pool, graphName string, logger *slog.Logger) (*AGEClient, error) {
	name := SanitizeGraphName(graphName)
	if name == "" {
		return nil, fmt.Errorf("invalid graph name %q", graphName)
	}

	c := &AGEClient{pool: pool, graph: name, logger: logger}
	if err := c.ensureGraph(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// GraphName returns the graph this client writes to.
func (c *AGEClient) GraphName() string {
	return c.graph
}

func (c *AGEClient) ensureGraph(ctx context.Context) error {
	var count int
	err := c.pool.QueryRow(ctx,
		"SELECT count(*) FROM ag_catalog.ag_graph WHERE name = $1", c.graph,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("check graph %s: %w", c.graph, err)
	}
	if count > 0 {
		return nil
	}

	if _, err := c.pool.Exec(ctx, "SELECT ag_catalog.create_graph($1)", c.graph); err != nil {
		return fmt.Errorf("create graph %s: %w", c.graph, err)
	}
	c.logger.Info("graph created", "graph", c.graph)
	return nil
}

// Query executes one Cypher statement with the given parameters. Parameters
// are passed to AGE as an agtype map; the Cypher text itself references them
// as $name.
func (c *AGEClient) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode cypher params: %w", err)
	}

	// The graph name and query text cannot be bind parameters in AGE's
	// cypher() call, so they are inlined: the name is pre-sanitized to
	// [a-z0-9_] and the query text is dollar-quoted with a tag chosen to
	// not collide with the text. Values always travel as bind parameters.
	stmt := fmt.Sprintf(
		"SELECT result FROM ag_catalog.cypher('%s', %s, $1::ag_catalog.agtype) AS (result ag_catalog.agtype)",
		c.graph, dollarQuote(cypher),
	)

	rows, err := c.pool.Query(ctx, stmt, string(payload))
	if err != nil {
		return nil, fmt.Errorf("cypher query on %s: %w", c.graph, err)
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan cypher result: %w", err)
		}
		results = append(results, decodeAgtype(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cypher rows on %s: %w", c.graph, err)
	}
	return results, nil
}

// decodeAgtype parses an agtype value into a map. Agtype is JSON with an
// optional ::vertex / ::edge / ::path suffix; values that still fail to parse
// are returned raw under "result".
func decodeAgtype(raw string) map[string]any {
	text := raw
	if idx := strings.LastIndex(text, "::"); idx >= 0 {
		suffix := text[idx+2:]
		if suffix == "vertex" || suffix == "edge" || suffix == "path" {
			text = text[:idx]
		}
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err == nil {
		return m
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return map[string]any{"result": v}
	}
	return map[string]any{"result": raw}
}

// dollarQuote wraps text in a dollar-quoted string whose tag does not occur
// in the text.
func dollarQuote(text string) string {
	tag := "$q$"
	for i := 0; strings.Contains(text, tag); i++ {
		tag = fmt.Sprintf("$q%d$", i)
	}
	return tag + text + tag
}

// SanitizeGraphName lowercases and strips everything outside [a-z0-9_].
// Returns "" if nothing survives.
func SanitizeGraphName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	out := b.String()
	// AGE graph names cannot start with a digit.
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "g" + out
	}
	return out
}
