// Package tablequery implements the TABLE_QUERY tool: a guarded,
// read-only, rate-limited SQL query against a fixed allowlist of tables,
// executed directly against pgx since the statement text is
// caller-supplied.
package tablequery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/tools"
	"github.com/cortexhq/cortex/internal/tools/ratelimit"
	"github.com/cortexhq/cortex/internal/tools/sqlguard"
)

// Params is the TABLE_QUERY tool's parameter schema.
type Params struct {
	Query string `json:"query" jsonschema:"required,description=A single read-only SELECT statement"`
}

const maxRows = 200

// Tool implements tools.Tool for TABLE_QUERY.
type Tool struct {
	pool          *pgxpool.Pool
	allowedTables map[string]bool
	limiter       *ratelimit.Limiter
}

func New(pool *pgxpool.Pool, allowedTables []string, limiter *ratelimit.Limiter) *Tool {
	allowed := make(map[string]bool, len(allowedTables))
	for _, t := range allowedTables {
		allowed[t] = true
	}
	if limiter == nil {
		limiter = ratelimit.New(5, 10)
	}
	return &Tool{pool: pool, allowedTables: allowed, limiter: limiter}
}

func (t *Tool) Name() domain.ToolName { return domain.ToolTableQuery }

func (t *Tool) Execute(ctx context.Context, args map[string]any) domain.ToolOutcome {
	query, _ := args["query"].(string)
	if query == "" {
		return tools.Failed("parse_error", "query is required")
	}

	tables, err := sqlguard.Check(query, t.allowedTables)
	if err != nil {
		return tools.Failed("sql_violation", err.Error())
	}

	for _, tbl := range tables {
		if !t.limiter.Allow(tbl) {
			return tools.Blocked(fmt.Sprintf("rate limit exceeded for table %q", tbl))
		}
	}

	rows, err := t.pool.Query(ctx, query)
	if err != nil {
		return tools.Failed("network_error", "query execution failed: "+err.Error())
	}
	defer rows.Close()

	results, err := collectRows(rows)
	if err != nil {
		return tools.Failed("network_error", err.Error())
	}

	return tools.Ok(results, map[string]any{"tables": tables, "row_count": len(results)})
}

func collectRows(rows pgx.Rows) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()
	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		if len(out) >= maxRows {
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
