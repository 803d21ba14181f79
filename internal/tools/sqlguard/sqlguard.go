// Package sqlguard validates TABLE_QUERY statements before they ever reach
// the database: SELECT-only, single-statement, no comments, no UNION, no
// PRAGMA/administrative keywords, and every referenced table must be in the
// caller-supplied allowlist. It parses with pg_query_go (the real Postgres
// grammar, via libpg_query) rather than a hand-rolled regex scan.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var blockedKeyword = regexp.MustCompile(`\b(PRAGMA|INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|GRANT|REVOKE|COPY|VACUUM|TRUNCATE|EXECUTE|CALL)\b`)

// Violation describes why a statement was rejected.
type Violation struct {
	Reason string
}

func (v Violation) Error() string { return v.Reason }

// Check parses raw and enforces the guard's rules, returning the set of
// base table names referenced on success.
func Check(raw string, allowedTables map[string]bool) ([]string, error) {
	if strings.Contains(raw, ";") && strings.Count(strings.TrimRight(strings.TrimSpace(raw), ";"), ";") > 0 {
		return nil, Violation{"multiple statements are not allowed"}
	}
	if strings.Contains(raw, "--") || strings.Contains(raw, "/*") {
		return nil, Violation{"comments are not allowed in query text"}
	}

	result, err := pg_query.Parse(raw)
	if err != nil {
		return nil, Violation{"could not parse statement: " + err.Error()}
	}
	if len(result.Stmts) != 1 {
		return nil, Violation{"exactly one statement is required"}
	}

	raw0 := result.Stmts[0].Stmt
	selectStmt := raw0.GetSelectStmt()
	if selectStmt == nil {
		return nil, Violation{"only SELECT statements are allowed"}
	}
	if selectStmt.Op == pg_query.SetOperation_SETOP_UNION {
		return nil, Violation{"UNION is not allowed"}
	}

	// Word-boundary match so identifiers like created_at or updated_by don't
	// trip the blocklist; the AST check above already guarantees a single
	// SELECT, this is belt-and-braces against smuggled keywords.
	if kw := blockedKeyword.FindString(strings.ToUpper(raw)); kw != "" {
		return nil, Violation{fmt.Sprintf("keyword %q is not allowed", kw)}
	}

	tables := collectTables(selectStmt)
	if len(tables) == 0 {
		return nil, Violation{"statement does not reference any table"}
	}
	for _, t := range tables {
		if !allowedTables[t] {
			return nil, Violation{fmt.Sprintf("table %q is not in the allowlist", t)}
		}
	}
	return tables, nil
}

func collectTables(stmt *pg_query.SelectStmt) []string {
	var out []string
	seen := map[string]bool{}
	for _, from := range stmt.FromClause {
		walkFrom(from, &out, seen)
	}
	return out
}

func walkFrom(node *pg_query.Node, out *[]string, seen map[string]bool) {
	if node == nil {
		return
	}
	if rv := node.GetRangeVar(); rv != nil {
		name := rv.Relname
		if !seen[name] {
			seen[name] = true
			*out = append(*out, name)
		}
		return
	}
	if join := node.GetJoinExpr(); join != nil {
		walkFrom(join.Larg, out, seen)
		walkFrom(join.Rarg, out, seen)
	}
}
