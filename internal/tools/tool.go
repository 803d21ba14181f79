// Package tools implements the four built-in tools and the dispatcher
// that enforces workspace policy (allowlist, approval gating) around
// them. Each tool follows the same shape: a small parameter struct, a
// bounded execution, and a ToolOutcome result value instead of a raised
// error for expected failure modes.
package tools

import (
	"context"

	"github.com/cortexhq/cortex/internal/domain"
)

// Tool is one built-in tool implementation.
type Tool interface {
	Name() domain.ToolName
	// Execute runs the tool. It never panics for expected failure modes —
	// those are reported via the returned ToolOutcome's Failed/Blocked kind.
	Execute(ctx context.Context, args map[string]any) domain.ToolOutcome
}

// Ok builds a successful outcome.
func Ok(value any, meta map[string]any) domain.ToolOutcome {
	if meta == nil {
		meta = map[string]any{}
	}
	return domain.ToolOutcome{Kind: domain.ToolOutcomeOk, Value: value, Meta: meta}
}

// Failed builds a failed outcome with the tool's failure kind.
func Failed(kind, detail string) domain.ToolOutcome {
	return domain.ToolOutcome{Kind: domain.ToolOutcomeFailed, FailedKind: kind, FailedDetail: detail}
}

// Blocked builds a policy-blocked outcome (never charged against budget).
func Blocked(reason string) domain.ToolOutcome {
	return domain.ToolOutcome{Kind: domain.ToolOutcomeBlocked, BlockedReason: reason}
}
