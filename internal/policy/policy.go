// Package policy resolves the per-workspace policy overlay: a closed,
// validated key set layered over domain.DefaultPolicy, cached the same way
// internal/calibration caches ThresholdTable (an RWMutex-guarded map,
// invalidated only on an explicit write rather than polled).
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortexhq/cortex/internal/apperr"
	"github.com/cortexhq/cortex/internal/domain"
)

// Store resolves workspace_policies rows into domain.Policy, overlaying
// onto domain.DefaultPolicy for any workspace without a row yet — a
// workspace with no overlay still gets the process-wide defaults.
type Store struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	cache map[string]domain.Policy
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, cache: make(map[string]domain.Policy)}
}

// Get returns the resolved policy for workspace, serving from cache when
// present.
func (s *Store) Get(ctx context.Context, workspace string) (domain.Policy, error) {
	s.mu.RLock()
	p, ok := s.cache[workspace]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}
	return s.load(ctx, workspace)
}

// Invalidate drops workspace's cached policy, forcing the next Get to
// re-read from storage (e.g. after an admin updates the overlay).
func (s *Store) Invalidate(workspace string) {
	s.mu.Lock()
	delete(s.cache, workspace)
	s.mu.Unlock()
}

func (s *Store) load(ctx context.Context, workspace string) (domain.Policy, error) {
	p := domain.DefaultPolicy(workspace)

	const q = `
SELECT accept_threshold, borderline_delta, tool_budget_per_turn, tool_budget_per_refinement,
       tools_allowed, tools_requiring_approval, tables_allowed, egress_allow_hosts, egress_deny_hosts
FROM workspace_policies
WHERE workspace_id = $1`
	row := s.pool.QueryRow(ctx, q, workspace)

	var toolsAllowed, toolsRequiringApproval, tablesAllowed, allowHosts, denyHosts []string
	err := row.Scan(
		&p.AcceptThreshold, &p.BorderlineDelta, &p.ToolBudgetPerTurn, &p.ToolBudgetPerRefinement,
		&toolsAllowed, &toolsRequiringApproval, &tablesAllowed, &allowHosts, &denyHosts,
	)
	switch {
	case err == nil:
		p.ToolsAllowed = toolNames(toolsAllowed)
		p.ToolsRequiringApproval = toolNames(toolsRequiringApproval)
		p.TablesAllowed = tablesAllowed
		p.EgressHostAllowlist = allowHosts
		p.EgressHostDenylist = denyHosts
		p.EgressTLSRequired = true
		p.EgressMaxRedirects = 3
		p.EgressMaxBytes = 5 << 20
	case err == pgx.ErrNoRows:
		// No overlay row yet: DefaultPolicy(workspace) stands as-is.
	default:
		return domain.Policy{}, apperr.Resource(fmt.Errorf("loading workspace policy for %q: %w", workspace, err))
	}

	s.mu.Lock()
	s.cache[workspace] = p
	s.mu.Unlock()
	return p, nil
}

func toolNames(in []string) []domain.ToolName {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.ToolName, len(in))
	for i, s := range in {
		out[i] = domain.ToolName(s)
	}
	return out
}
