package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/cortexhq/cortex/internal/composer"
	"github.com/cortexhq/cortex/internal/decision"
	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/events"
	"github.com/cortexhq/cortex/internal/tools"
)

// maxConcurrentTools bounds fan-out within one refinement iteration.
const maxConcurrentTools = 4

// candidate is one tool the refiner wants to try this iteration, already
// filtered to the fixable issues that motivated it.
type candidate struct {
	name domain.ToolName
	args map[string]any
}

// selectCandidates picks tools for the fixable issues in priority order:
// web search/fetch for missing evidence, math_eval for unresolved numeric
// placeholders, table_query for structured-data needs (governance issues),
// bounded to tool_budget_per_refinement candidates.
func selectCandidates(question string, draft *domain.Draft, issues []domain.Issue, policy domain.Policy, maxCandidates int) []candidate {
	var out []candidate
	add := func(c candidate) bool {
		out = append(out, c)
		return len(out) >= maxCandidates
	}

	for _, iss := range issues {
		if iss.Kind == domain.IssueMissingEvidence || iss.Kind == domain.IssueMissingCitations {
			if add(candidate{name: domain.ToolWebSearch, args: map[string]any{"query": question, "k": 5}}) {
				return out
			}
			break
		}
	}

	if draft != nil {
		for _, iss := range issues {
			if iss.Kind != domain.IssueNumericUnverified {
				continue
			}
			for _, key := range draft.Placeholders {
				if !looksArithmetic(key) {
					continue
				}
				if add(candidate{name: domain.ToolMathEval, args: map[string]any{"expression": key, "placeholder": key}}) {
					return out
				}
			}
			break
		}
	}

	for _, iss := range issues {
		if iss.Kind == domain.IssueGovernance && len(policy.TablesAllowed) > 0 {
			table := policy.TablesAllowed[0]
			query := fmt.Sprintf("SELECT * FROM %s LIMIT 5", table)
			if add(candidate{name: domain.ToolTableQuery, args: map[string]any{"query": query}}) {
				return out
			}
			break
		}
	}

	return out
}

// looksArithmetic is a crude check that a placeholder key is plausibly an
// expression MATH_EVAL can evaluate (contains a digit and an operator)
// rather than an opaque identifier the composer invented — placeholders
// whose key isn't an expression stay numeric_unverified rather than being
// sent to the evaluator, documented in DESIGN.md.
func looksArithmetic(key string) bool {
	hasDigit, hasOp := false, false
	for _, r := range key {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '+' || r == '-' || r == '*' || r == '/':
			hasOp = true
		}
	}
	return hasDigit && hasOp
}

// runRefinementIteration dispatches the selected tools for this iteration
// concurrently, joins them, mints/resolves PCNs for numeric results, and
// returns Composer-facing tool outputs, the list of tool names actually
// run (for trace/tools_used), and any issues raised by approval gating
// (approval_denied/approval_expired) for the next verifier pass to fold in.
func (o *Orchestrator) runRefinementIteration(ctx context.Context, req domain.Request, policy domain.Policy, bus *events.Bus, arena *decision.Arena, budget *tools.Budget, stepIndex int, draft *domain.Draft, issues []domain.Issue) ([]composer.ToolOutput, []string, []domain.Issue) {
	candidates := selectCandidates(req.Question, draft, issues, policy, policy.ToolBudgetPerRefinement)
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	type result struct {
		name    domain.ToolName
		outcome domain.ToolOutcome
	}

	results := make([]result, len(candidates))
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentTools)

	for i, c := range candidates {
		if !policy.ToolAllowed(c.name) {
			bus.Publish(events.Tool(req.RequestID, events.ToolPayload{
				Name: string(c.name), Status: domain.ToolStatusBlocked,
				Meta: events.ToolMeta{PolicyResult: "tool not allowed by workspace policy"},
			}))
			results[i] = result{name: c.name, outcome: tools.Blocked("tool not allowed by workspace policy")}
			continue
		}

		requiresApproval := policy.RequiresApproval(c.name)
		if !requiresApproval {
			// Tool dispatch is logically sequential in the audit record even
			// when executed concurrently: start is published at submission
			// time, before the goroutine runs.
			bus.Publish(events.Tool(req.RequestID, events.ToolPayload{Name: string(c.name), Status: domain.ToolStatusStart}))
		}

		wg.Add(1)
		go func(idx int, cand candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = result{name: cand.name, outcome: o.dispatchOne(ctx, req, bus, stepIndex, cand, budget)}
		}(i, c)
	}
	wg.Wait()

	var outputs []composer.ToolOutput
	var used []string
	var extraIssues []domain.Issue

	for i, r := range results {
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.ToolDispatchTotal.WithLabelValues(string(r.name), string(r.outcome.Kind)).Inc()
		}
		switch r.outcome.Kind {
		case domain.ToolOutcomeOk:
			used = append(used, string(r.name))
			bus.Publish(events.Tool(req.RequestID, events.ToolPayload{Name: string(r.name), Status: domain.ToolStatusStop, Meta: okToolMeta(r.outcome)}))
			outputs = append(outputs, composer.ToolOutput{ToolName: string(r.name), Summary: summarize(r.outcome.Value)})
			if r.name == domain.ToolMathEval {
				mintAndResolveMathPCN(arena, bus, req.RequestID, stepIndex, candidates[i], r.outcome)
			}
			if suspected, _ := r.outcome.Meta["injection_suspected"].(bool); suspected {
				extraIssues = append(extraIssues, domain.Issue{Kind: domain.IssueInjectionSuspected, Detail: "fetched content contains a prompt-injection marker"})
			}
		case domain.ToolOutcomeBlocked:
			bus.Publish(events.Tool(req.RequestID, events.ToolPayload{
				Name: string(r.name), Status: domain.ToolStatusBlocked,
				Meta: events.ToolMeta{PolicyResult: r.outcome.BlockedReason},
			}))
			if kind, ok := approvalIssueKind(r.outcome.BlockedReason); ok {
				extraIssues = append(extraIssues, domain.Issue{Kind: kind, Detail: r.outcome.BlockedReason})
			}
		case domain.ToolOutcomeWaitingApproval:
			// dispatchOne turns a canceled wait into a failed outcome, so this
			// is reached only if Resume itself reports waiting_approval;
			// surfaced for visibility.
			aid := r.outcome.ApprovalID
			bus.Publish(events.Tool(req.RequestID, events.ToolPayload{
				Name: string(r.name), Status: domain.ToolStatusWaitingApproval, ID: &aid,
			}))
		case domain.ToolOutcomeFailed:
			bus.Publish(events.Tool(req.RequestID, events.ToolPayload{
				Name: string(r.name), Status: domain.ToolStatusError,
				Meta: events.ToolMeta{PolicyResult: r.outcome.FailedKind},
			}))
		}
	}

	return outputs, used, extraIssues
}

// dispatchOne runs a single candidate tool through the dispatcher. When the
// tool requires approval, it publishes `waiting_approval` and blocks on
// Dispatcher.Wait until the approval resolves (or the request's context is
// canceled), then either resumes execution (approved) or reports the gate
// outcome (denied/expired) without ever charging the tool budget for the
// suspended attempt. On denial or TTL expiry the loop proceeds without
// the tool.
func (o *Orchestrator) dispatchOne(ctx context.Context, req domain.Request, bus *events.Bus, stepIndex int, cand candidate, budget *tools.Budget) domain.ToolOutcome {
	outcome := o.cfg.Dispatcher.Dispatch(ctx, stepIndex, cand.name, cand.args, budget)
	if outcome.Kind != domain.ToolOutcomeWaitingApproval {
		return outcome
	}

	aid := outcome.ApprovalID
	bus.Publish(events.Tool(req.RequestID, events.ToolPayload{
		Name: string(cand.name), Status: domain.ToolStatusWaitingApproval, ID: &aid,
	}))

	resolved, err := o.cfg.Dispatcher.Wait(ctx, aid)
	switch {
	case err != nil:
		return tools.Failed("network_error", "approval wait canceled: "+err.Error())
	case resolved.State == domain.ApprovalApproved:
		bus.Publish(events.Tool(req.RequestID, events.ToolPayload{Name: string(cand.name), Status: domain.ToolStatusStart}))
		return o.cfg.Dispatcher.Resume(ctx, cand.name, cand.args, budget)
	case resolved.State == domain.ApprovalDenied:
		return tools.Blocked("approval_denied")
	default: // expired, or swept while still pending
		return tools.Blocked("approval_expired")
	}
}

// approvalIssueKind maps a Blocked reason raised by dispatchOne's approval
// gating back to the verifier issue kind the decision head's fixable-issue
// tie-break understands.
func approvalIssueKind(reason string) (domain.IssueKind, bool) {
	switch reason {
	case "approval_denied":
		return domain.IssueApprovalDenied, true
	case "approval_expired":
		return domain.IssueApprovalExpired, true
	default:
		return "", false
	}
}

// okToolMeta lifts the interesting bits of a successful outcome's meta into
// the tool event (fetch status, content type, injection flag) without
// leaking the full payload onto the stream.
func okToolMeta(outcome domain.ToolOutcome) events.ToolMeta {
	m := events.ToolMeta{}
	if status, ok := outcome.Meta["status"].(int); ok {
		m.Status = status
	}
	if ct, ok := outcome.Meta["content_type"].(string); ok {
		m.ContentType = ct
	}
	if suspected, ok := outcome.Meta["injection_suspected"].(bool); ok {
		m.InjectionBlocked = suspected
	}
	return m
}

func summarize(value any) string {
	switch v := value.(type) {
	case string:
		if len(v) > 500 {
			return v[:500]
		}
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// mintAndResolveMathPCN mints a PCN for a MATH_EVAL result and immediately
// resolves it against a permissive default policy (no unit requirement),
// since MATH_EVAL already validated the arithmetic itself. The token is
// minted under the candidate's placeholder key — the same key the composer
// embedded as {{pcn:<key>}} — so finalize can substitute the verified value
// back into the draft.
func mintAndResolveMathPCN(arena *decision.Arena, bus *events.Bus, requestID string, stepIndex int, cand candidate, outcome domain.ToolOutcome) {
	value, ok := outcome.Value.(float64)
	if !ok {
		return
	}
	unit, _ := outcome.Meta["unit"].(string)

	key, _ := cand.args["placeholder"].(string)
	if key == "" {
		key, _ = cand.args["expression"].(string)
	}
	if key == "" {
		return
	}

	token := arena.Mint(stepIndex, key, "MATH_EVAL", domain.PCNPolicy{})
	bus.Publish(events.PCN(requestID, events.PCNPayload{ID: token.ID, Type: domain.PCNPending, Policy: token.Policy, Provenance: token.Provenance}))

	resolved, err := arena.Resolve(token.ID, value, unit)
	if err != nil {
		return
	}
	bus.Publish(events.PCN(requestID, events.PCNPayload{
		ID: resolved.ID, Type: resolved.State, Value: resolved.Value, Policy: resolved.Policy, Provenance: resolved.Provenance,
	}))
}
