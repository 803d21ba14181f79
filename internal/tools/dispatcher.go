package tools

import (
	"context"
	"fmt"

	"github.com/cortexhq/cortex/internal/domain"
)

// ApprovalGate is the subset of internal/approval.Store the dispatcher
// depends on, kept as a narrow interface so tests can fake it without
// constructing a real store.
type ApprovalGate interface {
	Request(ctx context.Context, stepIndex int, tool domain.ToolName, args map[string]any) (domain.Approval, error)
	Get(id int64) (domain.Approval, bool)
	Wait(ctx context.Context, approvalID int64) (domain.Approval, error)
}

// Budget tracks per-turn and per-refinement tool call counts. A
// zero-value Budget has no budget configured and never blocks —
// callers always construct one from the active Policy.
type Budget struct {
	PerTurn       int
	PerRefinement int

	usedTurn       int
	usedRefinement int
}

func NewBudget(policy domain.Policy) *Budget {
	return &Budget{PerTurn: policy.ToolBudgetPerTurn, PerRefinement: policy.ToolBudgetPerRefinement}
}

// Charge reports whether another call may be made and, if so, debits it.
func (b *Budget) Charge() bool {
	if b.PerTurn > 0 && b.usedTurn >= b.PerTurn {
		return false
	}
	if b.PerRefinement > 0 && b.usedRefinement >= b.PerRefinement {
		return false
	}
	b.usedTurn++
	b.usedRefinement++
	return true
}

// ResetRefinement is called at the start of each new refinement iteration.
func (b *Budget) ResetRefinement() { b.usedRefinement = 0 }

// Dispatcher enforces workspace policy — allowlist, approval gating, and
// budget — around the concrete tool implementations, and is the only entry
// point the orchestrator calls to run a tool.
type Dispatcher struct {
	tools    map[domain.ToolName]Tool
	policy   domain.Policy
	approval ApprovalGate
}

func NewDispatcher(policy domain.Policy, approval ApprovalGate, registered ...Tool) *Dispatcher {
	m := make(map[domain.ToolName]Tool, len(registered))
	for _, t := range registered {
		m[t.Name()] = t
	}
	return &Dispatcher{tools: m, policy: policy, approval: approval}
}

// Dispatch runs name with args under policy, budget, and approval gating.
// A blocked-by-approval outcome never charges the budget; a call waiting
// on approval only counts once it resumes.
func (d *Dispatcher) Dispatch(ctx context.Context, stepIndex int, name domain.ToolName, args map[string]any, budget *Budget) domain.ToolOutcome {
	tool, ok := d.tools[name]
	if !ok {
		return Failed("parse_error", fmt.Sprintf("tool %q is not registered", name))
	}
	if !d.policy.ToolAllowed(name) {
		return Blocked(fmt.Sprintf("tool %q is not allowed by workspace policy", name))
	}

	if d.policy.RequiresApproval(name) {
		approval, err := d.approval.Request(ctx, stepIndex, name, args)
		if err != nil {
			return Failed("network_error", "could not request approval: "+err.Error())
		}
		switch approval.State {
		case domain.ApprovalApproved:
			// fall through to execution below
		case domain.ApprovalDenied:
			return Blocked("approval was denied")
		case domain.ApprovalExpired:
			return Blocked("approval request expired")
		default:
			return domain.ToolOutcome{Kind: domain.ToolOutcomeWaitingApproval, ApprovalID: approval.ApprovalID}
		}
	}

	if budget != nil && !budget.Charge() {
		return Blocked("tool budget exhausted for this turn or refinement")
	}

	return tool.Execute(ctx, args)
}

// Wait blocks until a pending approval resolves (approved, denied, or
// expired) or ctx is canceled, delegating to the underlying approval
// store.
func (d *Dispatcher) Wait(ctx context.Context, approvalID int64) (domain.Approval, error) {
	return d.approval.Wait(ctx, approvalID)
}

// Resume re-runs a tool call after its approval resolved to approved,
// without re-requesting approval or re-checking the allowlist.
func (d *Dispatcher) Resume(ctx context.Context, name domain.ToolName, args map[string]any, budget *Budget) domain.ToolOutcome {
	tool, ok := d.tools[name]
	if !ok {
		return Failed("parse_error", fmt.Sprintf("tool %q is not registered", name))
	}
	if budget != nil && !budget.Charge() {
		return Blocked("tool budget exhausted for this turn or refinement")
	}
	return tool.Execute(ctx, args)
}
