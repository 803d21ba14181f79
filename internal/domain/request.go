package domain

import "time"

// Request is the canonical question-answering request the orchestrator
// drives to a terminal decision.
type Request struct {
	RequestID      string            // UUID, correlates every event and the StepRecord trail
	Question       string            // natural-language question
	Domain         string            // calibration/retrieval domain
	Workspace      string            // workspace slug
	IdempotencyKey string            // replay key for /agent/answer
	Overrides      RequestOverrides  // per-request budget/weight/flag overrides
	CreatedAt      time.Time
}

// RequestOverrides carries the per-request deltas layered on top of the
// workspace policy defaults.
type RequestOverrides struct {
	MemoryBudget            *int
	MaxRefinements           *int
	ToolBudgetPerTurn        *int
	ToolBudgetPerRefinement  *int
	Stream                   bool
}
