// Package orchestrator drives the refinement loop: it is the composition
// root wiring the retriever, composer, uncertainty estimator, verifier,
// and decision head together. Each iteration composes a draft, scores it,
// and either terminates or fans out a bounded set of tools whose results
// feed the next pass.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cortexhq/cortex/internal/composer"
	"github.com/cortexhq/cortex/internal/decision"
	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/events"
	"github.com/cortexhq/cortex/internal/metrics"
	"github.com/cortexhq/cortex/internal/retriever"
	"github.com/cortexhq/cortex/internal/tools"
	"github.com/cortexhq/cortex/internal/verifier"
)

// Retriever is the narrow collaborator interface the orchestrator depends
// on; collaborators are always passed in explicitly rather than reached
// for as process-wide singletons.
type Retriever interface {
	Fetch(ctx context.Context, question, workspace string, memoryBudget int, weights retriever.Weights, filters retriever.Filters) domain.Pack
}

// Composer produces drafts; *composer.Composer satisfies this directly.
type Composer interface {
	Compose(ctx context.Context, question string, pack domain.Pack, stepIndex int, refinement *composer.RefinementContext) (domain.Draft, composer.FragmentSeq, error)
}

// Estimator computes SNNE; *uncertainty.Estimator satisfies this directly.
type Estimator interface {
	Estimate(ctx context.Context, stepIndex int, draftText string, table domain.ThresholdTable) domain.UQ
}

// Verifier runs the structured verifier; *verifier.Verifier satisfies this.
type Verifier interface {
	Verify(ctx context.Context, in verifier.Input) domain.VerifierResult
}

// DecisionHead decides accept/iterate/abstain; *decision.Head satisfies this.
type DecisionHead interface {
	Decide(ctx context.Context, uq domain.UQ, ver domain.VerifierResult, p decision.Params) domain.Decision
}

// CalibrationReader resolves the per-domain threshold table.
type CalibrationReader interface {
	Threshold(ctx context.Context, domainName string) (domain.ThresholdTable, error)
}

// AuditStore persists one StepRecord per decided step.
type AuditStore interface {
	Save(ctx context.Context, rec domain.StepRecord) (int64, error)
}

// Dispatcher runs tools under policy/approval/budget gating. Wait/Resume
// let the refinement loop suspend on a pending Approval and, once it
// resolves approved, actually execute the tool it gated.
type Dispatcher interface {
	Dispatch(ctx context.Context, stepIndex int, name domain.ToolName, args map[string]any, budget *tools.Budget) domain.ToolOutcome
	Wait(ctx context.Context, approvalID int64) (domain.Approval, error)
	Resume(ctx context.Context, name domain.ToolName, args map[string]any, budget *tools.Budget) domain.ToolOutcome
}

// Config bundles every collaborator and tunable the orchestrator needs.
type Config struct {
	Retriever         Retriever
	Composer          Composer
	Estimator         Estimator
	Verifier          Verifier
	Decision          DecisionHead
	Calibration       CalibrationReader
	Dispatcher        Dispatcher
	Audit             AuditStore
	Weights           retriever.Weights
	Metrics           *metrics.Registry // optional; nil disables counters
	MinCalibrationSamples int
	MaxRefinements    int           // process default, overridable per request
	WallClockBudget   time.Duration // soft per-request latency budget
}

// Orchestrator is the refinement-loop composition root.
type Orchestrator struct {
	cfg Config
}

func New(cfg Config) *Orchestrator {
	if cfg.WallClockBudget <= 0 {
		cfg.WallClockBudget = 60 * time.Second
	}
	if cfg.MinCalibrationSamples <= 0 {
		cfg.MinCalibrationSamples = 30
	}
	if cfg.MaxRefinements <= 0 {
		cfg.MaxRefinements = 2
	}
	return &Orchestrator{cfg: cfg}
}

// Run drives one request to a terminal `final` or `error` event on the
// returned bus. Run always publishes the full event sequence; the HTTP
// layer decides whether to forward every event (stream) or only consume
// the terminal one (non-stream).
func (o *Orchestrator) Run(ctx context.Context, req domain.Request, policy domain.Policy) *events.Bus {
	bus := events.NewBus()
	start := time.Now()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	bus.Publish(events.Ready(req.RequestID))

	go o.run(ctx, req, policy, bus, start)
	return bus
}

func (o *Orchestrator) run(ctx context.Context, req domain.Request, policy domain.Policy, bus *events.Bus, start time.Time) {
	defer bus.Close()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.WallClockBudget*2)
	defer cancel()

	arena := decision.NewArena(req.RequestID)
	defer arena.Free()

	budget := tools.NewBudget(policy)
	budget.PerTurn = firstNonZero(req.Overrides.ToolBudgetPerTurn, policy.ToolBudgetPerTurn)
	budget.PerRefinement = firstNonZero(req.Overrides.ToolBudgetPerRefinement, policy.ToolBudgetPerRefinement)

	memoryBudget := 8
	if req.Overrides.MemoryBudget != nil {
		memoryBudget = *req.Overrides.MemoryBudget
	}
	maxRefinements := o.cfg.MaxRefinements
	if req.Overrides.MaxRefinements != nil {
		maxRefinements = *req.Overrides.MaxRefinements
	}

	table, err := o.cfg.Calibration.Threshold(ctx, req.Domain)
	if err != nil {
		slog.WarnContext(ctx, "orchestrator: calibration threshold unavailable, using static default", "domain", req.Domain, "error", err)
	}
	pack := o.cfg.Retriever.Fetch(ctx, req.Question, req.Workspace, memoryBudget, o.cfg.Weights, retriever.Filters{Domain: req.Domain})

	var (
		refinementIndex = 0
		priorDraft      *domain.Draft
		lastIssues      []domain.Issue
		toolsUsed       []string
		traceEntries    []events.TracePayload
		promptTokens    int
		completionTok   int
		toolInvocations int
		refCtx          *composer.RefinementContext
		pendingIssues   []domain.Issue
	)

	for {
		if time.Since(start) > o.cfg.WallClockBudget {
			o.finalizeAbstain(ctx, req, bus, pack, priorDraft, refinementIndex, traceEntries, toolsUsed, "latency_budget", start, promptTokens, completionTok, toolInvocations)
			return
		}
		select {
		case <-ctx.Done():
			o.persistIncomplete(ctx, req, refinementIndex, pack)
			return
		default:
		}

		draft, fragSeq, err := o.cfg.Composer.Compose(ctx, req.Question, pack, refinementIndex, refCtx)
		if err != nil {
			bus.Publish(events.Err(req.RequestID, "compose_error", "could not produce a draft"))
			return
		}
		fragSeq(func(frag string) bool {
			bus.Publish(events.Token(req.RequestID, frag))
			return true
		})

		uq := o.cfg.Estimator.Estimate(ctx, refinementIndex, draft.Text, table)

		verIn := verifier.Input{
			StepIndex: refinementIndex,
			DraftText: draft.Text,
			Pack:      pack,
			PCNs:      arena.All(),
			GoVEdges:  arena.GoVEdges(),
		}
		verResult := o.cfg.Verifier.Verify(ctx, verIn)
		if len(pendingIssues) > 0 {
			// Approval outcomes from the prior iteration's tool dispatch
			// (approval_denied/approval_expired) are tool-dispatch concerns,
			// not something the rule-based verifier can detect from draft
			// text alone; fold them in here so they reach the decision
			// head's fixable-issue tie-break and the final payload.
			verResult.Issues = append(verResult.Issues, pendingIssues...)
			pendingIssues = nil
		}

		dec := o.cfg.Decision.Decide(ctx, uq, verResult, decision.Params{
			Domain:                req.Domain,
			StaticAcceptThreshold: policy.AcceptThreshold,
			StaticBorderlineDelta: policy.BorderlineDelta,
			Table:                 &table,
			MinCalibrationSamples: o.cfg.MinCalibrationSamples,
			RefinementIndex:       refinementIndex,
			MaxRefinements:        maxRefinements,
		})

		bus.Publish(events.Score(req.RequestID, events.ScorePayload{
			S1: dec.S1, S2: dec.S2, FinalScore: dec.S, CPAccept: dec.CPAccept, CPTau: dec.CPTau,
		}))

		if o.cfg.Metrics != nil {
			o.cfg.Metrics.DecisionActionTotal.WithLabelValues(string(dec.Action)).Inc()
			if uq.DriftAlert {
				o.cfg.Metrics.SNNEDriftAlertsTotal.WithLabelValues(req.Domain).Inc()
			}
		}

		lastIssues = verResult.Issues
		priorDraft = &draft
		toolsUsed = append(toolsUsed, draft.UsedTools...)

		if dec.Action != domain.ActionIterate {
			trace := events.TracePayload{
				Step: refinementIndex, IsRefinement: refinementIndex > 0,
				Issues: issueStrings(verResult.Issues), ToolsUsed: draft.UsedTools,
			}
			traceEntries = append(traceEntries, trace)
			bus.Publish(events.Trace(req.RequestID, trace))

			o.finalize(ctx, req, bus, dec, verResult, draft, pack, arena, traceEntries, toolsUsed, refinementIndex, start, promptTokens, completionTok, toolInvocations)
			return
		}

		budget.ResetRefinement()
		outputs, selected, extraIssues := o.runRefinementIteration(ctx, req, policy, bus, arena, budget, refinementIndex, &draft, verResult.Issues)
		pendingIssues = extraIssues
		toolsUsed = append(toolsUsed, selected...)
		toolInvocations += len(selected)

		gov := arena.CheckGoV()
		if len(arena.GoVEdges()) > 0 {
			bus.Publish(events.GoV(req.RequestID, events.GoVPayload{DAGDelta: gov}))
		}

		trace := events.TracePayload{
			Step: refinementIndex, IsRefinement: refinementIndex > 0,
			Issues: issueStrings(verResult.Issues), ToolsUsed: selected,
		}
		traceEntries = append(traceEntries, trace)
		bus.Publish(events.Trace(req.RequestID, trace))

		o.persistStep(ctx, req, draft, dec, verResult, pack, selected, refinementIndex, domain.StepStatusOK)

		refinementIndex++
		refCtx = &composer.RefinementContext{Issues: lastIssues, PriorDraft: priorDraft, ToolOutputs: outputs}
	}
}

func firstNonZero(override *int, fallback int) int {
	if override != nil {
		return *override
	}
	return fallback
}

func issueStrings(issues []domain.Issue) []string {
	out := make([]string, len(issues))
	for i, iss := range issues {
		out[i] = string(iss.Kind)
	}
	return out
}
