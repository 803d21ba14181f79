// Package engine is the process-wide composition root for the
// question-answering orchestrator: it holds every long-lived collaborator
// (retriever, composer, estimator, verifier, decision head, calibration,
// audit, approval store, policy store, metrics) and builds a fresh, cheap
// per-request orchestrator.Orchestrator bound to that request's resolved
// workspace policy.
//
// A fresh Orchestrator per request (rather than one shared instance) is
// required because internal/tools.Dispatcher is itself bound to one
// domain.Policy at construction (its allowlist/approval-requirement set),
// and policy varies per workspace; building a Dispatcher per request is the
// only point at which that binding can happen.
package engine

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortexhq/cortex/internal/approval"
	"github.com/cortexhq/cortex/internal/audit"
	"github.com/cortexhq/cortex/internal/calibration"
	"github.com/cortexhq/cortex/internal/composer"
	"github.com/cortexhq/cortex/internal/decision"
	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/events"
	"github.com/cortexhq/cortex/internal/metrics"
	"github.com/cortexhq/cortex/internal/orchestrator"
	"github.com/cortexhq/cortex/internal/policy"
	"github.com/cortexhq/cortex/internal/retriever"
	"github.com/cortexhq/cortex/internal/tools"
	"github.com/cortexhq/cortex/internal/tools/matheval"
	"github.com/cortexhq/cortex/internal/tools/tablequery"
	"github.com/cortexhq/cortex/internal/tools/webfetch"
	"github.com/cortexhq/cortex/internal/tools/websearch"
	"github.com/cortexhq/cortex/internal/uncertainty"
	"github.com/cortexhq/cortex/internal/verifier"
)

// Budgets bundles the process-wide refinement-loop defaults, overridable
// per request via domain.RequestOverrides and per workspace via the
// policy overlay.
type Budgets struct {
	MaxRefinements        int
	WallClockBudget       time.Duration
	MinCalibrationSamples int
}

// Config bundles every shared collaborator Engine needs. TableQueryPool may
// be nil, in which case TABLE_QUERY is not registered and dispatching it
// reports a failed (parse_error, "not registered") outcome rather than
// panicking.
type Config struct {
	Fuser          *retriever.Fuser
	Composer       *composer.Composer
	Estimator      *uncertainty.Estimator
	Verifier       *verifier.Verifier
	DecisionHead   *decision.Head
	Calibration    *calibration.Store
	Audit          *audit.Store
	Approvals      *approval.Store
	Policies       *policy.Store
	Metrics        *metrics.Registry
	WebSearch      websearch.Backend
	TableQueryPool *pgxpool.Pool
	Budgets        Budgets
}

// Engine is the process-wide, request-agnostic facade the HTTP handlers
// call into.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// ResolvePolicy returns the effective policy for workspace.
func (e *Engine) ResolvePolicy(ctx context.Context, workspace string) (domain.Policy, error) {
	return e.cfg.Policies.Get(ctx, workspace)
}

// Ask builds a request-scoped Dispatcher and Orchestrator bound to p, and
// starts the refinement loop, returning the live event Bus.
func (e *Engine) Ask(ctx context.Context, req domain.Request, p domain.Policy) *events.Bus {
	registered := []tools.Tool{
		websearch.New(e.cfg.WebSearch),
		webfetch.New(webfetch.Policy{
			MaxRedirects:   nonZeroInt(p.EgressMaxRedirects, 3),
			MaxBodyBytes:   nonZeroInt64(p.EgressMaxBytes, 5<<20),
			RequestTimeout: 10 * time.Second,
			AllowHosts:     p.EgressHostAllowlist,
			DenyHosts:      p.EgressHostDenylist,
		}),
		matheval.New(),
	}
	if e.cfg.TableQueryPool != nil {
		registered = append(registered, tablequery.New(e.cfg.TableQueryPool, p.TablesAllowed, nil))
	}
	dispatcher := tools.NewDispatcher(p, e.cfg.Approvals, registered...)

	weights := retriever.Weights{Sparse: p.RetrieverWeightSparse, Dense: p.RetrieverWeightDense, Entity: p.RetrieverWeightEntity}

	o := orchestrator.New(orchestrator.Config{
		Retriever:             e.cfg.Fuser,
		Composer:              e.cfg.Composer,
		Estimator:             e.cfg.Estimator,
		Verifier:              e.cfg.Verifier,
		Decision:              e.cfg.DecisionHead,
		Calibration:           e.cfg.Calibration,
		Dispatcher:            dispatcher,
		Audit:                 e.cfg.Audit,
		Weights:               weights,
		Metrics:               e.cfg.Metrics,
		MinCalibrationSamples: e.cfg.Budgets.MinCalibrationSamples,
		MaxRefinements:        e.cfg.Budgets.MaxRefinements,
		WallClockBudget:       e.cfg.Budgets.WallClockBudget,
	})

	return o.Run(ctx, req, p)
}

func nonZeroInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func nonZeroInt64(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}
