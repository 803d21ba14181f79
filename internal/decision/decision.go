// Package decision implements the decision head: combine s1
// and s2 into the final score S, then route to accept/iterate/abstain via
// the conformal gate and borderline tie-break.
package decision

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cortexhq/cortex/internal/domain"
)

// Weights are the decision head's w1/w2 combination weights (default
// 0.5/0.5).
type Weights struct {
	W1, W2 float64
}

func DefaultWeights() Weights {
	return Weights{W1: 0.5, W2: 0.5}
}

// Head is the decision-head state machine.
type Head struct {
	weights Weights
	advised sync.Map // domains already given the uncalibrated advisory
}

func New(w Weights) *Head {
	if w.W1 == 0 && w.W2 == 0 {
		w = DefaultWeights()
	}
	return &Head{weights: w}
}

// Params carries everything the head needs about the current request's
// budgets and calibration state beyond the step's own scores.
type Params struct {
	Domain                string
	StaticAcceptThreshold float64
	StaticBorderlineDelta float64
	Table                 *domain.ThresholdTable // nil = not yet calibrated for this domain
	MinCalibrationSamples int
	RefinementIndex       int
	MaxRefinements        int
}

// Decide routes the combined score through the conformal gate and the
// borderline tie-break.
func (h *Head) Decide(ctx context.Context, uq domain.UQ, ver domain.VerifierResult, p Params) domain.Decision {
	s := h.weights.W1*uq.S1 + h.weights.W2*ver.S2
	d := domain.Decision{StepIndex: ver.StepIndex, S1: uq.S1, S2: ver.S2, S: s}

	tau := p.StaticAcceptThreshold
	delta := p.StaticBorderlineDelta
	calibrated := p.Table != nil && p.Table.Calibrated(p.MinCalibrationSamples)

	if calibrated {
		tau = p.Table.TauAccept
		delta = p.Table.BorderlineDelta
		accept := s >= tau
		d.CPAccept = &accept
		tauCopy := tau
		d.CPTau = &tauCopy
	} else if _, seen := h.advised.LoadOrStore(p.Domain, struct{}{}); !seen {
		// Advisory fires once per domain per process; an uncalibrated
		// high-traffic domain must not log on every request.
		slog.WarnContext(ctx, "decision head: insufficient calibration artifacts, using static threshold",
			"domain", p.Domain, "min_samples", p.MinCalibrationSamples)
	}

	switch {
	case s >= tau && (d.CPAccept == nil || *d.CPAccept):
		d.Action = domain.ActionAccept
		d.Reason = "final score meets acceptance threshold"
	case s >= tau-delta:
		if p.RefinementIndex < p.MaxRefinements && hasFixableIssue(ver.Issues) {
			d.Action = domain.ActionIterate
			d.Reason = "borderline score with a fixable issue and refinement budget remaining"
		} else {
			d.Action = domain.ActionAbstain
			d.Reason = "borderline score but no fixable issue or refinement budget exhausted"
		}
	default:
		d.Action = domain.ActionAbstain
		d.Reason = "final score below the borderline band"
	}
	return d
}

func hasFixableIssue(issues []domain.Issue) bool {
	for _, i := range issues {
		if i.Fixable() {
			return true
		}
	}
	return false
}
