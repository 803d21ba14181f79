package orchestrator

import (
	"context"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/cortexhq/cortex/internal/decision"
	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/retriever"
	"github.com/cortexhq/cortex/internal/tools"
)

// An accept on the first step must never touch the dispatcher: tool calls
// only happen inside refinement iterations.
func TestDispatcherUntouchedOnFirstStepAccept(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := NewMockDispatcher(ctrl)
	// No EXPECT calls registered: any Dispatch/Wait/Resume fails the test.

	o, _ := newTestOrchestrator(
		scriptedEstimator{s1: []float64{0.9}},
		scriptedVerifier{s2: []float64{0.9}},
		dispatcher,
		fakeRetriever{},
	)

	req := domain.Request{Question: "What is X?", Domain: "default", Workspace: "ws"}
	evs := collectEvents(t, o.Run(context.Background(), req, basePolicy()))

	if last := evs[len(evs)-1]; last.Name != "final" || last.Final.Action != domain.ActionAccept {
		t.Fatalf("expected terminal accept, got %+v", last)
	}
}

// An iteration with a fixable missing_evidence issue dispatches exactly the
// selected WEB_SEARCH candidate, with the iteration's budget handle.
func TestRefinementDispatchesSelectedCandidate(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := NewMockDispatcher(ctrl)
	dispatcher.EXPECT().
		Dispatch(gomock.Any(), 0, domain.ToolWebSearch, gomock.Any(), gomock.Any()).
		Return(tools.Ok("snippet", nil)).
		Times(1)

	o, _ := newTestOrchestrator(
		scriptedEstimator{s1: []float64{0.65, 0.9}},
		scriptedVerifier{
			s2:     []float64{0.65, 0.9},
			issues: [][]domain.Issue{{{Kind: domain.IssueMissingEvidence}}},
		},
		dispatcher,
		fakeRetriever{},
	)

	req := domain.Request{Question: "What is X?", Domain: "default", Workspace: "ws"}
	evs := collectEvents(t, o.Run(context.Background(), req, basePolicy()))

	var final *domain.Action
	for _, ev := range evs {
		if ev.Final != nil {
			a := ev.Final.Action
			final = &a
			for _, used := range ev.Final.ToolsUsed {
				if used != string(domain.ToolWebSearch) {
					t.Fatalf("unexpected tool in tools_used: %s", used)
				}
			}
		}
	}
	if final == nil || *final != domain.ActionAccept {
		t.Fatalf("expected accept after refinement, got %v", final)
	}
}

// PCN policy enforcement at the arena level: a unit mismatch fails the
// token instead of verifying it.
func TestArenaRejectsUnitMismatch(t *testing.T) {
	arena := decision.NewArena("req-9")
	tok := arena.Mint(0, "latency", "MATH_EVAL", domain.PCNPolicy{RequiredUnit: "ms"})

	resolved, err := arena.Resolve(tok.ID, 42, "s")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.State != domain.PCNFailed {
		t.Fatalf("expected pcn_failed on unit mismatch, got %s", resolved.State)
	}
	if resolved.Value != nil {
		t.Fatal("failed pcn must not carry a value")
	}
}

// Weights flow through from the policy overlay to the retriever call.
type weightsCapturingRetriever struct{ got *retriever.Weights }

func (r weightsCapturingRetriever) Fetch(ctx context.Context, question, workspace string, memoryBudget int, weights retriever.Weights, filters retriever.Filters) domain.Pack {
	*r.got = weights
	return domain.Pack{Items: []domain.EvidenceItem{{ItemID: "e1", Text: "X is Y."}}}
}

func TestRetrieverReceivesConfiguredWeights(t *testing.T) {
	var got retriever.Weights
	aud := &recordingAudit{}
	o := New(Config{
		Retriever:   weightsCapturingRetriever{got: &got},
		Composer:    fakeComposer{},
		Estimator:   scriptedEstimator{s1: []float64{0.9}},
		Verifier:    scriptedVerifier{s2: []float64{0.9}},
		Decision:    decision.New(decision.DefaultWeights()),
		Calibration: fakeCalibration{},
		Dispatcher:  tools.NewDispatcher(basePolicy(), nil),
		Audit:       aud,
		Weights:     retriever.Weights{Sparse: 0.2, Dense: 0.7, Entity: 0.1},
	})

	req := domain.Request{Question: "What is X?", Domain: "default", Workspace: "ws"}
	collectEvents(t, o.Run(context.Background(), req, basePolicy()))

	if got.Sparse != 0.2 || got.Dense != 0.7 || got.Entity != 0.1 {
		t.Fatalf("weights not forwarded: %+v", got)
	}
}
