package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cortexhq/cortex/internal/approval"
	"github.com/cortexhq/cortex/internal/composer"
	"github.com/cortexhq/cortex/internal/decision"
	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/events"
	"github.com/cortexhq/cortex/internal/retriever"
	"github.com/cortexhq/cortex/internal/tools"
	"github.com/cortexhq/cortex/internal/verifier"
)

// fakeRetriever always returns a single-item pack.
type fakeRetriever struct{}

func (fakeRetriever) Fetch(ctx context.Context, question, workspace string, memoryBudget int, weights retriever.Weights, filters retriever.Filters) domain.Pack {
	return domain.Pack{Items: []domain.EvidenceItem{{ItemID: "e1", Text: "X is Y.", Score: 0.9}}}
}

// fakeComposer returns the same fixed draft on every step; the estimator
// and verifier fakes decide whether a step is borderline or accept-worthy.
type fakeComposer struct{}

func (fakeComposer) Compose(ctx context.Context, question string, pack domain.Pack, stepIndex int, refinement *composer.RefinementContext) (domain.Draft, composer.FragmentSeq, error) {
	text := "X is Y."
	return domain.Draft{StepIndex: stepIndex, Text: text}, func(yield func(string) bool) { yield(text) }, nil
}

// fakeEstimator returns borderline confidence on step 0, high confidence on
// any later step (so the loop needs exactly one refinement to accept).
type fakeEstimator struct{}

func (fakeEstimator) Estimate(ctx context.Context, stepIndex int, draftText string, table domain.ThresholdTable) domain.UQ {
	if stepIndex == 0 {
		return domain.UQ{StepIndex: stepIndex, S1: 0.6}
	}
	return domain.UQ{StepIndex: stepIndex, S1: 0.9}
}

// fakeVerifier reports a missing_evidence issue (fixable) on step 0 only.
type fakeVerifier struct{}

func (fakeVerifier) Verify(ctx context.Context, in verifier.Input) domain.VerifierResult {
	if in.StepIndex == 0 {
		return domain.VerifierResult{StepIndex: in.StepIndex, S2: 0.6, Issues: []domain.Issue{{Kind: domain.IssueMissingEvidence}}}
	}
	return domain.VerifierResult{StepIndex: in.StepIndex, S2: 0.9}
}

// fakeCalibration reports no table for the domain (static threshold path).
type fakeCalibration struct{}

func (fakeCalibration) Threshold(ctx context.Context, domainName string) (domain.ThresholdTable, error) {
	return domain.ThresholdTable{Domain: domainName}, nil
}

// recordingAudit captures every persisted StepRecord for assertions.
type recordingAudit struct {
	mu   sync.Mutex
	recs []domain.StepRecord
}

func (a *recordingAudit) Save(ctx context.Context, rec domain.StepRecord) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return int64(len(a.recs)), nil
}

func TestRunSuspendsOnApprovalThenResumesAfterApprove(t *testing.T) {
	store := approval.New(time.Minute)

	dispatcher := tools.NewDispatcher(domain.Policy{
		ToolsAllowed:           []domain.ToolName{domain.ToolWebSearch},
		ToolsRequiringApproval: []domain.ToolName{domain.ToolWebSearch},
	}, store, stubWebSearch{})

	one := 1
	zero := 0
	req := domain.Request{
		Question:  "What is X?",
		Domain:    "default",
		Workspace: "ws",
		Overrides: domain.RequestOverrides{MaxRefinements: &one, MemoryBudget: &zero},
	}
	policy := domain.Policy{
		AcceptThreshold:         0.7,
		BorderlineDelta:         0.1,
		ToolBudgetPerTurn:       4,
		ToolBudgetPerRefinement: 2,
		ToolsAllowed:            []domain.ToolName{domain.ToolWebSearch},
		ToolsRequiringApproval:  []domain.ToolName{domain.ToolWebSearch},
	}

	o := New(Config{
		Retriever:   fakeRetriever{},
		Composer:    fakeComposer{},
		Estimator:   fakeEstimator{},
		Verifier:    fakeVerifier{},
		Decision:    decision.New(decision.DefaultWeights()),
		Calibration: fakeCalibration{},
		Dispatcher:  dispatcher,
		Audit:       &recordingAudit{},
		Weights:     retriever.Weights{Sparse: 1},
	})

	bus := o.Run(context.Background(), req, policy)

	var approvalID int64
	var sawWaiting, sawStart, sawStop, sawFinal bool

	timeout := time.After(5 * time.Second)
	for !sawFinal {
		select {
		case ev, ok := <-bus.Events():
			if !ok {
				t.Fatal("bus closed before a final event arrived")
			}
			switch ev.Name {
			case events.NameTool:
				switch ev.Tool.Status {
				case domain.ToolStatusWaitingApproval:
					sawWaiting = true
					if ev.Tool.ID == nil {
						t.Fatal("waiting_approval event missing approval id")
					}
					approvalID = *ev.Tool.ID
					if _, err := store.Resolve(approvalID, true, "looks fine"); err != nil {
						t.Fatalf("resolving approval: %v", err)
					}
				case domain.ToolStatusStart:
					if !sawWaiting {
						t.Fatal("saw tool start before waiting_approval: approval gating was bypassed")
					}
					sawStart = true
				case domain.ToolStatusStop:
					sawStop = true
				}
			case events.NameFinal:
				sawFinal = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for the request to reach a terminal event")
		}
	}

	if !sawWaiting {
		t.Fatal("expected a waiting_approval tool event")
	}
	if !sawStart || !sawStop {
		t.Fatalf("expected the tool to actually run after approval: start=%v stop=%v", sawStart, sawStop)
	}
}

// stubWebSearch is a minimal WEB_SEARCH tool that always succeeds, used to
// exercise the approval-gated dispatch path without a real backend.
type stubWebSearch struct{}

func (stubWebSearch) Name() domain.ToolName { return domain.ToolWebSearch }
func (stubWebSearch) Execute(ctx context.Context, args map[string]any) domain.ToolOutcome {
	return tools.Ok([]map[string]string{{"title": "t", "url": "https://example.com", "snippet": "s"}}, nil)
}
