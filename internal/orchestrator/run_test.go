package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cortexhq/cortex/internal/approval"
	"github.com/cortexhq/cortex/internal/composer"
	"github.com/cortexhq/cortex/internal/decision"
	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/events"
	"github.com/cortexhq/cortex/internal/retriever"
	"github.com/cortexhq/cortex/internal/tools"
	"github.com/cortexhq/cortex/internal/tools/matheval"
	"github.com/cortexhq/cortex/internal/verifier"
)

// scriptedEstimator returns a per-step s1, repeating the last entry once the
// script runs out.
type scriptedEstimator struct{ s1 []float64 }

func (e scriptedEstimator) Estimate(ctx context.Context, stepIndex int, draftText string, table domain.ThresholdTable) domain.UQ {
	i := stepIndex
	if i >= len(e.s1) {
		i = len(e.s1) - 1
	}
	return domain.UQ{StepIndex: stepIndex, S1: e.s1[i]}
}

// scriptedVerifier returns a per-step s2 and issue list.
type scriptedVerifier struct {
	s2     []float64
	issues [][]domain.Issue
}

func (v scriptedVerifier) Verify(ctx context.Context, in verifier.Input) domain.VerifierResult {
	i := in.StepIndex
	if i >= len(v.s2) {
		i = len(v.s2) - 1
	}
	var issues []domain.Issue
	if i < len(v.issues) {
		issues = v.issues[i]
	}
	return domain.VerifierResult{StepIndex: in.StepIndex, S2: v.s2[i], Issues: issues}
}

// emptyRetriever simulates a workspace with no corpus at all.
type emptyRetriever struct{}

func (emptyRetriever) Fetch(ctx context.Context, question, workspace string, memoryBudget int, weights retriever.Weights, filters retriever.Filters) domain.Pack {
	return domain.Pack{}
}

func collectEvents(t *testing.T, bus *events.Bus) []events.Event {
	t.Helper()
	var out []events.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-bus.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining the event bus")
		}
	}
}

func basePolicy() domain.Policy {
	p := domain.DefaultPolicy("ws")
	return p
}

func newTestOrchestrator(est Estimator, ver Verifier, dispatcher Dispatcher, ret Retriever) (*Orchestrator, *recordingAudit) {
	aud := &recordingAudit{}
	o := New(Config{
		Retriever:   ret,
		Composer:    fakeComposer{},
		Estimator:   est,
		Verifier:    ver,
		Decision:    decision.New(decision.DefaultWeights()),
		Calibration: fakeCalibration{},
		Dispatcher:  dispatcher,
		Audit:       aud,
		Weights:     retriever.Weights{Sparse: 1},
	})
	return o, aud
}

// Happy-path accept: high confidence on the first step, no refinement
// budget needed, answer carried through to the final event.
func TestHappyPathAccept(t *testing.T) {
	zero := 0
	o, aud := newTestOrchestrator(
		scriptedEstimator{s1: []float64{0.9}},
		scriptedVerifier{s2: []float64{0.9}},
		tools.NewDispatcher(basePolicy(), approval.New(time.Minute)),
		fakeRetriever{},
	)

	req := domain.Request{Question: "What is X?", Domain: "default", Workspace: "ws",
		Overrides: domain.RequestOverrides{MaxRefinements: &zero}}
	evs := collectEvents(t, o.Run(context.Background(), req, basePolicy()))

	if evs[0].Name != events.NameReady {
		t.Fatalf("first event must be ready, got %s", evs[0].Name)
	}
	var tokens, scores, traces, finals int
	var final *events.FinalPayload
	for _, ev := range evs {
		switch ev.Name {
		case events.NameToken:
			tokens++
		case events.NameScore:
			scores++
			if ev.Score.S1 != 0.9 || ev.Score.S2 != 0.9 || ev.Score.FinalScore != 0.9 {
				t.Fatalf("unexpected score payload: %+v", ev.Score)
			}
		case events.NameTrace:
			traces++
			if ev.Trace.Step != 0 || ev.Trace.IsRefinement {
				t.Fatalf("unexpected trace payload: %+v", ev.Trace)
			}
		case events.NameFinal:
			finals++
			final = ev.Final
		}
	}
	if tokens == 0 {
		t.Fatal("expected at least one token event")
	}
	if scores != 1 || traces != 1 || finals != 1 {
		t.Fatalf("expected 1 score/1 trace/1 final, got %d/%d/%d", scores, traces, finals)
	}
	if final.Action != domain.ActionAccept {
		t.Fatalf("expected accept, got %s", final.Action)
	}
	if !strings.Contains(final.Answer, "X is Y") {
		t.Fatalf("expected answer to carry the evidence snippet, got %q", final.Answer)
	}
	if len(final.PackIDs) != 1 || final.PackIDs[0] != "e1" {
		t.Fatalf("expected pack id e1 recorded, got %v", final.PackIDs)
	}
	if len(aud.recs) != 1 || aud.recs[0].Action != domain.ActionAccept {
		t.Fatalf("expected exactly one accepted StepRecord, got %+v", aud.recs)
	}
}

// Disallowed tool: the refiner proposes WEB_SEARCH for missing evidence but
// the workspace only allows MATH_EVAL, so the call is blocked without
// charging budget and never appears in tools_used.
func TestDisallowedToolIsBlocked(t *testing.T) {
	policy := basePolicy()
	policy.ToolsAllowed = []domain.ToolName{domain.ToolMathEval}

	o, _ := newTestOrchestrator(
		scriptedEstimator{s1: []float64{0.65, 0.9}},
		scriptedVerifier{
			s2:     []float64{0.65, 0.9},
			issues: [][]domain.Issue{{{Kind: domain.IssueMissingEvidence}}},
		},
		tools.NewDispatcher(policy, approval.New(time.Minute)),
		fakeRetriever{},
	)

	req := domain.Request{Question: "What is X?", Domain: "default", Workspace: "ws"}
	evs := collectEvents(t, o.Run(context.Background(), req, policy))

	sawBlocked := false
	var final *events.FinalPayload
	for _, ev := range evs {
		if ev.Name == events.NameTool && ev.Tool.Name == string(domain.ToolWebSearch) && ev.Tool.Status == domain.ToolStatusBlocked {
			sawBlocked = true
		}
		if ev.Name == events.NameFinal {
			final = ev.Final
		}
	}
	if !sawBlocked {
		t.Fatal("expected a blocked tool event for WEB_SEARCH")
	}
	if final == nil {
		t.Fatal("expected a final event")
	}
	for _, used := range final.ToolsUsed {
		if used == string(domain.ToolWebSearch) {
			t.Fatal("blocked tool must not appear in tools_used")
		}
	}
}

// Approval denied: the gated tool is skipped, the request continues, and the
// approval_denied issue surfaces in the final payload.
func TestApprovalDeniedSkipsToolAndSurfacesIssue(t *testing.T) {
	policy := basePolicy()
	policy.ToolsRequiringApproval = []domain.ToolName{domain.ToolWebSearch}

	store := approval.New(time.Minute)
	o, _ := newTestOrchestrator(
		scriptedEstimator{s1: []float64{0.65, 0.9}},
		scriptedVerifier{
			s2:     []float64{0.65, 0.9},
			issues: [][]domain.Issue{{{Kind: domain.IssueMissingEvidence}}},
		},
		tools.NewDispatcher(policy, store, stubWebSearch{}),
		fakeRetriever{},
	)

	req := domain.Request{Question: "What is X?", Domain: "default", Workspace: "ws"}
	bus := o.Run(context.Background(), req, policy)

	var final *events.FinalPayload
	sawWaiting := false
	timeout := time.After(5 * time.Second)
	for final == nil {
		select {
		case ev, ok := <-bus.Events():
			if !ok {
				t.Fatal("bus closed before a final event")
			}
			switch ev.Name {
			case events.NameTool:
				if ev.Tool.Status == domain.ToolStatusWaitingApproval {
					sawWaiting = true
					if _, err := store.Resolve(*ev.Tool.ID, false, "not today"); err != nil {
						t.Fatalf("denying approval: %v", err)
					}
				}
				if ev.Tool.Status == domain.ToolStatusStart || ev.Tool.Status == domain.ToolStatusStop {
					t.Fatal("denied tool must never run")
				}
			case events.NameFinal:
				final = ev.Final
			}
		case <-timeout:
			t.Fatal("timed out waiting for final")
		}
	}

	if !sawWaiting {
		t.Fatal("expected a waiting_approval event")
	}
	found := false
	for _, iss := range final.Issues {
		if iss.Kind == domain.IssueApprovalDenied {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected approval_denied in final issues, got %+v", final.Issues)
	}
	for _, used := range final.ToolsUsed {
		if used == string(domain.ToolWebSearch) {
			t.Fatal("denied tool must not appear in tools_used")
		}
	}
}

// max_refinements=0 boundary: a borderline score with a fixable issue still
// cannot iterate, so the decision is abstain after exactly one step.
func TestZeroRefinementsNeverIterates(t *testing.T) {
	zero := 0
	o, _ := newTestOrchestrator(
		scriptedEstimator{s1: []float64{0.65}},
		scriptedVerifier{
			s2:     []float64{0.65},
			issues: [][]domain.Issue{{{Kind: domain.IssueMissingEvidence}}},
		},
		tools.NewDispatcher(basePolicy(), approval.New(time.Minute)),
		fakeRetriever{},
	)

	req := domain.Request{Question: "What is X?", Domain: "default", Workspace: "ws",
		Overrides: domain.RequestOverrides{MaxRefinements: &zero}}
	evs := collectEvents(t, o.Run(context.Background(), req, basePolicy()))

	scores := 0
	var final *events.FinalPayload
	for _, ev := range evs {
		if ev.Name == events.NameScore {
			scores++
		}
		if ev.Name == events.NameFinal {
			final = ev.Final
		}
	}
	if scores != 1 {
		t.Fatalf("expected exactly one score event with zero refinements, got %d", scores)
	}
	if final == nil || final.Action != domain.ActionAbstain {
		t.Fatalf("expected abstain, got %+v", final)
	}
}

// Empty pack boundary: the request proceeds to a decision with a
// missing_evidence issue and abstains rather than failing.
func TestEmptyPackAbstainsWithMissingEvidence(t *testing.T) {
	o, _ := newTestOrchestrator(
		scriptedEstimator{s1: []float64{0.2}},
		scriptedVerifier{
			s2:     []float64{0.3},
			issues: [][]domain.Issue{{{Kind: domain.IssueMissingEvidence}}},
		},
		tools.NewDispatcher(basePolicy(), approval.New(time.Minute)),
		emptyRetriever{},
	)

	req := domain.Request{Question: "What is X?", Domain: "default", Workspace: "ws"}
	evs := collectEvents(t, o.Run(context.Background(), req, basePolicy()))

	var final *events.FinalPayload
	terminals := 0
	for _, ev := range evs {
		if ev.Terminal() {
			terminals++
		}
		if ev.Name == events.NameFinal {
			final = ev.Final
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
	if final == nil || final.Action != domain.ActionAbstain {
		t.Fatalf("expected abstain on empty evidence, got %+v", final)
	}
	if len(final.PackIDs) != 0 {
		t.Fatalf("expected no pack ids, got %v", final.PackIDs)
	}
	found := false
	for _, iss := range final.Issues {
		if iss.Kind == domain.IssueMissingEvidence {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing_evidence issue, got %+v", final.Issues)
	}
}

// pcnComposer emits a draft carrying a numeric placeholder whose key is an
// arithmetic expression, the same shape the model-backed composer produces.
type pcnComposer struct{}

func (pcnComposer) Compose(ctx context.Context, question string, pack domain.Pack, stepIndex int, refinement *composer.RefinementContext) (domain.Draft, composer.FragmentSeq, error) {
	text := "The total is {{pcn:40+2}} requests."
	draft := domain.Draft{StepIndex: stepIndex, Text: text, Placeholders: []string{"40+2"}}
	return draft, func(yield func(string) bool) { yield(text) }, nil
}

// Full placeholder round trip through the production key space: the
// composer embeds {{pcn:40+2}}, the refiner selects MATH_EVAL for it, the
// real evaluator computes 42, the minted PCN carries the draft's own key,
// and finalize substitutes the verified value into the answer.
func TestMathEvalVerifiedValueSubstitutedEndToEnd(t *testing.T) {
	aud := &recordingAudit{}
	o := New(Config{
		Retriever: fakeRetriever{},
		Composer:  pcnComposer{},
		Estimator: scriptedEstimator{s1: []float64{0.65, 0.9}},
		Verifier: scriptedVerifier{
			s2:     []float64{0.65, 0.9},
			issues: [][]domain.Issue{{{Kind: domain.IssueNumericUnverified}}},
		},
		Decision:    decision.New(decision.DefaultWeights()),
		Calibration: fakeCalibration{},
		Dispatcher:  tools.NewDispatcher(basePolicy(), approval.New(time.Minute), matheval.New()),
		Audit:       aud,
		Weights:     retriever.Weights{Sparse: 1},
	})

	req := domain.Request{Question: "What is the total?", Domain: "default", Workspace: "ws"}
	evs := collectEvents(t, o.Run(context.Background(), req, basePolicy()))

	var final *events.FinalPayload
	var sawPending, sawVerified bool
	for _, ev := range evs {
		if ev.Name == events.NamePCN {
			switch ev.PCN.Type {
			case domain.PCNPending:
				sawPending = true
			case domain.PCNVerified:
				sawVerified = true
				if ev.PCN.Value == nil || *ev.PCN.Value != 42 {
					t.Fatalf("expected verified pcn value 42, got %+v", ev.PCN.Value)
				}
			}
		}
		if ev.Name == events.NameFinal {
			final = ev.Final
		}
	}

	if !sawPending || !sawVerified {
		t.Fatalf("expected pcn_pending then pcn_verified events: pending=%v verified=%v", sawPending, sawVerified)
	}
	if final == nil {
		t.Fatal("expected a final event")
	}
	if !strings.Contains(final.Answer, "The total is 42 requests.") {
		t.Fatalf("expected the verified value substituted into the answer, got %q", final.Answer)
	}
	if strings.Contains(final.Answer, "{{pcn:") {
		t.Fatalf("raw placeholder survived finalize: %q", final.Answer)
	}
	if strings.Contains(final.Answer, domain.UnresolvedPlaceholder) {
		t.Fatalf("verified placeholder was sentinel-filled: %q", final.Answer)
	}
}

// Placeholder resolution: verified PCNs substitute their value, anything
// else becomes the unresolved sentinel — the raw marker never survives.
func TestResolvePlaceholdersSubstitutesOrSentinels(t *testing.T) {
	arena := decision.NewArena("req-1")

	verified := arena.Mint(0, "total", "MATH_EVAL", domain.PCNPolicy{})
	if _, err := arena.Resolve(verified.ID, 42, "ms"); err != nil {
		t.Fatalf("resolving pcn: %v", err)
	}
	arena.Mint(0, "rate", "MATH_EVAL", domain.PCNPolicy{}) // stays pending

	text := "The total is {{pcn:total}} at {{pcn:rate}} with {{pcn:orphan}} left."
	out := resolvePlaceholders(text, arena)

	if !strings.Contains(out, "42ms") {
		t.Fatalf("expected verified value substituted, got %q", out)
	}
	if strings.Contains(out, "{{pcn:") {
		t.Fatalf("raw placeholder survived: %q", out)
	}
	if strings.Count(out, domain.UnresolvedPlaceholder) != 2 {
		t.Fatalf("expected two unresolved sentinels, got %q", out)
	}
}
