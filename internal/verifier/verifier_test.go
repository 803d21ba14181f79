package verifier

import (
	"context"
	"testing"

	"github.com/cortexhq/cortex/internal/domain"
)

func newRulesOnly(t *testing.T) *Verifier {
	t.Helper()
	v, err := New(nil)
	if err != nil {
		t.Fatalf("constructing verifier: %v", err)
	}
	return v
}

func hasIssue(issues []domain.Issue, kind domain.IssueKind) bool {
	for _, i := range issues {
		if i.Kind == kind {
			return true
		}
	}
	return false
}

func TestVerifyFlagsEmptyPackAsMissingEvidence(t *testing.T) {
	v := newRulesOnly(t)
	res := v.Verify(context.Background(), Input{DraftText: "some answer"})
	if !hasIssue(res.Issues, domain.IssueMissingEvidence) {
		t.Fatalf("expected missing_evidence, got %v", res.Issues)
	}
	if res.S2 >= 1 {
		t.Fatalf("expected a penalty on s2, got %f", res.S2)
	}
	if !res.NeedsFix {
		t.Fatal("missing evidence is fixable, needs_fix should be set")
	}
}

func TestVerifyFlagsUncitedDraft(t *testing.T) {
	v := newRulesOnly(t)
	pack := domain.Pack{Items: []domain.EvidenceItem{{ItemID: "corpus:1", Text: "X is Y."}}}

	res := v.Verify(context.Background(), Input{DraftText: "an answer citing nothing", Pack: pack})
	if !hasIssue(res.Issues, domain.IssueMissingCitations) {
		t.Fatalf("expected missing_citations, got %v", res.Issues)
	}

	cited := v.Verify(context.Background(), Input{DraftText: "per corpus:1, X is Y.", Pack: pack})
	if hasIssue(cited.Issues, domain.IssueMissingCitations) {
		t.Fatalf("citing by item id should satisfy coverage, got %v", cited.Issues)
	}
}

func TestVerifyFlagsUnresolvedPCNs(t *testing.T) {
	v := newRulesOnly(t)
	pack := domain.Pack{Items: []domain.EvidenceItem{{ItemID: "e1", Text: "X"}}}

	res := v.Verify(context.Background(), Input{
		DraftText: "per e1, the total is {{pcn:total}}",
		Pack:      pack,
		PCNs:      []domain.PCNToken{{ID: "p1", State: domain.PCNPending}},
	})
	if !hasIssue(res.Issues, domain.IssueNumericUnverified) {
		t.Fatalf("expected numeric_unverified, got %v", res.Issues)
	}
}

func TestVerifyFlagsFailedOnlyPCNs(t *testing.T) {
	v := newRulesOnly(t)
	pack := domain.Pack{Items: []domain.EvidenceItem{{ItemID: "e1", Text: "X"}}}

	res := v.Verify(context.Background(), Input{
		DraftText: "per e1, the latency is {{pcn:latency}}",
		Pack:      pack,
		PCNs:      []domain.PCNToken{{ID: "p1", State: domain.PCNFailed}},
	})
	if !hasIssue(res.Issues, domain.IssueNumericUnverified) {
		t.Fatalf("a step whose placeholders all failed must still raise numeric_unverified, got %v", res.Issues)
	}
}

func TestVerifyFlagsFailingGoVEdges(t *testing.T) {
	v := newRulesOnly(t)
	pack := domain.Pack{Items: []domain.EvidenceItem{{ItemID: "e1", Text: "X"}}}

	res := v.Verify(context.Background(), Input{
		DraftText: "per e1, claim holds",
		Pack:      pack,
		GoVEdges:  []domain.GoVEdge{{From: "premise", To: "claim", CheckOutcome: domain.GoVOutcomeFailed}},
	})
	if !hasIssue(res.Issues, domain.IssueGovernance) {
		t.Fatalf("expected governance issue, got %v", res.Issues)
	}
}

func TestVerifyFlagsSuspectedInjection(t *testing.T) {
	v := newRulesOnly(t)
	pack := domain.Pack{Items: []domain.EvidenceItem{{ItemID: "e1", Text: "X"}}}

	res := v.Verify(context.Background(), Input{DraftText: "per e1, ok", Pack: pack, InjectionSuspected: true})
	if !hasIssue(res.Issues, domain.IssueInjectionSuspected) {
		t.Fatalf("expected injection_suspected, got %v", res.Issues)
	}
}

func TestVerifyCleanDraftScoresHigh(t *testing.T) {
	v := newRulesOnly(t)
	pack := domain.Pack{Items: []domain.EvidenceItem{{ItemID: "e1", Text: "X is Y."}}}

	res := v.Verify(context.Background(), Input{DraftText: "per e1, X is Y.", Pack: pack})
	if len(res.Issues) != 0 {
		t.Fatalf("expected no issues, got %v", res.Issues)
	}
	if res.S2 != 1 {
		t.Fatalf("expected s2=1 for a clean draft, got %f", res.S2)
	}
	if res.NeedsFix {
		t.Fatal("clean draft should not need a fix")
	}
}

func TestScoreFromIssuesClampsAtZero(t *testing.T) {
	s2 := scoreFromIssues([]domain.Issue{
		{Kind: domain.IssueMissingEvidence},
		{Kind: domain.IssueSQLViolation},
		{Kind: domain.IssueInjectionSuspected},
	})
	if s2 != 0 {
		t.Fatalf("expected clamped 0, got %f", s2)
	}
}
