// Package verifier implements the structured verifier: a rule-engine
// fallback (citation coverage, numeric-placeholder resolution, GoV edge
// verification) with an optional model-backed supplement.
package verifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/cortexhq/cortex/common/llm"
	"github.com/cortexhq/cortex/internal/domain"
)

// Input bundles everything the verifier needs about one step: the draft, the
// evidence it was grounded in, the PCNs minted so far, and the GoV edges
// accumulated in the request's arena.
type Input struct {
	StepIndex          int
	DraftText          string
	Pack               domain.Pack
	PCNs               []domain.PCNToken
	GoVEdges           []domain.GoVEdge
	InjectionSuspected bool
}

// Env is the expr-lang evaluation environment for rule conditions — kept
// small and numeric/boolean so rules stay declarative instead of growing
// into ad-hoc Go branches.
type Env struct {
	HasCitation        bool
	UnresolvedPCNCount int
	FailedPCNCount     int
	FailingGoVCount    int
	InjectionSuspected bool
	PackEmpty          bool
}

type rule struct {
	kind      domain.IssueKind
	condition string
	detail    string
	program   *vm.Program
}

// Verifier evaluates the fixed rule set plus, when configured, a
// model-backed supplement that can surface additional issues (e.g.
// unsupported_claim) the rules can't detect structurally.
type Verifier struct {
	model llm.Client // optional; nil = rules only
	rules []rule
}

// New compiles the default rule set. A nil model keeps the verifier fully
// deterministic and network-free.
func New(model llm.Client) (*Verifier, error) {
	defs := []struct {
		kind      domain.IssueKind
		condition string
		detail    string
	}{
		{domain.IssueMissingCitations, `!HasCitation && !PackEmpty`, "draft does not cite any retrieved evidence item"},
		{domain.IssueMissingEvidence, `PackEmpty`, "no evidence was retrieved for this question"},
		{domain.IssueNumericUnverified, `UnresolvedPCNCount > 0`, "one or more numeric placeholders are unresolved"},
		{domain.IssueGovernance, `FailingGoVCount > 0`, "one or more verification-graph edges are failing"},
		{domain.IssueInjectionSuspected, `InjectionSuspected`, "fetched content appears to embed an instruction to the model"},
	}

	v := &Verifier{model: model}
	for _, d := range defs {
		program, err := expr.Compile(d.condition, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compiling verifier rule %q: %w", d.kind, err)
		}
		v.rules = append(v.rules, rule{kind: d.kind, condition: d.condition, detail: d.detail, program: program})
	}
	return v, nil
}

// Verify runs the rule set (plus the model supplement, when configured)
// over one step.
func (v *Verifier) Verify(ctx context.Context, in Input) domain.VerifierResult {
	env := Env{
		HasCitation:        hasCitation(in.DraftText, in.Pack),
		PackEmpty:          len(in.Pack.Items) == 0,
		InjectionSuspected: in.InjectionSuspected,
	}
	for _, p := range in.PCNs {
		switch p.State {
		case domain.PCNPending:
			env.UnresolvedPCNCount++
		case domain.PCNFailed:
			env.FailedPCNCount++
		}
	}
	for _, g := range in.GoVEdges {
		if g.CheckOutcome == domain.GoVOutcomeFailed {
			env.FailingGoVCount++
		}
	}
	// Failed placeholders are just as unready for finalize as pending ones;
	// a step whose placeholders all failed still needs the issue raised.
	env.UnresolvedPCNCount += env.FailedPCNCount

	var issues []domain.Issue
	for _, r := range v.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			issues = append(issues, domain.Issue{Kind: r.kind, Detail: r.detail})
		}
	}

	degenerate := false
	if v.model != nil {
		var modelIssues []domain.Issue
		modelIssues, degenerate = v.modelSupplement(ctx, in)
		issues = append(issues, modelIssues...)
		if degenerate {
			issues = append(issues, domain.Issue{Kind: domain.IssueVerifierDegenerate, Detail: "model verifier returned malformed output twice"})
		}
	}

	s2 := scoreFromIssues(issues)
	needsFix := s2 < 0.8 || anyFixable(issues) || degenerate

	return domain.VerifierResult{
		StepIndex: in.StepIndex,
		S2:        s2,
		Issues:    issues,
		NeedsFix:  needsFix,
	}
}

func hasCitation(draftText string, pack domain.Pack) bool {
	if len(pack.Items) == 0 {
		return true // nothing to cite
	}
	for _, item := range pack.Items {
		if item.ItemID != "" && strings.Contains(draftText, item.ItemID) {
			return true
		}
		if item.URL != nil && *item.URL != "" && strings.Contains(draftText, *item.URL) {
			return true
		}
	}
	return false
}

func anyFixable(issues []domain.Issue) bool {
	for _, i := range issues {
		if i.Fixable() {
			return true
		}
	}
	return false
}

// scoreFromIssues turns the issue list into s2∈[0,1], starting from a clean
// score and applying a fixed penalty per kind, clamped at zero.
func scoreFromIssues(issues []domain.Issue) float64 {
	penalties := map[domain.IssueKind]float64{
		domain.IssueMissingCitations:   0.3,
		domain.IssueMissingEvidence:    0.35,
		domain.IssueNumericUnverified:  0.25,
		domain.IssueGovernance:         0.3,
		domain.IssueUnsupportedClaim:   0.2,
		domain.IssueInjectionSuspected: 0.4,
		domain.IssueUnitMismatch:       0.2,
		domain.IssueSQLViolation:       0.5,
		domain.IssueVerifierDegenerate: 0.2,
	}
	s2 := 1.0
	for _, i := range issues {
		if p, ok := penalties[i.Kind]; ok {
			s2 -= p
		}
	}
	if s2 < 0 {
		s2 = 0
	}
	return s2
}

// modelSupplementSchema is the structured-output shape the model-backed
// supplement must return.
type modelSupplementSchema struct {
	Issues []struct {
		Kind   string `json:"kind"`
		Detail string `json:"detail"`
	} `json:"issues"`
}

// modelSupplement asks the model to classify issues the rules can't
// detect structurally (primarily unsupported_claim). A malformed response
// is retried once; a second malformed response degrades to needs_fix=true
// with issue verifier_degenerate rather than failing the step.
func (v *Verifier) modelSupplement(ctx context.Context, in Input) ([]domain.Issue, bool) {
	var result modelSupplementSchema
	attempt := func() error {
		_, err := v.model.Chat(ctx, llm.Request{
			SystemPrompt: "You check a draft answer for unsupported claims not backed by the provided evidence. Reply only with the requested JSON.",
			UserPrompt:   supplementPrompt(in),
			SchemaName:   "verifier_issues",
			Schema:       llm.GenerateSchema[modelSupplementSchema](),
			MaxTokens:    512,
			Temperature:  llm.Temp(0),
		}, &result)
		return err
	}

	if err := attempt(); err != nil {
		if err := attempt(); err != nil {
			return nil, true
		}
	}

	issues := make([]domain.Issue, 0, len(result.Issues))
	for _, iss := range result.Issues {
		kind := domain.IssueKind(iss.Kind)
		if kind == "" {
			continue
		}
		issues = append(issues, domain.Issue{Kind: kind, Detail: iss.Detail})
	}
	return issues, false
}

func supplementPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Draft:\n")
	b.WriteString(in.DraftText)
	b.WriteString("\n\nEvidence:\n")
	for _, it := range in.Pack.Items {
		fmt.Fprintf(&b, "- [%s] %s\n", it.ItemID, it.Text)
	}
	return b.String()
}
