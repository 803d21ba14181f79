// Package composer produces a draft answer from a question and an evidence
// Pack. With no llm.AgentClient configured it falls back to a
// deterministic grounded-extractive draft; otherwise it delegates to the
// model through the shared tool-calling client abstraction. The Composer
// itself never calls tools; the orchestrator does that between Composer
// runs.
package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cortexhq/cortex/common/llm"
	"github.com/cortexhq/cortex/internal/domain"
)

// RefinementContext carries what changed since the prior draft: the
// verifier's issues, the prior draft itself, and any tool outputs.
type RefinementContext struct {
	Issues      []domain.Issue
	PriorDraft  *domain.Draft
	ToolOutputs []ToolOutput
}

// ToolOutput is a minimal, Composer-facing view of a completed tool call —
// just enough text to ground the next draft, not the full domain.ToolCall.
type ToolOutput struct {
	ToolName string
	Summary  string
}

// Composer turns (question, Pack, refinement context) into a Draft plus a
// lazy fragment stream for token events.
type Composer struct {
	llm llm.AgentClient // nil selects the grounded-extractive fallback
}

func New(agentClient llm.AgentClient) *Composer {
	return &Composer{llm: agentClient}
}

// Compose produces the draft for one step. stepIndex is the refinement
// index this draft belongs to (0 for the initial pass).
func (c *Composer) Compose(ctx context.Context, question string, pack domain.Pack, stepIndex int, refinement *RefinementContext) (domain.Draft, FragmentSeq, error) {
	var text string
	var err error

	if c.llm == nil {
		text = extractiveDraft(question, pack, refinement)
	} else {
		text, err = c.modelDraft(ctx, question, pack, refinement)
		if err != nil {
			// Model composition failing degrades to the deterministic
			// fallback rather than aborting the request — the same
			// "never fail the request" posture as the retriever.
			text = extractiveDraft(question, pack, refinement)
		}
	}

	placeholders := extractPlaceholders(text)
	usedTools := toolNames(refinement)

	draft := domain.Draft{
		StepIndex:    stepIndex,
		Text:         text,
		Placeholders: placeholders,
		UsedTools:    usedTools,
	}
	return draft, fragmentSeqOf(text), nil
}

// extractiveDraft is the deterministic baseline: the top-ranked pack
// item's snippet, prefixed by a short template restating the question's
// focus. Testable with no model at all.
func extractiveDraft(question string, pack domain.Pack, refinement *RefinementContext) string {
	focus := questionFocus(question)
	if len(pack.Items) == 0 {
		return fmt.Sprintf("Regarding %s: no supporting evidence was found.", focus)
	}

	top := pack.Items[0]
	var b strings.Builder
	fmt.Fprintf(&b, "Regarding %s: %s", focus, strings.TrimSpace(top.Text))

	if refinement != nil {
		for _, out := range refinement.ToolOutputs {
			fmt.Fprintf(&b, " Additionally, %s reported: %s", out.ToolName, strings.TrimSpace(out.Summary))
		}
	}
	return b.String()
}

// questionFocus restates the question as a short noun-phrase-ish prefix
// ("what is X" -> "X"), falling back to the question verbatim when it
// doesn't match a recognizable interrogative shape.
func questionFocus(question string) string {
	q := strings.TrimSpace(question)
	q = strings.TrimSuffix(q, "?")
	lower := strings.ToLower(q)
	for _, prefix := range []string{"what is ", "what are ", "who is ", "how does ", "why does ", "when did ", "where is "} {
		if strings.HasPrefix(lower, prefix) {
			return q[len(prefix):]
		}
	}
	return q
}

func (c *Composer) modelDraft(ctx context.Context, question string, pack domain.Pack, refinement *RefinementContext) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: composerSystemPrompt},
		{Role: "user", Content: composerUserPrompt(question, pack, refinement)},
	}

	resp, err := c.llm.ChatWithTools(ctx, llm.AgentRequest{
		Messages:  messages,
		MaxTokens: 2048,
	})
	if err != nil {
		return "", fmt.Errorf("composer model draft: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("composer model draft: empty content")
	}
	return resp.Content, nil
}

const composerSystemPrompt = `You write a grounded answer draft from retrieved evidence.
Cite evidence inline by item id when a claim depends on it.
For any numeric fact that needs verification, emit a placeholder of the
exact form {{pcn:<short-key>}} instead of writing the number directly.
Be concise. Do not invent evidence not present in the provided pack.`

func composerUserPrompt(question string, pack domain.Pack, refinement *RefinementContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nEvidence:\n", question)
	for _, it := range pack.Items {
		fmt.Fprintf(&b, "- [%s] %s\n", it.ItemID, strings.TrimSpace(it.Text))
	}
	if refinement != nil {
		if refinement.PriorDraft != nil {
			fmt.Fprintf(&b, "\nPrior draft:\n%s\n", refinement.PriorDraft.Text)
		}
		if len(refinement.Issues) > 0 {
			b.WriteString("\nIssues to address:\n")
			for _, iss := range refinement.Issues {
				fmt.Fprintf(&b, "- %s: %s\n", iss.Kind, iss.Detail)
			}
		}
		for _, out := range refinement.ToolOutputs {
			fmt.Fprintf(&b, "\nTool %s reported: %s\n", out.ToolName, out.Summary)
		}
	}
	return b.String()
}

func toolNames(refinement *RefinementContext) []string {
	if refinement == nil {
		return nil
	}
	names := make([]string, 0, len(refinement.ToolOutputs))
	for _, out := range refinement.ToolOutputs {
		names = append(names, out.ToolName)
	}
	return names
}

// extractPlaceholders finds every {{pcn:<key>}} placeholder in text, per
// domain.Draft's Placeholders contract (placeholder keys, not values).
func extractPlaceholders(text string) []string {
	var ids []string
	rest := text
	for {
		start := strings.Index(rest, "{{pcn:")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			break
		}
		id := rest[start+len("{{pcn:") : start+end]
		ids = append(ids, id)
		rest = rest[start+end+2:]
	}
	return ids
}
