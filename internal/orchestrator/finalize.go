package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cortexhq/cortex/internal/decision"
	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/events"
)

// resolvePlaceholders substitutes every {{pcn:<id>}} marker in text with its
// arena-resolved value, or the literal unresolved sentinel when the PCN
// never reached a verified state. A final event must not carry a raw
// placeholder.
func resolvePlaceholders(text string, arena *decision.Arena) string {
	out := text
	for _, token := range arena.All() {
		marker := "{{pcn:" + token.PlaceholderKey + "}}"
		if !strings.Contains(out, marker) {
			continue
		}
		if token.State == domain.PCNVerified && token.Value != nil {
			out = strings.ReplaceAll(out, marker, formatValue(*token.Value, token.Unit))
		} else {
			out = strings.ReplaceAll(out, marker, domain.UnresolvedPlaceholder)
		}
	}
	// A placeholder with no matching PCN at all (tool never ran) must not
	// leak either; sentinel-fill it.
	for strings.Contains(out, "{{pcn:") {
		start := strings.Index(out, "{{pcn:")
		end := strings.Index(out[start:], "}}")
		if end < 0 {
			break
		}
		out = out[:start] + domain.UnresolvedPlaceholder + out[start+end+2:]
	}
	return out
}

func formatValue(v float64, unit string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if unit != "" {
		return s + unit
	}
	return s
}

// finalize builds and publishes the terminal `final` event for an
// accept/abstain decision and persists its StepRecord.
func (o *Orchestrator) finalize(ctx context.Context, req domain.Request, bus *events.Bus, dec domain.Decision, ver domain.VerifierResult, draft domain.Draft, pack domain.Pack, arena *decision.Arena, trace []events.TracePayload, toolsUsed []string, stepIndex int, start time.Time, promptTokens, completionTokens, toolInvocations int) {
	answer := resolvePlaceholders(draft.Text, arena)

	status := domain.StepStatusOK
	o.persistStepAnswer(ctx, req, draft, answer, dec, ver, pack, toolsUsed, stepIndex, status)

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RequestLatency.Observe(time.Since(start).Seconds())
	}

	bus.Publish(events.Final(req.RequestID, events.FinalPayload{
		RequestID:  req.RequestID,
		Answer:     answer,
		Action:     dec.Action,
		S1:         dec.S1,
		S2:         dec.S2,
		FinalScore: dec.S,
		CPAccept:   dec.CPAccept,
		CPTau:      dec.CPTau,
		Issues:     ver.Issues,
		ToolsUsed:  dedupStrings(toolsUsed),
		PackIDs:    pack.IDs(),
		Trace:      trace,
		LatencyMs:  time.Since(start).Milliseconds(),
		Usage: events.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			ToolInvocations:  toolInvocations,
		},
	}))
}

// finalizeAbstain forces an abstain with the given reason (e.g.
// latency_budget) when the request's wall-clock soft budget is exceeded
// mid-iteration.
func (o *Orchestrator) finalizeAbstain(ctx context.Context, req domain.Request, bus *events.Bus, pack domain.Pack, draft *domain.Draft, stepIndex int, trace []events.TracePayload, toolsUsed []string, reason string, start time.Time, promptTokens, completionTokens, toolInvocations int) {
	text := ""
	if draft != nil {
		text = draft.Text
	}
	dec := domain.Decision{StepIndex: stepIndex, Action: domain.ActionAbstain, Reason: reason}

	if draft != nil {
		o.persistStepAnswer(ctx, req, *draft, text, dec, domain.VerifierResult{StepIndex: stepIndex}, pack, toolsUsed, stepIndex, domain.StepStatusOK)
	}

	bus.Publish(events.Final(req.RequestID, events.FinalPayload{
		RequestID:  req.RequestID,
		Answer:     text,
		Action:     domain.ActionAbstain,
		Issues:     []domain.Issue{{Kind: domain.IssueKind(reason), Detail: "request exceeded its wall-clock soft budget"}},
		ToolsUsed:  dedupStrings(toolsUsed),
		PackIDs:    pack.IDs(),
		Trace:      trace,
		LatencyMs:  time.Since(start).Milliseconds(),
		Usage:      events.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens, ToolInvocations: toolInvocations},
	}))
}

// persistIncomplete records a partial StepRecord with status=incomplete
// when the client disconnects mid-request.
func (o *Orchestrator) persistIncomplete(ctx context.Context, req domain.Request, stepIndex int, pack domain.Pack) {
	rec := domain.StepRecord{
		RequestID:        req.RequestID,
		StepIndex:        stepIndex,
		Workspace:        req.Workspace,
		Domain:           req.Domain,
		IsRefinement:     stepIndex > 0,
		RedactedQuestion: req.Question,
		PackIDs:          pack.IDs(),
		Status:           domain.StepStatusIncomplete,
	}
	if _, err := o.cfg.Audit.Save(context.WithoutCancel(ctx), rec); err != nil {
		// Audit persistence failing must not crash the orchestrator; the
		// request is already terminating due to client disconnect.
		_ = err
	}
}

func (o *Orchestrator) persistStep(ctx context.Context, req domain.Request, draft domain.Draft, dec domain.Decision, ver domain.VerifierResult, pack domain.Pack, toolsUsed []string, stepIndex int, status domain.StepStatus) {
	o.persistStepAnswer(ctx, req, draft, draft.Text, dec, ver, pack, toolsUsed, stepIndex, status)
}

func (o *Orchestrator) persistStepAnswer(ctx context.Context, req domain.Request, draft domain.Draft, answer string, dec domain.Decision, ver domain.VerifierResult, pack domain.Pack, toolsUsed []string, stepIndex int, status domain.StepStatus) {
	rec := domain.StepRecord{
		RequestID:        req.RequestID,
		StepIndex:        stepIndex,
		Workspace:        req.Workspace,
		Domain:           req.Domain,
		IsRefinement:     stepIndex > 0,
		RedactedQuestion: req.Question,
		RedactedAnswer:   answer,
		S1:               dec.S1,
		S2:               dec.S2,
		S:                dec.S,
		CPAccept:         dec.CPAccept,
		Action:           dec.Action,
		ToolsUsed:        dedupStrings(toolsUsed),
		PackIDs:          pack.IDs(),
		Issues:           ver.Issues,
		Status:           status,
	}
	if _, err := o.cfg.Audit.Save(ctx, rec); err != nil {
		_ = err // non-fatal: audit persistence failure does not abort the request
	}
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
