// Package worker's answer processor drains one asynchronously-queued
// question through the engine exactly the way the HTTP handler does
// (internal/http/handler/answer.go's Ask); internal/orchestrator already
// persists every step through internal/audit as it runs, so the only thing
// left for the queue consumer to do is drive the bus to completion and log
// the outcome — a later GET /steps/recent or /steps/{id} call is how the
// caller picks the result up.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/engine"
	"github.com/cortexhq/cortex/internal/events"
	"github.com/cortexhq/cortex/internal/queue"
)

type AnswerProcessor struct {
	engine *engine.Engine
}

func NewAnswerProcessor(eng *engine.Engine) *AnswerProcessor {
	return &AnswerProcessor{engine: eng}
}

// Process runs msg.Job to a terminal event. It returns an error only for
// conditions worth retrying (policy resolution failure, context
// cancellation); a terminal `error` event from the engine itself is still a
// completed job, not a processing failure.
func (p *AnswerProcessor) Process(ctx context.Context, msg queue.Message) error {
	job := msg.Job

	req := domain.Request{
		RequestID:      job.RequestID,
		Question:       job.Question,
		Domain:         job.Domain,
		Workspace:      job.Workspace,
		IdempotencyKey: job.IdempotencyKey,
		CreatedAt:      time.Now(),
		Overrides: domain.RequestOverrides{
			MemoryBudget:            job.MemoryBudget,
			MaxRefinements:          job.MaxRefinements,
			ToolBudgetPerTurn:       job.ToolBudgetPerTurn,
			ToolBudgetPerRefinement: job.ToolBudgetPerRefinement,
		},
	}

	policy, err := p.engine.ResolvePolicy(ctx, req.Workspace)
	if err != nil {
		return fmt.Errorf("resolving workspace policy: %w", err)
	}

	bus := p.engine.Ask(ctx, req, policy)

	for ev := range bus.Events() {
		switch ev.Name {
		case events.NameFinal:
			slog.InfoContext(ctx, "async answer job completed",
				"request_id", req.RequestID, "action", ev.Final.Action, "final_score", ev.Final.FinalScore)
			return nil
		case events.NameError:
			slog.ErrorContext(ctx, "async answer job terminated in error",
				"request_id", req.RequestID, "code", ev.Error.Code, "message", ev.Error.Message)
			return nil
		}
	}
	// The bus closed without a terminal event: the request was canceled.
	return ctx.Err()
}
