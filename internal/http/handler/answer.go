// Package handler's answer.go implements the core engine's HTTP surface:
// the non-streaming and streaming /agent/answer endpoints
// share one orchestrator.Run call (via engine.Engine), differing only in
// whether intermediate events are forwarded to the response or only the
// terminal one is returned as JSON. /agent/answer/async instead hands the
// request to internal/queue for cmd/worker to drain, for callers that would
// rather poll /steps than hold a connection open.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cortexhq/cortex/common"
	"github.com/cortexhq/cortex/internal/approval"
	"github.com/cortexhq/cortex/internal/audit"
	"github.com/cortexhq/cortex/internal/calibration"
	"github.com/cortexhq/cortex/internal/decision"
	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/engine"
	"github.com/cortexhq/cortex/internal/events"
	"github.com/cortexhq/cortex/internal/http/dto"
	"github.com/cortexhq/cortex/internal/metrics"
	"github.com/cortexhq/cortex/internal/queue"
)

// heartbeatInterval paces the keep-alive heartbeat events written while
// the stream is otherwise idle.
const heartbeatInterval = 15 * time.Second

type AnswerHandler struct {
	engine      *engine.Engine
	approvals   *approval.Store
	calibration *calibration.Store
	audit       *audit.Store
	metrics     *metrics.Registry
	idempotent  *idempotencyCache
	producer    queue.Producer
}

func NewAnswerHandler(eng *engine.Engine, approvals *approval.Store, cal *calibration.Store, aud *audit.Store, mx *metrics.Registry, producer queue.Producer) *AnswerHandler {
	return &AnswerHandler{engine: eng, approvals: approvals, calibration: cal, audit: aud, metrics: mx, idempotent: newIdempotencyCache(), producer: producer}
}

func buildRequest(req dto.AskRequest) domain.Request {
	workspace, err := common.Slugify(req.Workspace, "default")
	if err != nil {
		workspace = "default"
	}
	r := domain.Request{
		RequestID:      uuid.NewString(),
		Question:       req.Question,
		Domain:         req.Domain,
		Workspace:      workspace,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
		Overrides: domain.RequestOverrides{
			MemoryBudget:            req.MemoryBudget,
			MaxRefinements:          req.MaxRefinements,
			ToolBudgetPerTurn:       req.ToolBudgetPerTurn,
			ToolBudgetPerRefinement: req.ToolBudgetPerRefinement,
		},
	}
	if r.Domain == "" {
		r.Domain = "default"
	}
	return r
}

// Ask implements POST /agent/answer: it drives the request to a terminal
// event synchronously and returns the FinalPayload as JSON, or a 202 with
// the pending approval id if the request suspends before terminating.
func (h *AnswerHandler) Ask(c *gin.Context) {
	ctx := c.Request.Context()

	var body dto.AskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if cached, ok := h.idempotent.get(body.IdempotencyKey); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	req := buildRequest(body)
	policy, err := h.engine.ResolvePolicy(ctx, req.Workspace)
	if err != nil {
		slog.ErrorContext(ctx, "resolving workspace policy failed", "workspace", req.Workspace, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve workspace policy"})
		return
	}

	bus := h.engine.Ask(ctx, req, policy)

	for ev := range bus.Events() {
		switch ev.Name {
		case events.NameTool:
			if ev.Tool != nil && ev.Tool.Status == domain.ToolStatusWaitingApproval && ev.Tool.ID != nil {
				c.JSON(http.StatusAccepted, dto.WaitingApprovalResponse{ApprovalID: *ev.Tool.ID, Status: "waiting_approval"})
				return
			}
		case events.NameFinal:
			h.idempotent.put(body.IdempotencyKey, *ev.Final)
			c.JSON(http.StatusOK, *ev.Final)
			return
		case events.NameError:
			c.JSON(http.StatusInternalServerError, gin.H{"code": ev.Error.Code, "message": ev.Error.Message})
			return
		}
	}
}

// AskAsync implements POST /agent/answer/async: enqueues the request onto
// internal/queue and returns immediately, for callers that would rather
// poll GET /steps than hold a connection open while the engine (including
// any tool approval wait) runs to completion.
func (h *AnswerHandler) AskAsync(c *gin.Context) {
	ctx := c.Request.Context()

	if h.producer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async submission is disabled: no queue backend configured"})
		return
	}

	var body dto.AskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := buildRequest(body)
	job := queue.AnswerJob{
		RequestID:               req.RequestID,
		Question:                req.Question,
		Domain:                  req.Domain,
		Workspace:               req.Workspace,
		IdempotencyKey:          req.IdempotencyKey,
		MemoryBudget:            req.Overrides.MemoryBudget,
		MaxRefinements:          req.Overrides.MaxRefinements,
		ToolBudgetPerTurn:       req.Overrides.ToolBudgetPerTurn,
		ToolBudgetPerRefinement: req.Overrides.ToolBudgetPerRefinement,
		Attempt:                 1,
	}

	if err := h.producer.Enqueue(ctx, job); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue answer job", "request_id", req.RequestID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue request"})
		return
	}

	c.JSON(http.StatusAccepted, dto.AsyncAskResponse{RequestID: req.RequestID, Status: "queued"})
}

// AskStream implements POST /agent/answer/stream: forwards every event on
// the bus as an SSE frame, interleaving heartbeats during idle periods.
func (h *AnswerHandler) AskStream(c *gin.Context) {
	ctx := c.Request.Context()

	var body dto.AskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := buildRequest(body)
	policy, err := h.engine.ResolvePolicy(ctx, req.Workspace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve workspace policy"})
		return
	}

	events.SetSSEHeaders(c.Writer)
	flusher, canFlush := c.Writer.(http.Flusher)

	bus := h.engine.Ask(ctx, req, policy)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	evCh := bus.Events()
	for {
		select {
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			if ev.Name == events.NameFinal {
				h.idempotent.put(body.IdempotencyKey, *ev.Final)
			}
			if writeErr := events.Write(c.Writer, ev); writeErr != nil {
				slog.WarnContext(ctx, "sse write failed, client likely disconnected", "error", writeErr)
				return
			}
			if canFlush {
				flusher.Flush()
			}
			if ev.Terminal() {
				return
			}
		case <-ticker.C:
			_ = events.Write(c.Writer, events.Heartbeat(req.RequestID, time.Now().Unix()))
			if canFlush {
				flusher.Flush()
			}
		case <-ctx.Done():
			return
		}
	}
}

// Approve implements POST /tools/approve.
func (h *AnswerHandler) Approve(c *gin.Context) {
	var body dto.ApproveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolved, err := h.approvals.Resolve(body.ApprovalID, body.Approved, body.Reason)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.ApproveResponse{ApprovalID: resolved.ApprovalID, State: string(resolved.State)})
}

// CPThreshold implements GET /cp/threshold?domain=....
func (h *AnswerHandler) CPThreshold(c *gin.Context) {
	ctx := c.Request.Context()
	domainName := c.Query("domain")
	if domainName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
		return
	}

	table, err := h.calibration.Threshold(ctx, domainName)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CPThresholdResponse{
		Domain: table.Domain,
		Tau:    table.TauAccept,
		Stats: dto.CPStatsDTO{
			BorderlineDelta: table.BorderlineDelta,
			SNNEQuantiles:   table.SNNEQuantiles,
			SampleCount:     table.SampleCount,
		},
		Cached: true,
	})
}

// ImportArtifacts implements POST /cp/artifacts.
func (h *AnswerHandler) ImportArtifacts(c *gin.Context) {
	ctx := c.Request.Context()
	var body dto.ImportArtifactsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	artifacts := make([]domain.CalibrationArtifact, len(body.Artifacts))
	for i, a := range body.Artifacts {
		artifacts[i] = domain.CalibrationArtifact{Domain: a.Domain, RunID: a.RunID, Score: a.Score, Accepted: a.Accepted, Correct: a.Correct}
	}

	if err := h.calibration.Import(ctx, artifacts); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": len(artifacts)})
}

// RecentSteps implements GET /steps/recent.
func (h *AnswerHandler) RecentSteps(c *gin.Context) {
	ctx := c.Request.Context()
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}

	recs, err := h.audit.Recent(ctx, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	domainFilter := c.Query("domain")
	actionFilter := c.Query("action")
	includeTrace := c.Query("include_trace") == "true"

	out := make([]dto.StepRecordDTO, 0, len(recs))
	for _, r := range recs {
		if domainFilter != "" && r.Domain != domainFilter {
			continue
		}
		if actionFilter != "" && string(r.Action) != actionFilter {
			continue
		}
		out = append(out, stepToDTO(r, includeTrace))
	}
	c.JSON(http.StatusOK, out)
}

// StepDetail implements GET /steps/{id}.
func (h *AnswerHandler) StepDetail(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := parsePositiveInt64(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid step id"})
		return
	}

	rec, found, err := h.audit.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "step not found"})
		return
	}
	c.JSON(http.StatusOK, stepToDTO(rec, true))
}

func stepToDTO(r domain.StepRecord, includeTrace bool) dto.StepRecordDTO {
	d := dto.StepRecordDTO{
		StepID: r.StepID, RequestID: r.RequestID, StepIndex: r.StepIndex,
		Workspace: r.Workspace, Domain: r.Domain, IsRefinement: r.IsRefinement,
		RedactedQuestion: r.RedactedQuestion, RedactedAnswer: r.RedactedAnswer,
		S1: r.S1, S2: r.S2, S: r.S, CPAccept: r.CPAccept, Action: string(r.Action),
		ToolsUsed: r.ToolsUsed, PackIDs: r.PackIDs, Status: string(r.Status),
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
	if includeTrace && len(r.Trace) > 0 {
		var v any
		if err := json.Unmarshal(r.Trace, &v); err == nil {
			d.Trace = v
		}
	}
	return d
}

// MetricsProm implements GET /metrics/prom.
func (h *AnswerHandler) MetricsProm(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// MetricsJSON implements GET /metrics.
func (h *AnswerHandler) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// GovCheck implements POST /gov/check.
func (h *AnswerHandler) GovCheck(c *gin.Context) {
	var body dto.GovCheckRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	edges := make([]domain.GoVEdge, len(body.DAG))
	for i, e := range body.DAG {
		edges[i] = domain.GoVEdge{From: e.From, To: e.To, SupportedBy: e.SupportedBy}
	}
	verified := make(map[string]bool, len(body.VerifiedPCN))
	for _, id := range body.VerifiedPCN {
		verified[id] = true
	}

	ok, failing, assertions := decision.CheckGraph(edges, verified, body.Assertions)
	c.JSON(http.StatusOK, dto.GovCheckResponse{OK: ok, Failures: failing, Assertions: assertions})
}
