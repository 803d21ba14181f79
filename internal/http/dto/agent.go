package dto

// AskRequest is the body of POST /agent/answer and /agent/answer/stream:
// the question plus per-request overrides.
type AskRequest struct {
	Question       string `json:"question" binding:"required"`
	Domain         string `json:"domain"`
	Workspace      string `json:"workspace" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`

	MemoryBudget            *int `json:"memory_budget,omitempty"`
	MaxRefinements          *int `json:"max_refinements,omitempty"`
	ToolBudgetPerTurn       *int `json:"tool_budget_per_turn,omitempty"`
	ToolBudgetPerRefinement *int `json:"tool_budget_per_refinement,omitempty"`
}

// AsyncAskResponse is the 202 body returned from POST /agent/answer/async
// once the request has been enqueued for cmd/worker to drain.
type AsyncAskResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// WaitingApprovalResponse is the 202 body returned from POST /agent/answer
// when the request suspends on a tool approval before a terminal event is
// reached.
type WaitingApprovalResponse struct {
	ApprovalID int64  `json:"approval_id"`
	Status     string `json:"status"`
}

// ApproveRequest is the body of POST /tools/approve.
type ApproveRequest struct {
	ApprovalID int64  `json:"approval_id" binding:"required"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason"`
}

// ApproveResponse echoes the resolved approval state.
type ApproveResponse struct {
	ApprovalID int64  `json:"approval_id"`
	State      string `json:"state"`
}

// CPThresholdResponse is the body of GET /cp/threshold.
type CPThresholdResponse struct {
	Domain string      `json:"domain"`
	Tau    float64     `json:"tau"`
	Stats  CPStatsDTO  `json:"stats"`
	Cached bool        `json:"cached"`
}

type CPStatsDTO struct {
	BorderlineDelta float64   `json:"borderline_delta"`
	SNNEQuantiles   []float64 `json:"snne_quantiles"`
	SampleCount     int       `json:"sample_count"`
}

// ImportArtifactsRequest is the body of POST /cp/artifacts.
type ImportArtifactsRequest struct {
	Artifacts []CalibrationArtifactDTO `json:"artifacts" binding:"required"`
}

type CalibrationArtifactDTO struct {
	Domain   string  `json:"domain" binding:"required"`
	RunID    string  `json:"run_id" binding:"required"`
	Score    float64 `json:"score"`
	Accepted bool    `json:"accepted"`
	Correct  bool    `json:"correct"`
}

// StepRecordDTO is one entry of GET /steps/recent and GET /steps/{id}.
type StepRecordDTO struct {
	StepID           int64    `json:"step_id"`
	RequestID        string   `json:"request_id"`
	StepIndex        int      `json:"step_index"`
	Workspace        string   `json:"workspace"`
	Domain           string   `json:"domain"`
	IsRefinement     bool     `json:"is_refinement"`
	RedactedQuestion string   `json:"redacted_question"`
	RedactedAnswer   string   `json:"redacted_answer"`
	S1               float64  `json:"s1"`
	S2               float64  `json:"s2"`
	S                float64  `json:"s"`
	CPAccept         *bool    `json:"cp_accept"`
	Action           string   `json:"action"`
	ToolsUsed        []string `json:"tools_used"`
	PackIDs          []string `json:"pack_ids"`
	Status           string   `json:"status"`
	CreatedAt        string   `json:"created_at"`
	Trace            any      `json:"trace,omitempty"`
}

// GovCheckRequest is the body of POST /gov/check.
type GovCheckRequest struct {
	DAG          []GoVEdgeDTO `json:"dag" binding:"required"`
	VerifiedPCN  []string     `json:"verified_pcn"`
	Assertions   []string     `json:"assertions"`
}

type GoVEdgeDTO struct {
	From        string   `json:"from" binding:"required"`
	To          string   `json:"to" binding:"required"`
	SupportedBy []string `json:"supported_by"`
}

// GovCheckResponse is the body of POST /gov/check.
type GovCheckResponse struct {
	OK         bool            `json:"ok"`
	Failures   []string        `json:"failures"`
	Assertions map[string]bool `json:"assertions"`
}
