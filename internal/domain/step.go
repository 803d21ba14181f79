package domain

import (
	"encoding/json"
	"time"
)

// StepStatus records whether a step completed normally, was aborted by a
// client disconnect, or failed as a fatal orchestrator bug.
type StepStatus string

const (
	StepStatusOK         StepStatus = "ok"
	StepStatusIncomplete StepStatus = "incomplete"
	StepStatusError      StepStatus = "error"
)

// StepRecord is the single persisted audit row per decided step:
// redacted question/answer, scores, and a trace blob with per-tool
// metadata — never raw secrets or more than the configured preview length
// of fetched content.
type StepRecord struct {
	StepID          int64
	RequestID       string
	StepIndex       int
	Workspace       string
	Domain          string
	IsRefinement    bool
	RedactedQuestion string
	RedactedAnswer   string
	S1              float64
	S2              float64
	S               float64
	CPAccept        *bool
	Action          Action
	ToolsUsed       []string
	PackIDs         []string
	Issues          []Issue
	Trace           json.RawMessage
	Status          StepStatus
	CreatedAt       time.Time
}
