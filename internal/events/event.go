// Package events defines the tagged stream-event union and its SSE
// encoder.
package events

import "github.com/cortexhq/cortex/internal/domain"

// Name is the SSE event name.
type Name string

const (
	NameReady     Name = "ready"
	NameToken     Name = "token"
	NameScore     Name = "score"
	NameTrace     Name = "trace"
	NameTool      Name = "tool"
	NamePCN       Name = "pcn"
	NameGoV       Name = "gov"
	NameHeartbeat Name = "heartbeat"
	NameError     Name = "error"
	NameFinal     Name = "final"
	NamePlanning  Name = "planning"
)

// Event is the tagged variant every component emits; the payload pointer
// matching Name is the one that is set. A single exhaustive struct (rather
// than an interface) keeps construction sites simple and the SSE encoder's
// switch total.
type Event struct {
	Name      Name
	RequestID string
	Ready     *ReadyPayload     `json:"-"`
	Token     *TokenPayload     `json:"-"`
	Score     *ScorePayload     `json:"-"`
	Trace     *TracePayload     `json:"-"`
	Tool      *ToolPayload      `json:"-"`
	PCN       *PCNPayload       `json:"-"`
	GoV       *GoVPayload       `json:"-"`
	Heartbeat *HeartbeatPayload `json:"-"`
	Error     *ErrorPayload     `json:"-"`
	Final     *FinalPayload     `json:"-"`
}

type ReadyPayload struct {
	RequestID string `json:"request_id"`
}

type TokenPayload struct {
	Text string `json:"text"`
}

type ScorePayload struct {
	S1         float64  `json:"s1"`
	S2         float64  `json:"s2"`
	FinalScore float64  `json:"final_score"`
	CPAccept   *bool    `json:"cp_accept"`
	CPTau      *float64 `json:"cp_tau,omitempty"`
}

type TracePayload struct {
	Step          int      `json:"step"`
	IsRefinement  bool     `json:"is_refinement"`
	Issues        []string `json:"issues"`
	ToolsUsed     []string `json:"tools_used"`
	PromptPreview string   `json:"prompt_preview,omitempty"`
}

type ToolMeta struct {
	URL             string `json:"url,omitempty"`
	RequestedURL    string `json:"requested_url,omitempty"`
	Status          int    `json:"status,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	Bytes           int64  `json:"bytes,omitempty"`
	PolicyResult    string `json:"policy_result,omitempty"`
	InjectionBlocked bool  `json:"injection_blocked,omitempty"`
}

type ToolPayload struct {
	Name   string                  `json:"name"`
	Status domain.ToolCallStatus   `json:"status"`
	ID     *int64                  `json:"id,omitempty"`
	Meta   ToolMeta                `json:"meta"`
}

type PCNPayload struct {
	ID         string          `json:"id"`
	Type       domain.PCNState `json:"type"`
	Value      *float64        `json:"value,omitempty"`
	Policy     domain.PCNPolicy `json:"policy"`
	Provenance string          `json:"provenance"`
}

type GoVPayload struct {
	DAGDelta domain.GoVDelta `json:"dag_delta"`
}

type HeartbeatPayload struct {
	T int64 `json:"t"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FinalPayload is the full structured result carried by the terminal
// final event.
type FinalPayload struct {
	RequestID  string                `json:"request_id"`
	Answer     string                `json:"answer"`
	Action     domain.Action         `json:"action"`
	S1         float64               `json:"s1"`
	S2         float64               `json:"s2"`
	FinalScore float64               `json:"final_score"`
	CPAccept   *bool                 `json:"cp_accept"`
	CPTau      *float64              `json:"cp_tau,omitempty"`
	Issues     []domain.Issue        `json:"issues"`
	ToolsUsed  []string              `json:"tools_used"`
	PackIDs    []string              `json:"pack_ids"`
	Trace      []TracePayload        `json:"trace"`
	LatencyMs  int64                 `json:"latency_ms"`
	Usage      Usage                 `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ToolInvocations  int `json:"tool_invocations"`
}

func Ready(requestID string) Event {
	return Event{Name: NameReady, RequestID: requestID, Ready: &ReadyPayload{RequestID: requestID}}
}

func Token(requestID, text string) Event {
	return Event{Name: NameToken, RequestID: requestID, Token: &TokenPayload{Text: text}}
}

func Score(requestID string, p ScorePayload) Event {
	return Event{Name: NameScore, RequestID: requestID, Score: &p}
}

func Trace(requestID string, p TracePayload) Event {
	return Event{Name: NameTrace, RequestID: requestID, Trace: &p}
}

func Tool(requestID string, p ToolPayload) Event {
	return Event{Name: NameTool, RequestID: requestID, Tool: &p}
}

func PCN(requestID string, p PCNPayload) Event {
	return Event{Name: NamePCN, RequestID: requestID, PCN: &p}
}

func GoV(requestID string, p GoVPayload) Event {
	return Event{Name: NameGoV, RequestID: requestID, GoV: &p}
}

func Heartbeat(requestID string, t int64) Event {
	return Event{Name: NameHeartbeat, RequestID: requestID, Heartbeat: &HeartbeatPayload{T: t}}
}

func Err(requestID, code, message string) Event {
	return Event{Name: NameError, RequestID: requestID, Error: &ErrorPayload{Code: code, Message: message}}
}

func Final(requestID string, p FinalPayload) Event {
	return Event{Name: NameFinal, RequestID: requestID, Final: &p}
}

// Terminal reports whether this event ends the stream (invariant 3: exactly
// one terminal event per request).
func (e Event) Terminal() bool {
	return e.Name == NameFinal || e.Name == NameError
}
