package agentcli

import "encoding/json"

// MessageType discriminates the five conversation message kinds the child
// may emit.
type MessageType string

const (
	MessageTypeUser        MessageType = "user"
	MessageTypeAssistant   MessageType = "assistant"
	MessageTypeSystem      MessageType = "system"
	MessageTypeResult      MessageType = "result"
	MessageTypeStreamEvent MessageType = "stream_event"
)

// Message is a conversation event delivered to the caller through
// Client.NextMessage / Client.ReceiveResponse. It is immutable once
// delivered.
type Message interface {
	Kind() MessageType
	Session() string
}

// baseMessage carries the fields common to every message kind.
type baseMessage struct {
	SessionID       string          `json:"session_id"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

func (b baseMessage) Session() string { return b.SessionID }

// UserMessage echoes a user turn back from the child (used for transcript
// reconstruction; distinct from the frame the client itself sent).
type UserMessage struct {
	baseMessage
	Content json.RawMessage `json:"content"`
}

func (UserMessage) Kind() MessageType { return MessageTypeUser }

// AssistantMessage carries one assistant turn's content blocks.
type AssistantMessage struct {
	baseMessage
	Content json.RawMessage `json:"content"`
	Model   string          `json:"model,omitempty"`
}

func (AssistantMessage) Kind() MessageType { return MessageTypeAssistant }

// SystemMessage carries out-of-band system notices, e.g. subtype "init".
type SystemMessage struct {
	baseMessage
	Subtype string          `json:"subtype"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (SystemMessage) Kind() MessageType { return MessageTypeSystem }

// ResultSubtype enumerates how a turn concluded.
type ResultSubtype string

const (
	ResultSuccess              ResultSubtype = "success"
	ResultErrorMaxTurns        ResultSubtype = "error_max_turns"
	ResultErrorDuringExecution ResultSubtype = "error_during_execution"
)

// CacheUsage reports prompt-cache hit/write token counts for one model.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// TokenUsage mirrors per-model token accounting, generalized from the
// teacher's single-model TokenUsage to a map since a turn may touch
// multiple models (main + fallback).
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning,omitempty"`
	Cache     CacheUsage `json:"cache,omitempty"`
}

// PermissionDenial records one tool invocation the Callback Dispatcher (or
// the child itself) denied during a turn.
type PermissionDenial struct {
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
}

// ResultMessage ends a turn. ResultMessage.SessionID is authoritative: it
// drives BoundSession auto-binding and Message Buffer draining.
type ResultMessage struct {
	baseMessage
	Subtype           ResultSubtype          `json:"subtype"`
	DurationMS        int64                  `json:"duration_ms"`
	DurationAPIMS     int64                  `json:"duration_api_ms"`
	IsError           bool                   `json:"is_error"`
	NumTurns          int                    `json:"num_turns"`
	TotalCostUSD      float64                `json:"total_cost_usd"`
	Usage             map[string]*TokenUsage `json:"usage,omitempty"`
	PermissionDenials []PermissionDenial     `json:"permission_denials,omitempty"`
	StructuredOutput  json.RawMessage        `json:"structured_output,omitempty"`
	Errors            []string               `json:"errors,omitempty"`
}

func (ResultMessage) Kind() MessageType { return MessageTypeResult }

// StreamEventMessage carries a raw partial-output event, only emitted when
// Configuration.IncludePartialMessages is set.
type StreamEventMessage struct {
	baseMessage
	UUID  string          `json:"uuid"`
	Event json.RawMessage `json:"event"`
}

func (StreamEventMessage) Kind() MessageType { return MessageTypeStreamEvent }
