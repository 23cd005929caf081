package types

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventBeforeGenerate EventType = "run.before_generate"
	EventAfterGenerate  EventType = "run.after_generate"
	EventTextDelta      EventType = "run.text_delta"
	EventToolInputStart EventType = "run.tool_input_start"
	EventBeforeTool     EventType = "run.before_tool"
	EventAfterTool      EventType = "run.after_tool"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"
)

// Event is emitted by the agent loop while a run progresses. Delta, Input
// and Output are populated only for the event types that carry them.
type Event struct {
	Type       EventType       `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	RunID      string          `json:"runId,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Step       int             `json:"step,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
}
