package observe

import (
	"fmt"

	"github.com/PipeOpsHQ/rube/types"
)

// Traced reports whether a run event is worth forwarding to sinks. Text
// deltas and tool input announcements are client-facing only.
func Traced(t types.EventType) bool {
	switch t {
	case types.EventTextDelta, types.EventToolInputStart:
		return false
	}
	return true
}

// FromRuntimeEvent maps an agent loop event onto the observe model. Tool
// spans nest under the generation step that requested them.
func FromRuntimeEvent(in types.Event) Event {
	e := Event{
		Timestamp:  in.Timestamp,
		RunID:      in.RunID,
		SessionID:  in.SessionID,
		Provider:   in.Provider,
		ToolName:   in.ToolName,
		Step:       in.Step,
		Name:       string(in.Type),
		Message:    in.Message,
		Error:      in.Error,
		DurationMs: in.DurationMs,
		Attributes: map[string]any{},
	}
	if in.ToolCallID != "" {
		e.Attributes["toolCallId"] = in.ToolCallID
	}

	switch in.Type {
	case types.EventBeforeGenerate, types.EventAfterGenerate, types.EventTextDelta:
		e.Kind = KindProvider
	case types.EventBeforeTool, types.EventAfterTool, types.EventToolInputStart:
		e.Kind = KindTool
	case types.EventRunStarted, types.EventRunCompleted, types.EventRunFailed:
		e.Kind = KindRun
	default:
		e.Kind = KindCustom
	}

	switch in.Type {
	case types.EventRunStarted, types.EventBeforeGenerate, types.EventBeforeTool, types.EventToolInputStart:
		e.Status = StatusStarted
	case types.EventRunFailed:
		e.Status = StatusFailed
	default:
		e.Status = StatusCompleted
	}
	if in.Type == types.EventAfterTool && in.Error != "" {
		e.Status = StatusFailed
	}

	e.SpanID, e.ParentSpanID = spanIDs(in)
	e.Normalize()
	return e
}

func spanIDs(in types.Event) (span, parent string) {
	if in.RunID == "" {
		return "", ""
	}
	switch {
	case in.ToolCallID != "":
		return fmt.Sprintf("%s:tool:%d:%s", in.RunID, in.Step, in.ToolCallID), fmt.Sprintf("%s:gen:%d", in.RunID, in.Step)
	case in.Step > 0 && (in.Type == types.EventBeforeGenerate || in.Type == types.EventAfterGenerate):
		return fmt.Sprintf("%s:gen:%d", in.RunID, in.Step), in.RunID
	default:
		return in.RunID, ""
	}
}
