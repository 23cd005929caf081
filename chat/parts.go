package chat

import (
	"encoding/json"
	"fmt"

	"github.com/PipeOpsHQ/rube/types"
)

const (
	PartStart               = "start"
	PartStartStep           = "start-step"
	PartTextStart           = "text-start"
	PartTextDelta           = "text-delta"
	PartTextEnd             = "text-end"
	PartToolInputStart      = "tool-input-start"
	PartToolInputAvailable  = "tool-input-available"
	PartToolOutputAvailable = "tool-output-available"
	PartFinishStep          = "finish-step"
	PartFinish              = "finish"
	PartError               = "error"
)

// Part is one UI message stream chunk.
type Part struct {
	Type       string          `json:"type"`
	MessageID  string          `json:"messageId,omitempty"`
	ID         string          `json:"id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

// partMapper turns run events into stream parts. It keeps text blocks and
// steps balanced and announces a tool call before its input when the model
// did not stream the call start.
type partMapper struct {
	textID    string
	stepOpen  bool
	announced map[string]bool
}

func newPartMapper() *partMapper {
	return &partMapper{announced: map[string]bool{}}
}

func (m *partMapper) parts(ev types.Event) []Part {
	switch ev.Type {
	case types.EventRunStarted:
		return []Part{{Type: PartStart, MessageID: ev.RunID}}

	case types.EventBeforeGenerate:
		out := m.closeStep()
		m.stepOpen = true
		return append(out, Part{Type: PartStartStep})

	case types.EventTextDelta:
		var out []Part
		if m.textID == "" {
			m.textID = fmt.Sprintf("%s-%d", ev.RunID, ev.Step)
			out = append(out, Part{Type: PartTextStart, ID: m.textID})
		}
		return append(out, Part{Type: PartTextDelta, ID: m.textID, Delta: ev.Delta})

	case types.EventToolInputStart:
		if ev.ToolCallID == "" || m.announced[ev.ToolCallID] {
			return nil
		}
		m.announced[ev.ToolCallID] = true
		return []Part{{Type: PartToolInputStart, ToolCallID: ev.ToolCallID, ToolName: ev.ToolName}}

	case types.EventAfterGenerate:
		return m.closeText()

	case types.EventBeforeTool:
		var out []Part
		if !m.announced[ev.ToolCallID] {
			m.announced[ev.ToolCallID] = true
			out = append(out, Part{Type: PartToolInputStart, ToolCallID: ev.ToolCallID, ToolName: ev.ToolName})
		}
		return append(out, Part{
			Type:       PartToolInputAvailable,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Input:      ev.Input,
		})

	case types.EventAfterTool:
		return []Part{{Type: PartToolOutputAvailable, ToolCallID: ev.ToolCallID, Output: ev.Output}}

	case types.EventRunCompleted:
		out := append(m.closeText(), m.closeStep()...)
		return append(out, Part{Type: PartFinish})

	case types.EventRunFailed:
		out := append(m.closeText(), m.closeStep()...)
		return append(out, Part{Type: PartError, ErrorText: ev.Error}, Part{Type: PartFinish})
	}
	return nil
}

func (m *partMapper) closeText() []Part {
	if m.textID == "" {
		return nil
	}
	id := m.textID
	m.textID = ""
	return []Part{{Type: PartTextEnd, ID: id}}
}

func (m *partMapper) closeStep() []Part {
	if !m.stepOpen {
		return nil
	}
	m.stepOpen = false
	return []Part{{Type: PartFinishStep}}
}
