package agent

import (
	"github.com/PipeOpsHQ/rube/types"
)

const (
	// DefaultMaxInputTokens leaves headroom under a 128k context window for
	// the system prompt, tool definitions and output.
	DefaultMaxInputTokens = 100000

	charsPerToken = 4
)

// ContextManager trims chat history to an approximate token budget.
type ContextManager struct {
	maxInputTokens int
}

func NewContextManager(maxTokens int) *ContextManager {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxInputTokens
	}
	return &ContextManager{maxInputTokens: maxTokens}
}

// EstimateTokens approximates the token count of text at ~4 chars/token.
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

func estimateMessage(msg types.Message) int {
	n := 4 + EstimateTokens(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += 10 + EstimateTokens(string(tc.Arguments))
	}
	if msg.ToolCallID != "" {
		n += 5
	}
	return n
}

func estimateTools(defs []types.ToolDefinition) int {
	n := 0
	for _, d := range defs {
		n += 60 + EstimateTokens(d.Description)
	}
	return n
}

// TrimMessages keeps the newest messages that fit the budget after the
// system prompt, tool definitions and reserve are accounted for. The last
// message is always kept, and tool results never lose their call.
func (cm *ContextManager) TrimMessages(messages []types.Message, systemPrompt string, defs []types.ToolDefinition, reserve int) []types.Message {
	if len(messages) == 0 {
		return messages
	}
	budget := cm.maxInputTokens - EstimateTokens(systemPrompt) - estimateTools(defs) - reserve

	last := len(messages) - 1
	used := estimateMessage(messages[last])
	first := last
	for first > 0 && budget > 0 {
		cost := estimateMessage(messages[first-1])
		if used+cost > budget {
			break
		}
		used += cost
		first--
	}
	return pairToolCalls(messages[first:])
}

// pairToolCalls drops tool results whose call was trimmed away and
// assistant tool-call turns whose results are incomplete.
func pairToolCalls(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	pending := map[string]bool{}
	blockStart := -1

	closeBlock := func() {
		if len(pending) > 0 && blockStart >= 0 {
			out = out[:blockStart]
		}
		pending = map[string]bool{}
		blockStart = -1
	}

	for _, msg := range messages {
		switch {
		case msg.Role == types.RoleAssistant && len(msg.ToolCalls) > 0:
			closeBlock()
			blockStart = len(out)
			out = append(out, msg)
			for _, tc := range msg.ToolCalls {
				pending[tc.ID] = true
			}
		case msg.Role == types.RoleTool:
			if pending[msg.ToolCallID] {
				out = append(out, msg)
				delete(pending, msg.ToolCallID)
				if len(pending) == 0 {
					blockStart = -1
				}
			}
		default:
			closeBlock()
			out = append(out, msg)
		}
	}
	closeBlock()
	return out
}
