package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/PipeOpsHQ/rube/llm"
	"github.com/PipeOpsHQ/rube/types"
)

var _ llm.StreamingProvider = (*Client)(nil)

const maxSSELine = 1 << 20

type streamChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// pendingCall accumulates one tool call across deltas, keyed by its index.
type pendingCall struct {
	id        string
	name      string
	args      strings.Builder
	announced bool
}

// GenerateStream sends a streaming chat completion. Text deltas and tool call
// starts are passed to onChunk as they arrive; tool call arguments are
// accumulated and returned in the final message.
func (c *Client) GenerateStream(ctx context.Context, req types.Request, onChunk func(types.StreamChunk) error) (types.Response, error) {
	httpReq, err := c.newRequest(ctx, req, true)
	if err != nil {
		return types.Response{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return types.Response{}, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return types.Response{}, fmt.Errorf("openai API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var (
		text    strings.Builder
		calls   = map[int]*pendingCall{}
		usage   *types.Usage
		scanner = bufio.NewScanner(resp.Body)
	)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSSELine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return types.Response{}, fmt.Errorf("failed to decode openai stream event: %w", err)
		}
		if chunk.Error != nil {
			return types.Response{}, fmt.Errorf("openai stream error: %s", chunk.Error.Message)
		}
		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			usage = &types.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if err := onChunk(types.StreamChunk{Text: delta.Content}); err != nil {
				return types.Response{}, err
			}
		}
		for _, tc := range delta.ToolCalls {
			pc, ok := calls[tc.Index]
			if !ok {
				pc = &pendingCall{}
				calls[tc.Index] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name += tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
			if !pc.announced && pc.id != "" && pc.name != "" {
				pc.announced = true
				if err := onChunk(types.StreamChunk{ToolCallStart: &types.ToolCall{ID: pc.id, Name: pc.name}}); err != nil {
					return types.Response{}, err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return types.Response{}, ctx.Err()
		}
		return types.Response{}, fmt.Errorf("failed to read openai stream: %w", err)
	}

	out := types.Message{Role: types.RoleAssistant, Content: text.String()}
	if len(calls) > 0 {
		indexes := make([]int, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		out.ToolCalls = make([]types.ToolCall, 0, len(indexes))
		for _, idx := range indexes {
			pc := calls[idx]
			call := types.ToolCall{ID: pc.id, Name: pc.name, Arguments: normalizeJSONArgs(pc.args.String())}
			if !pc.announced {
				if err := onChunk(types.StreamChunk{ToolCallStart: &types.ToolCall{ID: call.ID, Name: call.Name}}); err != nil {
					return types.Response{}, err
				}
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}
	if err := onChunk(types.StreamChunk{Done: true}); err != nil {
		return types.Response{}, err
	}
	return types.Response{Message: out, Usage: usage}, nil
}
