package llm

import (
	"context"
	"errors"

	"github.com/PipeOpsHQ/rube/types"
)

var ErrNotSupported = errors.New("operation not supported by provider")

type Capabilities struct {
	Tools            bool
	Streaming        bool
	StructuredOutput bool
}

type Provider interface {
	Name() string
	Capabilities() Capabilities
	Generate(ctx context.Context, req types.Request) (types.Response, error)
}

// StreamingProvider is implemented by providers that can relay partial output
// while a generation is in flight. The returned Response is the fully
// assembled message, identical to what Generate would have produced.
type StreamingProvider interface {
	Provider
	GenerateStream(ctx context.Context, req types.Request, onChunk func(types.StreamChunk) error) (types.Response, error)
}

// Stream uses GenerateStream when the provider supports it and otherwise
// falls back to Generate, replaying the final text as a single chunk.
func Stream(ctx context.Context, p Provider, req types.Request, onChunk func(types.StreamChunk) error) (types.Response, error) {
	if sp, ok := p.(StreamingProvider); ok && p.Capabilities().Streaming {
		return sp.GenerateStream(ctx, req, onChunk)
	}
	resp, err := p.Generate(ctx, req)
	if err != nil {
		return types.Response{}, err
	}
	for i := range resp.Message.ToolCalls {
		call := resp.Message.ToolCalls[i]
		if err := onChunk(types.StreamChunk{ToolCallStart: &call}); err != nil {
			return types.Response{}, err
		}
	}
	if resp.Message.Content != "" {
		if err := onChunk(types.StreamChunk{Text: resp.Message.Content}); err != nil {
			return types.Response{}, err
		}
	}
	if err := onChunk(types.StreamChunk{Done: true}); err != nil {
		return types.Response{}, err
	}
	return resp, nil
}
