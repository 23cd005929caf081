package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/PipeOpsHQ/rube/types"
)

type Tool interface {
	Definition() types.ToolDefinition
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

type FuncTool struct {
	def      types.ToolDefinition
	fn       func(ctx context.Context, args json.RawMessage) (any, error)
	validate bool
	schema   *gojsonschema.Schema
}

type FuncOption func(*FuncTool)

// WithArgumentValidation checks arguments against the tool's JSON schema
// before the function runs.
func WithArgumentValidation() FuncOption {
	return func(t *FuncTool) { t.validate = true }
}

func NewFuncTool(name, description string, schema map[string]any, fn func(ctx context.Context, args json.RawMessage) (any, error), opts ...FuncOption) *FuncTool {
	t := &FuncTool{
		def: types.ToolDefinition{
			Name:        name,
			Description: description,
			JSONSchema:  schema,
		},
		fn: fn,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.validate && len(schema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err == nil {
			t.schema = compiled
		}
	}
	return t
}

func (t *FuncTool) Definition() types.ToolDefinition {
	return t.def
}

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("tool %q has no execute function", t.def.Name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if t.schema != nil {
		result, err := t.schema.Validate(gojsonschema.NewBytesLoader(args))
		if err != nil {
			return nil, fmt.Errorf("tool %q: invalid arguments: %w", t.def.Name, err)
		}
		if !result.Valid() {
			problems := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				problems = append(problems, e.String())
			}
			return nil, fmt.Errorf("tool %q: invalid arguments: %s", t.def.Name, strings.Join(problems, "; "))
		}
	}
	return t.fn(ctx, args)
}
