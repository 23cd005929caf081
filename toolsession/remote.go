package toolsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/PipeOpsHQ/rube/tools"
	"github.com/PipeOpsHQ/rube/types"
)

const clientName = "rube"

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for name, values := range t.headers {
		for _, v := range values {
			req.Header.Set(name, v)
		}
	}
	return t.base.RoundTrip(req)
}

// connectRemote opens an MCP client session over streamable HTTP. The
// endpoint addresses the router session; the transport session id is
// assigned by the server during initialize.
func connectRemote(ctx context.Context, base *http.Client, endpoint string, headers http.Header, version string) (*mcp.ClientSession, error) {
	rt := http.DefaultTransport
	if base != nil && base.Transport != nil {
		rt = base.Transport
	}
	httpClient := &http.Client{Transport: &headerTransport{base: rt, headers: headers.Clone()}}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: version}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: httpClient,
		MaxRetries: -1,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect tool router %s: %w", endpoint, err)
	}
	return session, nil
}

// listRemoteTools wraps every tool the session exposes.
func listRemoteTools(ctx context.Context, cs *mcp.ClientSession) ([]tools.Tool, error) {
	var out []tools.Tool
	for tool, err := range cs.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list remote tools: %w", err)
		}
		if tool == nil || strings.TrimSpace(tool.Name) == "" {
			continue
		}
		out = append(out, &remoteTool{def: remoteDefinition(tool), session: cs})
	}
	return out, nil
}

func remoteDefinition(tool *mcp.Tool) types.ToolDefinition {
	schema := map[string]any{"type": "object", "properties": map[string]any{}}
	if tool.InputSchema != nil {
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			var decoded map[string]any
			if json.Unmarshal(raw, &decoded) == nil && decoded != nil {
				schema = decoded
			}
		}
	}
	return types.ToolDefinition{
		Name:        tool.Name,
		Description: tool.Description,
		JSONSchema:  schema,
	}
}

// remoteTool forwards calls to the tool router.
type remoteTool struct {
	def     types.ToolDefinition
	session *mcp.ClientSession
}

var _ tools.Tool = (*remoteTool)(nil)

func (t *remoteTool) Definition() types.ToolDefinition { return t.def }

func (t *remoteTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: t.def.Name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", t.def.Name, err)
	}
	text := joinText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, errors.New(text)
	}
	if text == "" && res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return text, nil
}

func joinText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
