package toolsession

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/rube/platform"
)

type sendArgs struct {
	To string `json:"to"`
}

// newRouterServer serves an MCP tool router with a few tools and records
// the api key header of every request.
func newRouterServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "router", Version: "0.1.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "GMAIL_SEND_EMAIL", Description: "send an email"},
		func(ctx context.Context, req *mcp.CallToolRequest, in sendArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{
				&mcp.TextContent{Text: "sent"},
				&mcp.TextContent{Text: "to " + in.To},
			}}, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "GMAIL_FAIL", Description: "always fails"},
		func(ctx context.Context, req *mcp.CallToolRequest, in sendArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: "quota exceeded"}}}, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: RequestUserInputTool, Description: "remote shadow"},
		func(ctx context.Context, req *mcp.CallToolRequest, in sendArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "remote"}}}, nil, nil
		})

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, &mcp.StreamableHTTPOptions{JSONResponse: true})
	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("x-api-key"))
		mu.Unlock()
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &keys
}

type fakeProvisioner struct {
	mu       sync.Mutex
	url      string
	err      error
	calls    int
	toolkits [][]string
	delay    time.Duration
}

func (f *fakeProvisioner) CreateToolRouterSession(ctx context.Context, userID string, toolkits []string) (platform.ToolRouterSession, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.toolkits = append(f.toolkits, toolkits)
	if f.err != nil {
		return platform.ToolRouterSession{}, f.err
	}
	return platform.ToolRouterSession{SessionID: "trs_1", URL: f.url}, nil
}

func (f *fakeProvisioner) AuthHeaders() http.Header {
	h := http.Header{}
	h.Set("x-api-key", "test-key")
	return h
}

func (f *fakeProvisioner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRegistry struct {
	accounts []platform.ConnectedAccount
	err      error
}

func (f *fakeRegistry) ListActive(ctx context.Context, identity string) ([]platform.ConnectedAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []platform.ConnectedAccount
	for _, acc := range f.accounts {
		if acc.Status == platform.StatusActive {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (f *fakeRegistry) ActiveToolkits(ctx context.Context, identity string) ([]string, error) {
	active, err := f.ListActive(ctx, identity)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := []string{}
	for _, acc := range active {
		if !seen[acc.ToolkitSlug()] {
			seen[acc.ToolkitSlug()] = true
			out = append(out, acc.ToolkitSlug())
		}
	}
	return out, nil
}

func testAccounts() []platform.ConnectedAccount {
	return []platform.ConnectedAccount{
		{ID: "ca_1", Status: platform.StatusActive, Toolkit: platform.ToolkitRef{Slug: "gmail"}},
		{ID: "ca_2", Status: platform.StatusInitiated, Toolkit: platform.ToolkitRef{Slug: "slack"}},
		{ID: "ca_3", Status: platform.StatusActive, Toolkit: platform.ToolkitRef{Slug: "gmail"}},
		{ID: "ca_4", Status: platform.StatusActive, Toolkit: platform.ToolkitRef{Slug: "notion"}},
	}
}

func TestManager_ProvisionsOnceAndMergesLocalTools(t *testing.T) {
	srv, keys := newRouterServer(t)
	prov := &fakeProvisioner{url: srv.URL}
	m := NewManager(prov, &fakeRegistry{accounts: testAccounts()})
	t.Cleanup(m.Close)
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "u@x.com", "conv-1")
	require.NoError(t, err)
	again, err := m.GetOrCreate(ctx, "u@x.com", "conv-1")
	require.NoError(t, err)

	assert.Same(t, s, again)
	assert.Equal(t, 1, prov.callCount())
	assert.Equal(t, [][]string{{"gmail", "notion"}}, prov.toolkits)
	assert.Equal(t, "trs_1", s.Handle.SessionID)
	assert.Equal(t, []string{"GMAIL_FAIL", "GMAIL_SEND_EMAIL", RequestUserInputTool, ManageConnectionsTool}, s.Tools.Names())

	require.NotEmpty(t, *keys)
	for _, k := range *keys {
		assert.Equal(t, "test-key", k)
	}

	override, ok := s.Tools.Get(RequestUserInputTool)
	require.True(t, ok)
	assert.NotContains(t, override.Definition().Description, "remote shadow")
}

func TestManager_RemoteToolCalls(t *testing.T) {
	srv, _ := newRouterServer(t)
	m := NewManager(&fakeProvisioner{url: srv.URL}, &fakeRegistry{})
	t.Cleanup(m.Close)
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "u@x.com", "conv-1")
	require.NoError(t, err)

	send, ok := s.Tools.Get("GMAIL_SEND_EMAIL")
	require.True(t, ok)
	assert.Equal(t, "object", send.Definition().JSONSchema["type"])
	out, err := send.Execute(ctx, json.RawMessage(`{"to":"a@b.c"}`))
	require.NoError(t, err)
	assert.Equal(t, "sent\nto a@b.c", out)

	fail, ok := s.Tools.Get("GMAIL_FAIL")
	require.True(t, ok)
	_, err = fail.Execute(ctx, json.RawMessage(`{"to":"a@b.c"}`))
	require.EqualError(t, err, "quota exceeded")
}

func TestManager_EmptyScopeStillProvisions(t *testing.T) {
	srv, _ := newRouterServer(t)
	prov := &fakeProvisioner{url: srv.URL}
	m := NewManager(prov, &fakeRegistry{})
	t.Cleanup(m.Close)

	_, err := m.GetOrCreate(context.Background(), "u@x.com", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{}}, prov.toolkits)
}

func TestManager_ConcurrentFirstCallsShareProvisioning(t *testing.T) {
	srv, _ := newRouterServer(t)
	prov := &fakeProvisioner{url: srv.URL, delay: 50 * time.Millisecond}
	m := NewManager(prov, &fakeRegistry{accounts: testAccounts()})
	t.Cleanup(m.Close)

	var wg sync.WaitGroup
	sessions := make([]*Session, 10)
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.GetOrCreate(context.Background(), "u@x.com", "conv-1")
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, prov.callCount())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestManager_FailuresAreSessionErrors(t *testing.T) {
	upstream := &platform.APIError{Op: "create tool router session", StatusCode: 500, Body: "boom"}
	m := NewManager(&fakeProvisioner{err: upstream}, &fakeRegistry{})
	_, err := m.GetOrCreate(context.Background(), "u@x.com", "conv-1")
	require.ErrorIs(t, err, ErrSessionCreationFailed)
	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)

	regErr := NewManager(&fakeProvisioner{url: "http://unused"}, &fakeRegistry{err: errors.New("list failed")})
	_, err = regErr.GetOrCreate(context.Background(), "u@x.com", "conv-1")
	require.ErrorIs(t, err, ErrSessionCreationFailed)

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	unreachable := NewManager(&fakeProvisioner{url: dead.URL}, &fakeRegistry{})
	_, err = unreachable.GetOrCreate(context.Background(), "u@x.com", "conv-1")
	require.ErrorIs(t, err, ErrSessionCreationFailed)
	assert.Zero(t, unreachable.cache.Len())
}

func TestManager_DisconnectInvalidates(t *testing.T) {
	srv, _ := newRouterServer(t)
	prov := &fakeProvisioner{url: srv.URL}
	m := NewManager(prov, &fakeRegistry{accounts: testAccounts()})
	t.Cleanup(m.Close)
	ctx := context.Background()

	a, err := m.GetOrCreate(ctx, "u@x.com", "conv-1")
	require.NoError(t, err)
	_, err = m.GetOrCreate(ctx, "u@x.com", "conv-2")
	require.NoError(t, err)
	other, err := m.GetOrCreate(ctx, "v@x.com", "conv-1")
	require.NoError(t, err)
	require.Equal(t, 3, prov.callCount())

	m.OnConnectionDeleted(ctx, "u@x.com", "ca_1")
	assert.False(t, other.Closed())

	b, err := m.GetOrCreate(ctx, "u@x.com", "conv-1")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 4, prov.callCount())
}

func TestManager_InvalidationWaitsForInFlightTurn(t *testing.T) {
	srv, _ := newRouterServer(t)
	m := NewManager(&fakeProvisioner{url: srv.URL}, &fakeRegistry{accounts: testAccounts()})
	t.Cleanup(m.Close)
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "u@x.com", "conv-1")
	require.NoError(t, err)
	send, ok := s.Tools.Get("GMAIL_SEND_EMAIL")
	require.True(t, ok)

	m.OnConnectionDeleted(ctx, "u@x.com", "ca_1")
	assert.False(t, s.Closed())

	out, err := send.Execute(ctx, json.RawMessage(`{"to":"a@b.c"}`))
	require.NoError(t, err)
	assert.Equal(t, "sent\nto a@b.c", out)

	s.Release()
	assert.True(t, s.Closed())
	_, err = send.Execute(ctx, json.RawMessage(`{"to":"a@b.c"}`))
	assert.Error(t, err)
}

func TestLocalTools_ManageConnections(t *testing.T) {
	ctx := context.Background()

	tool := LocalTools(&fakeRegistry{accounts: testAccounts()}, "u@x.com", nil)[0]
	out, err := tool.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Active Connections Found:\n- gmail (Status: ACTIVE)\n- gmail (Status: ACTIVE)\n- notion (Status: ACTIVE)\n\nYou can proceed to use tools for these apps immediately.", out)

	none := LocalTools(&fakeRegistry{}, "u@x.com", nil)[0]
	out, err = none.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "No active applications connected. Please ask the user to connect their apps (Gmail, Outlook, etc).", out)

	broken := LocalTools(&fakeRegistry{err: errors.New("down")}, "u@x.com", nil)[0]
	out, err = broken.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Error checking connections. Assume no apps are connected.", out)
}

func TestLocalTools_RequestUserInput(t *testing.T) {
	tool := LocalTools(&fakeRegistry{}, "u@x.com", nil)[1]
	assert.Equal(t, RequestUserInputTool, tool.Definition().Name)
	assert.ElementsMatch(t, []any{"provider", "fields"}, tool.Definition().JSONSchema["required"])

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"provider":"pipedrive","fields":[{"name":"subdomain","label":"Company Subdomain"}],"authConfigId":"ac_1"}`))
	require.NoError(t, err)
	assert.Equal(t, UserInputRequest{
		Type:         "user_input_request",
		Provider:     "pipedrive",
		Fields:       []InputField{{Name: "subdomain", Label: "Company Subdomain"}},
		AuthConfigID: "ac_1",
		Message:      "Requesting user input for pipedrive",
	}, out)

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"fields":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
}
