package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	op     string
	status int
}

type recordingMetrics struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (m *recordingMetrics) ObservePlatformCall(op string, statusCode int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedCall{op: op, status: statusCode})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("test-key", append([]Option{WithBaseURL(srv.URL)}, opts...)...)
}

func TestClient_NotConfigured(t *testing.T) {
	c := New("")
	_, err := c.ListAuthConfigs(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, c.Configured())
}

func TestClient_SendsAPIKeyAndDecodesItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "/api/v3/auth_configs", r.URL.Path)
		_, _ = io.WriteString(w, `{"items":[{"id":"ac_1","name":"gmail-toolrouter-config","toolkit":{"slug":"GMAIL"}}]}`)
	})

	configs, err := c.ListAuthConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "ac_1", configs[0].ID)
	assert.True(t, configs[0].MatchesToolkit("gmail"))
	assert.False(t, configs[0].MatchesToolkit("slack"))
}

func TestClient_AcceptsBareArrayLists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"ac_2","toolkit":{"slug":"slack"}}]`)
	})
	configs, err := c.ListAuthConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "ac_2", configs[0].ID)
}

func TestClient_EmptyListShapes(t *testing.T) {
	for _, body := range []string{`{"items":null}`, `{}`, `{"items":[]}`, `null`} {
		t.Run(body, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			})
			configs, err := c.ListAuthConfigs(context.Background())
			require.NoError(t, err)
			assert.Empty(t, configs)

			accounts, err := c.ListConnectedAccounts(context.Background(), "a@example.com")
			require.NoError(t, err)
			assert.NotNil(t, accounts)
			assert.Empty(t, accounts)
		})
	}
}

func TestClient_RejectsMalformedList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items":"weird"}`)
	})
	_, err := c.ListAuthConfigs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid list response format")
}

func TestClient_APIErrorCarriesStatusAndBody(t *testing.T) {
	metrics := &recordingMetrics{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":"upstream down"}`)
	}, WithMetrics(metrics))

	_, err := c.ListToolkits(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, `{"error":"upstream down"}`, apiErr.Body)
	assert.False(t, errors.Is(err, ErrNotFound))

	require.Len(t, metrics.calls, 1)
	assert.Equal(t, recordedCall{op: "list toolkits", status: http.StatusBadGateway}, metrics.calls[0])
}

func TestClient_GetConnectedAccountNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/connected_accounts/ca_missing", r.URL.Path)
		http.Error(w, `{"message":"Connected account not found"}`, http.StatusNotFound)
	})
	_, err := c.GetConnectedAccount(context.Background(), "ca_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_CreateConnectedAccountBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ac_1", body["auth_config"]["id"])
		assert.Equal(t, "u@x.com", body["connection"]["entityId"])
		_, _ = io.WriteString(w, `{"id":"ca_1","connectionStatus":"INITIATED","redirect_url":"https://auth.example/start"}`)
	})

	req, err := c.CreateConnectedAccount(context.Background(), "ac_1", "u@x.com")
	require.NoError(t, err)
	assert.Equal(t, ConnectionRequest{ID: "ca_1", ConnectionStatus: "INITIATED", RedirectURL: "https://auth.example/start"}, req)
}

func TestClient_ListConnectedAccountsFiltersByUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u@x.com", r.URL.Query().Get("user_ids"))
		_, _ = io.WriteString(w, `{"items":[{"id":"ca_1","status":"ACTIVE","toolkit":{"slug":"gmail"}},{"id":"ca_2","status":"FAILED","appName":"slack"}]}`)
	})
	accounts, err := c.ListConnectedAccounts(context.Background(), "u@x.com")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "gmail", accounts[0].ToolkitSlug())
	assert.Equal(t, "slack", accounts[1].ToolkitSlug())
	assert.Equal(t, StatusActive, accounts[0].Status)
}

func TestClient_CreateAuthConfigReadsNestedID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth_configs", r.URL.Path)
		_, _ = io.WriteString(w, `{"toolkit":{"slug":"gmail"},"auth_config":{"id":"ac_9"}}`)
	})
	created, err := c.CreateAuthConfig(context.Background(), CreateAuthConfigRequest{Toolkit: "gmail", Name: "gmail-toolrouter-config"})
	require.NoError(t, err)
	assert.Equal(t, "ac_9", created.ID)
	assert.Equal(t, "gmail-toolrouter-config", created.Name)
}

func TestClient_CreateToolRouterSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID   string   `json:"user_id"`
			Toolkits []string `json:"toolkits"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u@x.com", body.UserID)
		assert.Equal(t, []string{}, body.Toolkits)
		_, _ = io.WriteString(w, `{"session_id":"trs_1","url":"https://mcp.example/trs_1"}`)
	})
	sess, err := c.CreateToolRouterSession(context.Background(), "u@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, ToolRouterSession{SessionID: "trs_1", URL: "https://mcp.example/trs_1"}, sess)
}

func TestConnectionStatus_Terminal(t *testing.T) {
	assert.True(t, StatusActive.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, StatusInitiated.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusUnknown.Terminal())
}
