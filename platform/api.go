package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

func (c *Client) ListToolkits(ctx context.Context) (ToolkitPage, error) {
	var page ToolkitPage
	if err := c.do(ctx, "list toolkits", http.MethodGet, "/api/v3/toolkits", nil, nil, &page); err != nil {
		return ToolkitPage{}, err
	}
	if page.Items == nil {
		page.Items = []Toolkit{}
	}
	return page, nil
}

func (c *Client) ListAuthConfigs(ctx context.Context) ([]AuthConfig, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "list auth configs", http.MethodGet, "/api/v3/auth_configs", nil, nil, &raw); err != nil {
		return nil, err
	}
	items, err := decodeItems[AuthConfig](raw)
	if err != nil {
		return nil, fmt.Errorf("composio list auth configs: %w", err)
	}
	return items, nil
}

func (c *Client) CreateAuthConfig(ctx context.Context, req CreateAuthConfigRequest) (AuthConfig, error) {
	if strings.TrimSpace(req.Toolkit) == "" {
		return AuthConfig{}, fmt.Errorf("toolkit is required")
	}
	var out struct {
		AuthConfig
		Nested *AuthConfig `json:"auth_config"`
	}
	if err := c.do(ctx, "create auth config", http.MethodPost, "/api/v1/auth_configs", nil, req, &out); err != nil {
		return AuthConfig{}, err
	}
	created := out.AuthConfig
	if created.ID == "" && out.Nested != nil {
		created = *out.Nested
	}
	if created.ID == "" {
		return AuthConfig{}, fmt.Errorf("composio create auth config: response had no id")
	}
	if created.Name == "" {
		created.Name = req.Name
	}
	if created.Toolkit.Slug == "" {
		created.Toolkit.Slug = req.Toolkit
	}
	return created, nil
}

func (c *Client) CreateConnectedAccount(ctx context.Context, authConfigID, entityID string) (ConnectionRequest, error) {
	body := map[string]any{
		"auth_config": map[string]string{"id": authConfigID},
		"connection":  map[string]string{"entityId": entityID},
	}
	var out ConnectionRequest
	if err := c.do(ctx, "create connected account", http.MethodPost, "/api/v3/connected_accounts", nil, body, &out); err != nil {
		return ConnectionRequest{}, err
	}
	return out, nil
}

func (c *Client) LinkConnectedAccount(ctx context.Context, req LinkRequest) (ConnectionRequest, error) {
	var out ConnectionRequest
	if err := c.do(ctx, "link connected account", http.MethodPost, "/api/v3/connected_accounts/link", nil, req, &out); err != nil {
		return ConnectionRequest{}, err
	}
	return out, nil
}

func (c *Client) ListConnectedAccounts(ctx context.Context, userID string) ([]ConnectedAccount, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_ids", userID)
	}
	var raw json.RawMessage
	if err := c.do(ctx, "list connected accounts", http.MethodGet, "/api/v3/connected_accounts", q, nil, &raw); err != nil {
		return nil, err
	}
	items, err := decodeItems[ConnectedAccount](raw)
	if err != nil {
		return nil, fmt.Errorf("composio list connected accounts: %w", err)
	}
	return items, nil
}

func (c *Client) GetConnectedAccount(ctx context.Context, id string) (ConnectedAccount, error) {
	var out ConnectedAccount
	path := "/api/v3/connected_accounts/" + url.PathEscape(id)
	if err := c.do(ctx, "get connected account", http.MethodGet, path, nil, nil, &out); err != nil {
		return ConnectedAccount{}, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return out, nil
}

func (c *Client) DeleteConnectedAccount(ctx context.Context, id string) error {
	path := "/api/v3/connected_accounts/" + url.PathEscape(id)
	return c.do(ctx, "delete connected account", http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) CreateToolRouterSession(ctx context.Context, userID string, toolkits []string) (ToolRouterSession, error) {
	if toolkits == nil {
		toolkits = []string{}
	}
	body := map[string]any{
		"user_id":  userID,
		"toolkits": toolkits,
	}
	var out ToolRouterSession
	if err := c.do(ctx, "create tool router session", http.MethodPost, "/api/v3/tool_router/session", nil, body, &out); err != nil {
		return ToolRouterSession{}, err
	}
	if out.URL == "" {
		return ToolRouterSession{}, fmt.Errorf("composio create tool router session: response had no url")
	}
	return out, nil
}

// decodeItems accepts either {"items": [...]} or a bare array. A missing or
// null items field is an empty list.
func decodeItems[T any](raw json.RawMessage) ([]T, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return []T{}, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped struct {
		Items []T `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid list response format: %w", err)
	}
	if wrapped.Items == nil {
		return []T{}, nil
	}
	return wrapped.Items, nil
}
