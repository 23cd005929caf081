package platform

import (
	"encoding/json"
	"strings"
)

type ConnectionStatus string

const (
	StatusInitiated ConnectionStatus = "INITIATED"
	StatusPending   ConnectionStatus = "PENDING"
	StatusActive    ConnectionStatus = "ACTIVE"
	StatusFailed    ConnectionStatus = "FAILED"
	StatusExpired   ConnectionStatus = "EXPIRED"
	// StatusUnknown marks an account whose details could not be fetched.
	StatusUnknown ConnectionStatus = "UNKNOWN"
)

// Terminal reports whether the platform will not move the account further.
func (s ConnectionStatus) Terminal() bool {
	return s == StatusActive || s == StatusFailed || s == StatusExpired
}

type ToolkitRef struct {
	Slug string `json:"slug"`
	Logo string `json:"logo,omitempty"`
}

type Category struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type ToolkitMeta struct {
	Description string     `json:"description,omitempty"`
	Logo        string     `json:"logo,omitempty"`
	Categories  []Category `json:"categories,omitempty"`
	ToolsCount  float64    `json:"tools_count,omitempty"`
}

type Toolkit struct {
	Slug                       string      `json:"slug"`
	Name                       string      `json:"name"`
	Meta                       ToolkitMeta `json:"meta"`
	AuthSchemes                []string    `json:"auth_schemes,omitempty"`
	ComposioManagedAuthSchemes []string    `json:"composio_managed_auth_schemes,omitempty"`
	NoAuth                     bool        `json:"no_auth,omitempty"`
}

type ToolkitPage struct {
	Items      []Toolkit `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
	TotalItems int       `json:"total_items,omitempty"`
}

type AuthConfig struct {
	ID                string     `json:"id"`
	Name              string     `json:"name,omitempty"`
	Toolkit           ToolkitRef `json:"toolkit"`
	AuthScheme        string     `json:"auth_scheme,omitempty"`
	IsComposioManaged bool       `json:"is_composio_managed,omitempty"`
	Status            string     `json:"status,omitempty"`
}

// MatchesToolkit compares toolkit slugs case-insensitively.
func (a AuthConfig) MatchesToolkit(slug string) bool {
	return a.Toolkit.Slug != "" && strings.EqualFold(a.Toolkit.Slug, strings.TrimSpace(slug))
}

type OAuthCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

type CreateAuthConfigRequest struct {
	Toolkit    string            `json:"toolkit"`
	Name       string            `json:"name"`
	AuthMode   string            `json:"auth_mode,omitempty"`
	AuthConfig *OAuthCredentials `json:"auth_config,omitempty"`
}

type AuthConfigRef struct {
	ID string `json:"id"`
}

type ConnectedAccount struct {
	ID         string           `json:"id"`
	Status     ConnectionStatus `json:"status"`
	UserID     string           `json:"user_id,omitempty"`
	AppName    string           `json:"appName,omitempty"`
	Toolkit    ToolkitRef       `json:"toolkit"`
	AuthConfig AuthConfigRef    `json:"auth_config"`
	CreatedAt  string           `json:"created_at,omitempty"`
	UpdatedAt  string           `json:"updated_at,omitempty"`
}

// ToolkitSlug prefers the toolkit reference and falls back to the legacy
// app name field.
func (a ConnectedAccount) ToolkitSlug() string {
	if a.Toolkit.Slug != "" {
		return a.Toolkit.Slug
	}
	return a.AppName
}

// ConnectionRequest is the platform's answer to creating or linking a
// connected account.
type ConnectionRequest struct {
	ID               string `json:"id"`
	ConnectionStatus string `json:"connectionStatus,omitempty"`
	RedirectURL      string `json:"redirectUrl,omitempty"`
}

func (r *ConnectionRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID                 string `json:"id"`
		ConnectedAccountID string `json:"connected_account_id"`
		ConnectionStatus   string `json:"connectionStatus"`
		Status             string `json:"status"`
		RedirectURL        string `json:"redirectUrl"`
		RedirectURLSnake   string `json:"redirect_url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = firstNonEmpty(raw.ID, raw.ConnectedAccountID)
	r.ConnectionStatus = firstNonEmpty(raw.ConnectionStatus, raw.Status)
	r.RedirectURL = firstNonEmpty(raw.RedirectURL, raw.RedirectURLSnake)
	return nil
}

type LinkRequest struct {
	AuthConfigID string `json:"auth_config_id"`
	UserID       string `json:"user_id"`
	CallbackURL  string `json:"callback_url,omitempty"`
}

// ToolRouterSession is a remote MCP endpoint scoped to a set of toolkits.
type ToolRouterSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

func (s *ToolRouterSession) UnmarshalJSON(data []byte) error {
	var raw struct {
		SessionID      string `json:"sessionId"`
		SessionIDSnake string `json:"session_id"`
		URL            string `json:"url"`
		MCP            struct {
			URL string `json:"url"`
		} `json:"mcp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.SessionID = firstNonEmpty(raw.SessionID, raw.SessionIDSnake)
	s.URL = firstNonEmpty(raw.URL, raw.MCP.URL)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
