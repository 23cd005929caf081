package connections

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/PipeOpsHQ/rube/platform"
)

const authConfigNameSuffix = "-toolrouter-config"

// Credentials are custom OAuth2 client credentials supplied by the user.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// AuthConfigs finds or lazily creates the auth config for a toolkit.
type AuthConfigs struct {
	platform Platform
	logger   *zap.Logger
	group    singleflight.Group
}

func NewAuthConfigs(p Platform, logger *zap.Logger) *AuthConfigs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthConfigs{platform: p, logger: logger}
}

// ConfigName is the name given to configs this service creates.
func ConfigName(slug string) string {
	return strings.TrimSpace(slug) + authConfigNameSuffix
}

// Find returns the first auth config whose toolkit matches slug.
func (m *AuthConfigs) Find(ctx context.Context, slug string) (platform.AuthConfig, bool, error) {
	configs, err := m.platform.ListAuthConfigs(ctx)
	if err != nil {
		return platform.AuthConfig{}, false, err
	}
	for _, cfg := range configs {
		if cfg.MatchesToolkit(slug) {
			return cfg, true, nil
		}
	}
	return platform.AuthConfig{}, false, nil
}

// Ensure returns the id of a usable auth config for slug, creating one when
// none exists. With creds the new config is a custom OAuth2 config;
// otherwise it uses the platform's managed defaults. Concurrent managed
// calls for the same slug share one lookup-and-create that outlives any
// single caller's cancellation; calls with credentials never join it.
func (m *AuthConfigs) Ensure(ctx context.Context, slug string, creds *Credentials) (string, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return "", &ValidationError{Field: "applicationSlug", Message: "Toolkit slug is required"}
	}
	if creds != nil && (strings.TrimSpace(creds.ClientID) == "" || strings.TrimSpace(creds.ClientSecret) == "") {
		return "", &ValidationError{Field: "credentials", Message: "Toolkit slug, client ID, and client secret are required"}
	}

	var (
		id  string
		err error
	)
	if creds != nil {
		id, err = m.findOrCreate(ctx, slug, creds)
	} else {
		var v any
		v, err, _ = m.group.Do(strings.ToLower(slug), func() (any, error) {
			return m.findOrCreate(context.WithoutCancel(ctx), slug, nil)
		})
		id, _ = v.(string)
	}
	if err != nil {
		return "", fmt.Errorf("ensure auth config for %s: %w", slug, err)
	}
	return id, nil
}

func (m *AuthConfigs) findOrCreate(ctx context.Context, slug string, creds *Credentials) (string, error) {
	existing, found, err := m.Find(ctx, slug)
	if err != nil {
		return "", err
	}
	if found {
		m.logger.Debug("reusing auth config", zap.String("toolkit", slug), zap.String("authConfigId", existing.ID))
		return existing.ID, nil
	}

	req := platform.CreateAuthConfigRequest{
		Toolkit: slug,
		Name:    ConfigName(slug),
	}
	if creds != nil {
		req.AuthMode = "OAUTH2"
		req.AuthConfig = &platform.OAuthCredentials{
			ClientID:     strings.TrimSpace(creds.ClientID),
			ClientSecret: strings.TrimSpace(creds.ClientSecret),
			RedirectURI:  platform.OAuthCallbackURL,
		}
	}
	created, err := m.platform.CreateAuthConfig(ctx, req)
	if err != nil {
		return "", err
	}
	m.logger.Info("created auth config",
		zap.String("toolkit", slug),
		zap.String("authConfigId", created.ID),
		zap.Bool("customCredentials", creds != nil),
	)
	return created.ID, nil
}
