package connections

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/platform"
)

const (
	DefaultIdentity    = "default"
	DefaultMaxAttempts = 30
	DefaultInterval    = 2 * time.Second
)

// Initiation is the outcome of starting a connection.
type Initiation struct {
	ConnectedAccountID string `json:"connectedAccountId"`
	RequiresRedirect   bool   `json:"requiresRedirect"`
	RedirectURL        string `json:"redirectUrl,omitempty"`
	ConnectionStatus   string `json:"connectionStatus,omitempty"`
}

// Controller starts connections and waits for them to settle.
type Controller struct {
	auth            *AuthConfigs
	platform        Platform
	registry        *Registry
	signals         *Signals
	logger          *zap.Logger
	requireIdentity bool
	waitDefaults    WaitOptions
	after           func(time.Duration) <-chan time.Time
}

type ControllerOption func(*Controller)

// WithRequireIdentity controls whether a missing identity is rejected (true)
// or replaced by DefaultIdentity (false).
func WithRequireIdentity(required bool) ControllerOption {
	return func(c *Controller) { c.requireIdentity = required }
}

func WithSignals(s *Signals) ControllerOption {
	return func(c *Controller) { c.signals = s }
}

func WithControllerLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithWaitDefaults(opts WaitOptions) ControllerOption {
	return func(c *Controller) { c.waitDefaults = opts.normalize(c.waitDefaults) }
}

func NewController(p Platform, auth *AuthConfigs, registry *Registry, opts ...ControllerOption) *Controller {
	c := &Controller{
		auth:            auth,
		platform:        p,
		registry:        registry,
		logger:          zap.NewNop(),
		requireIdentity: true,
		waitDefaults:    WaitOptions{MaxAttempts: DefaultMaxAttempts, Interval: DefaultInterval},
		after:           time.After,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveIdentity applies the identity policy.
func (c *Controller) ResolveIdentity(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity != "" {
		return identity, nil
	}
	if c.requireIdentity {
		return "", ErrIdentityRequired
	}
	return DefaultIdentity, nil
}

// Initiate starts a connection of identity to the toolkit slug. The toolkit
// must already have an auth config; none is created here.
func (c *Controller) Initiate(ctx context.Context, slug, identity string) (Initiation, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Initiation{}, &ValidationError{Field: "appSlug", Message: "App slug is required"}
	}
	entity, err := c.ResolveIdentity(identity)
	if err != nil {
		return Initiation{}, err
	}

	cfg, found, err := c.auth.Find(ctx, slug)
	if err != nil {
		return Initiation{}, fmt.Errorf("fetch auth configs: %w", err)
	}
	if !found {
		c.logger.Warn("no auth config for toolkit", zap.String("toolkit", slug))
		return Initiation{}, &NoAuthConfigError{Slug: slug}
	}

	req, err := c.platform.CreateConnectedAccount(ctx, cfg.ID, entity)
	if err != nil {
		return Initiation{}, fmt.Errorf("initiate connection: %w", err)
	}
	c.logger.Info("connection initiated",
		zap.String("toolkit", slug),
		zap.String("authConfigId", cfg.ID),
		zap.String("connectedAccountId", req.ID),
		zap.Bool("redirect", req.RedirectURL != ""),
	)
	return Initiation{
		ConnectedAccountID: req.ID,
		RequiresRedirect:   req.RedirectURL != "",
		RedirectURL:        req.RedirectURL,
		ConnectionStatus:   req.ConnectionStatus,
	}, nil
}

// Link creates a hosted authorization link for identity under authConfigID.
func (c *Controller) Link(ctx context.Context, identity, authConfigID, callbackURL string) (platform.ConnectionRequest, error) {
	if strings.TrimSpace(authConfigID) == "" {
		return platform.ConnectionRequest{}, &ValidationError{Field: "authConfigId", Message: "authConfigId is required"}
	}
	entity, err := c.ResolveIdentity(identity)
	if err != nil {
		return platform.ConnectionRequest{}, err
	}
	req, err := c.platform.LinkConnectedAccount(ctx, platform.LinkRequest{
		AuthConfigID: strings.TrimSpace(authConfigID),
		UserID:       entity,
		CallbackURL:  callbackURL,
	})
	if err != nil {
		return platform.ConnectionRequest{}, fmt.Errorf("create auth link: %w", err)
	}
	return req, nil
}
