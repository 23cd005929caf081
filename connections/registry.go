package connections

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PipeOpsHQ/rube/platform"
)

const defaultDetailConcurrency = 8

// Account is a connected account as presented to clients.
type Account struct {
	ID           string                    `json:"id"`
	AppName      string                    `json:"appName"`
	Status       platform.ConnectionStatus `json:"status"`
	AuthConfigID string                    `json:"authConfigId,omitempty"`
	CreatedAt    string                    `json:"createdAt"`
}

// DeleteHook runs after a connected account was deleted on the platform.
type DeleteHook func(ctx context.Context, identity, accountID string)

type Registry struct {
	platform    Platform
	logger      *zap.Logger
	concurrency int
	now         func() time.Time

	mu    sync.RWMutex
	hooks []DeleteHook
}

type RegistryOption func(*Registry)

func WithDetailConcurrency(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRegistry(p Platform, opts ...RegistryOption) *Registry {
	r := &Registry{
		platform:    p,
		logger:      zap.NewNop(),
		concurrency: defaultDetailConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnDelete registers a hook fired after every successful delete.
func (r *Registry) OnDelete(hook DeleteHook) {
	if hook == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// List returns every account of identity, enriched by a per-account detail
// fetch. A failed detail fetch degrades that account to StatusUnknown with
// its list-level fields; it never fails the whole list.
func (r *Registry) List(ctx context.Context, identity string) ([]Account, error) {
	items, err := r.platform.ListConnectedAccounts(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("list connected accounts: %w", err)
	}

	out := make([]Account, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, item := range items {
		g.Go(func() error {
			detail, err := r.platform.GetConnectedAccount(gctx, item.ID)
			if err != nil {
				r.logger.Warn("connected account detail fetch failed",
					zap.String("accountId", item.ID),
					zap.Error(err),
				)
				out[i] = r.degraded(item)
				return nil
			}
			out[i] = toAccount(detail, r.now)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// ActiveToolkits returns the unique toolkit slugs with an ACTIVE account, in
// list order. It uses list-level status only.
func (r *Registry) ActiveToolkits(ctx context.Context, identity string) ([]string, error) {
	accounts, err := r.ListActive(ctx, identity)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(accounts))
	slugs := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		slug := acc.ToolkitSlug()
		if slug == "" {
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		slugs = append(slugs, slug)
	}
	return slugs, nil
}

// ListActive returns the identity's ACTIVE accounts straight from the list
// call, without detail enrichment.
func (r *Registry) ListActive(ctx context.Context, identity string) ([]platform.ConnectedAccount, error) {
	items, err := r.platform.ListConnectedAccounts(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("list connected accounts: %w", err)
	}
	active := make([]platform.ConnectedAccount, 0, len(items))
	for _, item := range items {
		if item.Status == platform.StatusActive {
			active = append(active, item)
		}
	}
	return active, nil
}

// Get fetches one account. A platform 404 matches platform.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (platform.ConnectedAccount, error) {
	if strings.TrimSpace(id) == "" {
		return platform.ConnectedAccount{}, &ValidationError{Field: "connectionId", Message: "connectionId is required"}
	}
	acc, err := r.platform.GetConnectedAccount(ctx, id)
	if err != nil {
		return platform.ConnectedAccount{}, fmt.Errorf("get connected account %s: %w", id, err)
	}
	return acc, nil
}

// GetOwned fetches one account and fails with ErrAccountNotFound when it
// belongs to someone other than identity. An empty identity skips the check.
func (r *Registry) GetOwned(ctx context.Context, identity, id string) (platform.ConnectedAccount, error) {
	acc, err := r.Get(ctx, id)
	if err != nil {
		return platform.ConnectedAccount{}, err
	}
	if !OwnedBy(acc, identity) {
		r.logger.Warn("connected account requested by non-owner", zap.String("accountId", id), zap.String("identity", identity))
		return platform.ConnectedAccount{}, fmt.Errorf("get connected account %s: %w", id, ErrAccountNotFound)
	}
	return acc, nil
}

// OwnedBy reports whether acc belongs to identity. An empty identity matches
// every account.
func OwnedBy(acc platform.ConnectedAccount, identity string) bool {
	identity = strings.TrimSpace(identity)
	return identity == "" || strings.EqualFold(strings.TrimSpace(acc.UserID), identity)
}

// Delete removes the account on the platform once it is confirmed to belong
// to identity. Platform errors, including a 404 for an already-deleted
// account, are returned unchanged. Hooks receive the owner's identity.
func (r *Registry) Delete(ctx context.Context, identity, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "accountId", Message: "accountId is required"}
	}
	acc, err := r.GetOwned(ctx, identity, id)
	if err != nil {
		return err
	}
	if err := r.platform.DeleteConnectedAccount(ctx, id); err != nil {
		return fmt.Errorf("delete connected account %s: %w", id, err)
	}
	owner := strings.TrimSpace(acc.UserID)
	if owner == "" {
		owner = identity
	}
	r.logger.Info("connected account deleted", zap.String("accountId", id), zap.String("identity", owner))

	r.mu.RLock()
	hooks := append([]DeleteHook(nil), r.hooks...)
	r.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, owner, id)
	}
	return nil
}

func (r *Registry) degraded(item platform.ConnectedAccount) Account {
	created := item.CreatedAt
	if created == "" {
		created = r.now().Format(time.RFC3339Nano)
	}
	return Account{
		ID:           item.ID,
		AppName:      item.ToolkitSlug(),
		Status:       platform.StatusUnknown,
		AuthConfigID: item.AuthConfig.ID,
		CreatedAt:    created,
	}
}

func toAccount(in platform.ConnectedAccount, now func() time.Time) Account {
	created := in.CreatedAt
	if created == "" {
		created = now().Format(time.RFC3339Nano)
	}
	return Account{
		ID:           in.ID,
		AppName:      in.ToolkitSlug(),
		Status:       in.Status,
		AuthConfigID: in.AuthConfig.ID,
		CreatedAt:    created,
	}
}
