package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/PipeOpsHQ/rube/platform"
)

// fakePlatform is an in-memory platform. getScript, when set, decides the
// result of each GetConnectedAccount call by its 1-based call number.
type fakePlatform struct {
	mu sync.Mutex

	authConfigs  []platform.AuthConfig
	accounts     []platform.ConnectedAccount
	detailErrors map[string]error
	listErr      error
	createErr    error
	deleteErr    error

	getScript func(call int) (platform.ConnectedAccount, error)

	// createEntered receives a value as each CreateAuthConfig call starts;
	// the call then blocks until createGate is closed.
	createEntered chan struct{}
	createGate    chan struct{}

	createAuthCalls []platform.CreateAuthConfigRequest
	createAccCalls  []struct{ AuthConfigID, EntityID string }
	linkCalls       []platform.LinkRequest
	getCalls        int
	deleted         []string
}

func (f *fakePlatform) ListAuthConfigs(ctx context.Context) ([]platform.AuthConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]platform.AuthConfig(nil), f.authConfigs...), nil
}

func (f *fakePlatform) CreateAuthConfig(ctx context.Context, req platform.CreateAuthConfigRequest) (platform.AuthConfig, error) {
	if f.createGate != nil {
		f.createEntered <- struct{}{}
		<-f.createGate
	}
	if err := ctx.Err(); err != nil {
		return platform.AuthConfig{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return platform.AuthConfig{}, f.createErr
	}
	f.createAuthCalls = append(f.createAuthCalls, req)
	cfg := platform.AuthConfig{
		ID:      fmt.Sprintf("ac_%d", len(f.createAuthCalls)),
		Name:    req.Name,
		Toolkit: platform.ToolkitRef{Slug: req.Toolkit},
	}
	f.authConfigs = append(f.authConfigs, cfg)
	return cfg, nil
}

func (f *fakePlatform) CreateConnectedAccount(ctx context.Context, authConfigID, entityID string) (platform.ConnectionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createAccCalls = append(f.createAccCalls, struct{ AuthConfigID, EntityID string }{authConfigID, entityID})
	return platform.ConnectionRequest{
		ID:               "ca_new",
		ConnectionStatus: "INITIATED",
		RedirectURL:      "https://auth.example/oauth?state=1",
	}, nil
}

func (f *fakePlatform) LinkConnectedAccount(ctx context.Context, req platform.LinkRequest) (platform.ConnectionRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkCalls = append(f.linkCalls, req)
	return platform.ConnectionRequest{ID: "ca_link", RedirectURL: "https://auth.example/link"}, nil
}

func (f *fakePlatform) ListConnectedAccounts(ctx context.Context, userID string) ([]platform.ConnectedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []platform.ConnectedAccount{}
	for _, acc := range f.accounts {
		if acc.UserID == "" || acc.UserID == userID {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (f *fakePlatform) GetConnectedAccount(ctx context.Context, id string) (platform.ConnectedAccount, error) {
	f.mu.Lock()
	f.getCalls++
	call := f.getCalls
	script := f.getScript
	f.mu.Unlock()
	if script != nil {
		return script(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.detailErrors[id]; ok {
		return platform.ConnectedAccount{}, err
	}
	for _, acc := range f.accounts {
		if acc.ID == id {
			return acc, nil
		}
	}
	return platform.ConnectedAccount{}, &platform.APIError{Op: "get connected account", StatusCode: 404, Body: "not found"}
}

func (f *fakePlatform) DeleteConnectedAccount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

var errTransient = errors.New("connection reset by peer")
