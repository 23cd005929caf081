package connections

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/rube/platform"
)

func TestEnsure_CreatesOnceThenReuses(t *testing.T) {
	fp := &fakePlatform{}
	m := NewAuthConfigs(fp, nil)
	ctx := context.Background()

	first, err := m.Ensure(ctx, "gmail", nil)
	require.NoError(t, err)
	second, err := m.Ensure(ctx, "GMAIL", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, fp.createAuthCalls, 1)
	assert.Equal(t, "gmail-toolrouter-config", fp.createAuthCalls[0].Name)
	assert.Equal(t, "gmail", fp.createAuthCalls[0].Toolkit)
	assert.Empty(t, fp.createAuthCalls[0].AuthMode)
	assert.Nil(t, fp.createAuthCalls[0].AuthConfig)
}

func TestEnsure_ReusesExistingCaseInsensitive(t *testing.T) {
	fp := &fakePlatform{authConfigs: []platform.AuthConfig{
		{ID: "ac_slack", Toolkit: platform.ToolkitRef{Slug: "slack"}},
		{ID: "ac_gmail", Toolkit: platform.ToolkitRef{Slug: "Gmail"}},
	}}
	id, err := NewAuthConfigs(fp, nil).Ensure(context.Background(), "gmail", nil)
	require.NoError(t, err)
	assert.Equal(t, "ac_gmail", id)
	assert.Empty(t, fp.createAuthCalls)
}

func TestEnsure_CustomCredentials(t *testing.T) {
	fp := &fakePlatform{}
	_, err := NewAuthConfigs(fp, nil).Ensure(context.Background(), "github", &Credentials{ClientID: "cid", ClientSecret: "secret"})
	require.NoError(t, err)

	require.Len(t, fp.createAuthCalls, 1)
	req := fp.createAuthCalls[0]
	assert.Equal(t, "OAUTH2", req.AuthMode)
	require.NotNil(t, req.AuthConfig)
	assert.Equal(t, platform.OAuthCredentials{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "https://backend.composio.dev/api/v3/toolkits/auth/callback",
	}, *req.AuthConfig)
}

func TestEnsure_Validation(t *testing.T) {
	m := NewAuthConfigs(&fakePlatform{}, nil)
	_, err := m.Ensure(context.Background(), "  ", nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = m.Ensure(context.Background(), "github", &Credentials{ClientID: "only-id"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestEnsure_PropagatesUpstreamError(t *testing.T) {
	upstream := &platform.APIError{Op: "list auth configs", StatusCode: http.StatusServiceUnavailable, Body: "maintenance"}
	fp := &fakePlatform{listErr: upstream}
	_, err := NewAuthConfigs(fp, nil).Ensure(context.Background(), "gmail", nil)

	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "maintenance", apiErr.Body)
}

func TestEnsure_NotConfigured(t *testing.T) {
	m := NewAuthConfigs(platform.New(""), nil)
	_, err := m.Ensure(context.Background(), "gmail", nil)
	require.ErrorIs(t, err, platform.ErrNotConfigured)
}

func TestEnsure_ConcurrentCallsCreateAtMostOnce(t *testing.T) {
	fp := &fakePlatform{}
	m := NewAuthConfigs(fp, nil)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.Ensure(context.Background(), "notion", nil)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	assert.Len(t, fp.createAuthCalls, 1)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func waitEntered(t *testing.T, fp *fakePlatform) {
	t.Helper()
	select {
	case <-fp.createEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("create auth config was not called")
	}
}

func TestEnsure_CredentialsNeverJoinManagedCreate(t *testing.T) {
	fp := &fakePlatform{createEntered: make(chan struct{}, 2), createGate: make(chan struct{})}
	m := NewAuthConfigs(fp, nil)
	ctx := context.Background()

	managed := make(chan error, 1)
	go func() {
		_, err := m.Ensure(ctx, "jira", nil)
		managed <- err
	}()
	waitEntered(t, fp)

	custom := make(chan string, 1)
	go func() {
		id, err := m.Ensure(ctx, "jira", &Credentials{ClientID: "cid", ClientSecret: "secret"})
		assert.NoError(t, err)
		custom <- id
	}()
	waitEntered(t, fp)
	close(fp.createGate)

	require.NoError(t, <-managed)
	id := <-custom

	fp.mu.Lock()
	defer fp.mu.Unlock()
	require.Len(t, fp.createAuthCalls, 2)
	var oauth []string
	for i, req := range fp.createAuthCalls {
		if req.AuthMode == "OAUTH2" {
			oauth = append(oauth, fp.authConfigs[i].ID)
			require.NotNil(t, req.AuthConfig)
			assert.Equal(t, "cid", req.AuthConfig.ClientID)
		}
	}
	assert.Equal(t, []string{id}, oauth)
}

func TestEnsure_SharedCreateSurvivesLeaderCancellation(t *testing.T) {
	fp := &fakePlatform{createEntered: make(chan struct{}, 1), createGate: make(chan struct{})}
	m := NewAuthConfigs(fp, nil)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := m.Ensure(leaderCtx, "jira", nil)
		leader <- err
	}()
	waitEntered(t, fp)

	follower := make(chan string, 1)
	go func() {
		id, err := m.Ensure(context.Background(), "jira", nil)
		assert.NoError(t, err)
		follower <- id
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(fp.createGate)

	require.NoError(t, <-leader)
	assert.Equal(t, "ac_1", <-follower)
	fp.mu.Lock()
	defer fp.mu.Unlock()
	assert.Len(t, fp.createAuthCalls, 1)
}
