package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/rube/auth"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CreateVerifyDisable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateKey(ctx, "Ada@Example.com", "laptop")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Secret, "rk_"))
	assert.Equal(t, "ada@example.com", created.Email)

	verified, err := store.VerifyKey(ctx, created.Secret)
	require.NoError(t, err)
	assert.Equal(t, created.UserID, verified.UserID)
	assert.NotNil(t, verified.LastUsedAt)

	require.NoError(t, store.DisableKey(ctx, created.ID))
	_, err = store.VerifyKey(ctx, created.Secret)
	assert.ErrorIs(t, err, auth.ErrInvalidKey)

	assert.ErrorIs(t, store.DisableKey(ctx, created.ID), auth.ErrKeyNotFound)
}

func TestStore_SecondKeyKeepsUserID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateKey(ctx, "ada@example.com", "")
	require.NoError(t, err)
	second, err := store.CreateKey(ctx, "ADA@example.com", "ci")
	require.NoError(t, err)
	other, err := store.CreateKey(ctx, "bob@example.com", "")
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.NotEqual(t, first.UserID, other.UserID)
	assert.NotEqual(t, first.Secret, second.Secret)

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestStore_RejectsBadInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateKey(ctx, "not-an-email", "")
	assert.Error(t, err)

	_, err = store.VerifyKey(ctx, "")
	assert.ErrorIs(t, err, auth.ErrInvalidKey)
	_, err = store.VerifyKey(ctx, "rk_unknown")
	assert.ErrorIs(t, err, auth.ErrInvalidKey)
}
