package hybrid

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/rube/state"
	sqlitestore "github.com/PipeOpsHQ/rube/state/sqlite"
)

type memoryCache struct {
	mu         sync.Mutex
	convs      map[string]state.Conversation
	msgs       map[string][]state.Message
	failWrites bool
	reads      int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{convs: map[string]state.Conversation{}, msgs: map[string][]state.Message{}}
}

func (m *memoryCache) GetConversation(_ context.Context, id string) (state.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return state.Conversation{}, state.ErrNotFound
	}
	return conv, nil
}

func (m *memoryCache) PutConversation(_ context.Context, conv state.Conversation) error {
	if m.failWrites {
		return errors.New("write failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conv.ID] = conv
	return nil
}

func (m *memoryCache) CachedMessages(_ context.Context, id string) ([]state.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.msgs[id]
	if ok {
		m.reads++
	}
	return msgs, ok, nil
}

func (m *memoryCache) ReplaceMessages(_ context.Context, id string, msgs []state.Message) error {
	if m.failWrites {
		return errors.New("write failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[id] = append([]state.Message(nil), msgs...)
	return nil
}

func (m *memoryCache) ForgetMessages(_ context.Context, id string) error {
	if m.failWrites {
		return errors.New("write failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.msgs, id)
	return nil
}

func (m *memoryCache) Close() error { return nil }

func newDurable(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.New(filepath.Join(t.TempDir(), "rube.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHybridStore_WritesSurviveCacheFailure(t *testing.T) {
	durable := newDurable(t)
	cache := newMemoryCache()
	cache.failWrites = true
	h, err := New(durable, cache, nil)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := h.CreateConversation(ctx, state.Conversation{UserID: "u1", Title: "t"})
	require.NoError(t, err)
	_, err = h.AddMessage(ctx, state.Message{ConversationID: conv.ID, UserID: "u1", Role: state.RoleUser, Content: "hi"})
	require.NoError(t, err)

	msgs, err := durable.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHybridStore_BackfillsAndInvalidatesMessages(t *testing.T) {
	durable := newDurable(t)
	cache := newMemoryCache()
	h, err := New(durable, cache, nil)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := durable.CreateConversation(ctx, state.Conversation{UserID: "u1"})
	require.NoError(t, err)
	_, err = durable.AddMessage(ctx, state.Message{ConversationID: conv.ID, UserID: "u1", Role: state.RoleUser, Content: "one"})
	require.NoError(t, err)

	got, err := h.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	_, cached := cache.convs[conv.ID]
	assert.True(t, cached, "conversation backfilled")

	msgs, err := h.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	msgs, err = h.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, cache.reads, "second read served from cache")

	_, err = h.AddMessage(ctx, state.Message{ConversationID: conv.ID, UserID: "u1", Role: state.RoleAssistant, Content: "two"})
	require.NoError(t, err)
	msgs, err = h.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "stale list dropped on write")
}

func TestHybridStore_FailsWhenDurableFails(t *testing.T) {
	h, err := New(newDurable(t), newMemoryCache(), nil)
	require.NoError(t, err)

	_, err = h.AddMessage(context.Background(), state.Message{ConversationID: "missing", Role: state.RoleUser})
	assert.ErrorIs(t, err, state.ErrNotFound)

	_, err = New(nil, nil, nil)
	assert.Error(t, err)
}

func TestHybridStore_WithoutCache(t *testing.T) {
	h, err := New(newDurable(t), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	conv, err := h.CreateConversation(ctx, state.Conversation{UserID: "u1"})
	require.NoError(t, err)
	_, err = h.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	msgs, err := h.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
