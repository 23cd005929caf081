package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PipeOpsHQ/rube/state"
)

func newTestRedisStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	prefix := "rube-test-" + uuid.NewString()

	s, err := New(addr, WithPrefix(prefix), WithTTL(5*time.Minute))
	if err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		keys, _ := s.client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			_ = s.client.Del(ctx, keys...).Err()
		}
		_ = s.Close()
	})
	return s
}

func TestRedisStore_ConversationAndMessages(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	first, err := s.CreateConversation(ctx, state.Conversation{UserID: "u1", Title: "first", CreatedAt: base})
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx, state.Conversation{UserID: "u1", Title: "second", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)

	_, err = s.CreateConversation(ctx, state.Conversation{ID: first.ID, UserID: "u1"})
	assert.ErrorIs(t, err, state.ErrConflict)

	_, err = s.AddMessage(ctx, state.Message{ConversationID: first.ID, UserID: "u1", Role: state.RoleUser, Content: "hi", CreatedAt: base.Add(2 * time.Second)})
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, state.Message{ConversationID: first.ID, UserID: "u1", Role: state.RoleAssistant, Content: "hello", CreatedAt: base.Add(3 * time.Second)})
	require.NoError(t, err)

	convs, err := s.ListConversations(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, first.ID, convs[0].ID)
	assert.Equal(t, second.ID, convs[1].ID)

	msgs, err := s.ListMessages(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)

	ttl, err := s.client.TTL(ctx, s.messagesKey(first.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = s.AddMessage(ctx, state.Message{ConversationID: "missing", Role: state.RoleUser})
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRedisStore_CacheHelpers(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	_, cached, err := s.CachedMessages(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, cached)

	require.NoError(t, s.ReplaceMessages(ctx, "c1", []state.Message{{ID: "m1", ConversationID: "c1", Role: state.RoleUser, Content: "a"}}))
	msgs, cached, err := s.CachedMessages(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, cached)
	require.Len(t, msgs, 1)

	require.NoError(t, s.ForgetMessages(ctx, "c1"))
	_, cached, err = s.CachedMessages(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestRedisStore_PrunesExpiredIndexEntries(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, state.Conversation{UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, s.client.Del(ctx, s.conversationKey(conv.ID)).Err())

	convs, err := s.ListConversations(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, convs)

	count, err := s.client.ZCard(ctx, s.userIndexKey("u1")).Result()
	require.NoError(t, err)
	assert.Zero(t, count)
}
