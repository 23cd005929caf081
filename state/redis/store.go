// Package redis keeps conversation history in Redis with a TTL. It serves
// as a standalone chat store or as the read cache of the hybrid store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/PipeOpsHQ/rube/state"
)

const (
	defaultTTL    = 72 * time.Hour
	defaultLimit  = 50
	defaultPrefix = "rube"
)

type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
}

var _ state.ChatStore = (*Store)(nil)

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) { s.password = password }
}

func WithDB(db int) Option {
	return func(s *Store) { s.db = db }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv state.Conversation) (state.Conversation, error) {
	if strings.TrimSpace(conv.UserID) == "" {
		return state.Conversation{}, fmt.Errorf("user_id is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if strings.TrimSpace(conv.Title) == "" {
		conv.Title = state.DefaultTitle
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	conv.UpdatedAt = conv.CreatedAt

	raw, err := json.Marshal(conv)
	if err != nil {
		return state.Conversation{}, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.conversationKey(conv.ID), string(raw), s.ttl).Result()
	if err != nil {
		return state.Conversation{}, fmt.Errorf("failed to save conversation in redis: %w", err)
	}
	if !ok {
		return state.Conversation{}, state.ErrConflict
	}
	if err := s.index(ctx, conv); err != nil {
		return state.Conversation{}, err
	}
	return conv, nil
}

// PutConversation writes conv unconditionally and refreshes its index entry.
func (s *Store) PutConversation(ctx context.Context, conv state.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.conversationKey(conv.ID), string(raw), s.ttl)
	s.queueIndex(ctx, pipe, conv)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save conversation in redis: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (state.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return state.Conversation{}, fmt.Errorf("conversation id is required")
	}
	raw, err := s.client.Get(ctx, s.conversationKey(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return state.Conversation{}, state.ErrNotFound
		}
		return state.Conversation{}, fmt.Errorf("failed to load conversation from redis: %w", err)
	}
	var conv state.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return state.Conversation{}, fmt.Errorf("failed to decode conversation from redis: %w", err)
	}
	return conv, nil
}

// ListConversations reads the user's index newest first and prunes entries
// whose conversation has expired.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]state.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	idx := s.userIndexKey(userID)
	ids, err := s.client.ZRevRange(ctx, idx, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation ids: %w", err)
	}
	if len(ids) == 0 {
		return []state.Conversation{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.conversationKey(id)
	}
	loaded, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget conversations from redis: %w", err)
	}

	out := make([]state.Conversation, 0, len(loaded))
	var stale []any
	for i, raw := range loaded {
		str, ok := raw.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var conv state.Conversation
		if err := json.Unmarshal([]byte(str), &conv); err != nil {
			continue
		}
		out = append(out, conv)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, idx, stale...).Err()
	}
	return out, nil
}

func (s *Store) AddMessage(ctx context.Context, msg state.Message) (state.Message, error) {
	if msg.Role != state.RoleUser && msg.Role != state.RoleAssistant {
		return state.Message{}, fmt.Errorf("unsupported message role %q", msg.Role)
	}
	conv, err := s.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return state.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	conv.UpdatedAt = msg.CreatedAt

	msgRaw, err := json.Marshal(msg)
	if err != nil {
		return state.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	convRaw, err := json.Marshal(conv)
	if err != nil {
		return state.Message{}, fmt.Errorf("failed to marshal conversation: %w", err)
	}

	listKey := s.messagesKey(conv.ID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, listKey, string(msgRaw))
	pipe.Expire(ctx, listKey, s.ttl)
	pipe.Set(ctx, s.conversationKey(conv.ID), string(convRaw), s.ttl)
	s.queueIndex(ctx, pipe, conv)
	if _, err := pipe.Exec(ctx); err != nil {
		return state.Message{}, fmt.Errorf("failed to save message in redis: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]state.Message, error) {
	msgs, _, err := s.CachedMessages(ctx, conversationID)
	return msgs, err
}

// CachedMessages reports whether a message list is held for the
// conversation, alongside the messages themselves.
func (s *Store) CachedMessages(ctx context.Context, conversationID string) ([]state.Message, bool, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, false, fmt.Errorf("conversation_id is required")
	}
	values, err := s.client.LRange(ctx, s.messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to list messages from redis: %w", err)
	}
	out := make([]state.Message, 0, len(values))
	for _, raw := range values {
		var msg state.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, false, fmt.Errorf("failed to decode message from redis: %w", err)
		}
		out = append(out, msg)
	}
	return out, len(values) > 0, nil
}

// ReplaceMessages swaps the cached message list for msgs.
func (s *Store) ReplaceMessages(ctx context.Context, conversationID string, msgs []state.Message) error {
	key := s.messagesKey(conversationID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(msgs) > 0 {
		values := make([]any, 0, len(msgs))
		for _, msg := range msgs {
			raw, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			values = append(values, string(raw))
		}
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace messages in redis: %w", err)
	}
	return nil
}

func (s *Store) ForgetMessages(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.messagesKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to drop cached messages: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) index(ctx context.Context, conv state.Conversation) error {
	pipe := s.client.TxPipeline()
	s.queueIndex(ctx, pipe, conv)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index conversation: %w", err)
	}
	return nil
}

func (s *Store) queueIndex(ctx context.Context, pipe goredis.Pipeliner, conv state.Conversation) {
	idx := s.userIndexKey(conv.UserID)
	pipe.ZAdd(ctx, idx, goredis.Z{
		Score:  float64(conv.UpdatedAt.UnixMilli()),
		Member: conv.ID,
	})
	pipe.Expire(ctx, idx, s.ttl)
}

func (s *Store) conversationKey(id string) string {
	return fmt.Sprintf("%s:conv:%s", s.prefix, id)
}

func (s *Store) messagesKey(id string) string {
	return fmt.Sprintf("%s:conv:%s:messages", s.prefix, id)
}

func (s *Store) userIndexKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:conversations", s.prefix, userID)
}
