// Package hybrid fronts the durable store with a conversation cache.
// Writes go to the durable store first; cache failures are logged and never
// fail the call.
package hybrid

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/state"
)

// Cache is the subset of the Redis store the hybrid store needs.
type Cache interface {
	GetConversation(ctx context.Context, id string) (state.Conversation, error)
	PutConversation(ctx context.Context, conv state.Conversation) error
	CachedMessages(ctx context.Context, conversationID string) ([]state.Message, bool, error)
	ReplaceMessages(ctx context.Context, conversationID string, msgs []state.Message) error
	ForgetMessages(ctx context.Context, conversationID string) error
	Close() error
}

type HybridStore struct {
	durable state.Store
	cache   Cache
	logger  *zap.Logger
}

var _ state.Store = (*HybridStore)(nil)

// New accepts a nil cache, in which case every call goes to durable.
func New(durable state.Store, cache Cache, logger *zap.Logger) (*HybridStore, error) {
	if durable == nil {
		return nil, fmt.Errorf("durable store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridStore{durable: durable, cache: cache, logger: logger}, nil
}

func (h *HybridStore) CreateConversation(ctx context.Context, conv state.Conversation) (state.Conversation, error) {
	created, err := h.durable.CreateConversation(ctx, conv)
	if err != nil {
		return state.Conversation{}, err
	}
	if h.cache != nil {
		if err := h.cache.PutConversation(ctx, created); err != nil {
			h.logger.Warn("cache put conversation failed", zap.String("conversationId", created.ID), zap.Error(err))
		}
	}
	return created, nil
}

func (h *HybridStore) GetConversation(ctx context.Context, id string) (state.Conversation, error) {
	if h.cache != nil {
		conv, err := h.cache.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, state.ErrNotFound) {
			h.logger.Warn("cache get conversation failed", zap.String("conversationId", id), zap.Error(err))
		}
	}

	conv, err := h.durable.GetConversation(ctx, id)
	if err != nil {
		return state.Conversation{}, err
	}
	if h.cache != nil {
		if err := h.cache.PutConversation(ctx, conv); err != nil {
			h.logger.Warn("cache backfill conversation failed", zap.String("conversationId", id), zap.Error(err))
		}
	}
	return conv, nil
}

func (h *HybridStore) ListConversations(ctx context.Context, userID string, limit int) ([]state.Conversation, error) {
	return h.durable.ListConversations(ctx, userID, limit)
}

// AddMessage drops the cached message list instead of appending to it, so
// the next read reloads the full history from the durable store.
func (h *HybridStore) AddMessage(ctx context.Context, msg state.Message) (state.Message, error) {
	saved, err := h.durable.AddMessage(ctx, msg)
	if err != nil {
		return state.Message{}, err
	}
	if h.cache != nil {
		if err := h.cache.ForgetMessages(ctx, saved.ConversationID); err != nil {
			h.logger.Warn("cache drop messages failed", zap.String("conversationId", saved.ConversationID), zap.Error(err))
		}
		if conv, err := h.durable.GetConversation(ctx, saved.ConversationID); err == nil {
			if err := h.cache.PutConversation(ctx, conv); err != nil {
				h.logger.Warn("cache put conversation failed", zap.String("conversationId", conv.ID), zap.Error(err))
			}
		}
	}
	return saved, nil
}

func (h *HybridStore) ListMessages(ctx context.Context, conversationID string) ([]state.Message, error) {
	if h.cache != nil {
		msgs, ok, err := h.cache.CachedMessages(ctx, conversationID)
		if err != nil {
			h.logger.Warn("cache list messages failed", zap.String("conversationId", conversationID), zap.Error(err))
		} else if ok {
			return msgs, nil
		}
	}

	msgs, err := h.durable.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if h.cache != nil && len(msgs) > 0 {
		if err := h.cache.ReplaceMessages(ctx, conversationID, msgs); err != nil {
			h.logger.Warn("cache backfill messages failed", zap.String("conversationId", conversationID), zap.Error(err))
		}
	}
	return msgs, nil
}

func (h *HybridStore) ListRecipes(ctx context.Context, query state.RecipeQuery) ([]state.Recipe, error) {
	return h.durable.ListRecipes(ctx, query)
}

func (h *HybridStore) GetRecipe(ctx context.Context, id string) (state.Recipe, error) {
	return h.durable.GetRecipe(ctx, id)
}

func (h *HybridStore) RecipeCategories(ctx context.Context) ([]string, error) {
	return h.durable.RecipeCategories(ctx)
}

func (h *HybridStore) CreateRecipe(ctx context.Context, recipe state.Recipe) (state.Recipe, error) {
	return h.durable.CreateRecipe(ctx, recipe)
}

func (h *HybridStore) UpdateRecipe(ctx context.Context, id string, update state.RecipeUpdate) (state.Recipe, error) {
	return h.durable.UpdateRecipe(ctx, id, update)
}

func (h *HybridStore) DeleteRecipe(ctx context.Context, id string) error {
	return h.durable.DeleteRecipe(ctx, id)
}

func (h *HybridStore) Close() error {
	var errs []error
	if h.cache != nil {
		errs = append(errs, h.cache.Close())
	}
	errs = append(errs, h.durable.Close())
	return errors.Join(errs...)
}
