// Package state persists conversations, messages and recipes.
package state

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("state: not found")
	ErrConflict = errors.New("state: conflict")
)

// ChatStore holds conversation history. Messages are returned oldest first,
// conversations newest first by last update.
type ChatStore interface {
	CreateConversation(ctx context.Context, conv Conversation) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error)
	AddMessage(ctx context.Context, msg Message) (Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	Close() error
}

type RecipeQuery struct {
	Category     string
	FeaturedOnly bool
}

// RecipeStore only ever returns active recipes; DeleteRecipe deactivates.
type RecipeStore interface {
	ListRecipes(ctx context.Context, query RecipeQuery) ([]Recipe, error)
	GetRecipe(ctx context.Context, id string) (Recipe, error)
	RecipeCategories(ctx context.Context) ([]string, error)
	CreateRecipe(ctx context.Context, recipe Recipe) (Recipe, error)
	UpdateRecipe(ctx context.Context, id string, update RecipeUpdate) (Recipe, error)
	DeleteRecipe(ctx context.Context, id string) error
}

type Store interface {
	ChatStore
	RecipeStore
}
