package state

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultTitle   = "New Conversation"
	maxTitleLength = 50
)

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type RecipeApp struct {
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

type Recipe struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Apps           []RecipeApp `json:"apps"`
	Category       string      `json:"category"`
	PromptTemplate string      `json:"prompt_template"`
	IsFeatured     bool        `json:"is_featured"`
	IsActive       bool        `json:"is_active"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// RecipeUpdate is a partial update; nil fields are left unchanged.
type RecipeUpdate struct {
	Title          *string      `json:"title,omitempty"`
	Description    *string      `json:"description,omitempty"`
	Apps           *[]RecipeApp `json:"apps,omitempty"`
	Category       *string      `json:"category,omitempty"`
	PromptTemplate *string      `json:"prompt_template,omitempty"`
	IsFeatured     *bool        `json:"is_featured,omitempty"`
	IsActive       *bool        `json:"is_active,omitempty"`
}

// Apply returns r with the update's non-nil fields set.
func (u RecipeUpdate) Apply(r Recipe) Recipe {
	if u.Title != nil {
		r.Title = *u.Title
	}
	if u.Description != nil {
		r.Description = *u.Description
	}
	if u.Apps != nil {
		r.Apps = *u.Apps
	}
	if u.Category != nil {
		r.Category = *u.Category
	}
	if u.PromptTemplate != nil {
		r.PromptTemplate = *u.PromptTemplate
	}
	if u.IsFeatured != nil {
		r.IsFeatured = *u.IsFeatured
	}
	if u.IsActive != nil {
		r.IsActive = *u.IsActive
	}
	return r
}

// TitleFromMessage derives a conversation title from the first line of a
// message, cut to 50 characters with a trailing ellipsis.
func TitleFromMessage(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(line) <= maxTitleLength {
		return line
	}
	runes := []rune(line)
	return string(runes[:maxTitleLength]) + "..."
}
