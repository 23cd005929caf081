// Package sqlite is the durable conversation and recipe store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/rube/state"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultLimit       = 50

	// Fixed width so that stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
	now         func() time.Time
}

var _ state.Store = (*Store)(nil)

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) { s.enableWAL = enabled }
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
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
	now := s.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt

	const q = `
INSERT INTO conversations (id, user_id, title, created_at, updated_at)
VALUES (?, ?, ?, ?, ?);
`
	_, err := s.db.ExecContext(ctx, q, conv.ID, conv.UserID, conv.Title, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return state.Conversation{}, state.ErrConflict
		}
		return state.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (state.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return state.Conversation{}, fmt.Errorf("conversation id is required")
	}
	const q = `
SELECT id, user_id, title, created_at, updated_at
FROM conversations
WHERE id = ?;
`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Conversation{}, state.ErrNotFound
		}
		return state.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]state.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	const q = `
SELECT id, user_id, title, created_at, updated_at
FROM conversations
WHERE user_id = ?
ORDER BY updated_at DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]state.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return out, nil
}

// AddMessage appends a message and bumps the conversation's updated_at in
// the same transaction.
func (s *Store) AddMessage(ctx context.Context, msg state.Message) (state.Message, error) {
	if strings.TrimSpace(msg.ConversationID) == "" {
		return state.Message{}, fmt.Errorf("conversation_id is required")
	}
	if msg.Role != state.RoleUser && msg.Role != state.RoleAssistant {
		return state.Message{}, fmt.Errorf("unsupported message role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return state.Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?;`, formatTime(msg.CreatedAt), msg.ConversationID)
	if err != nil {
		return state.Message{}, fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return state.Message{}, state.ErrNotFound
	}

	const q = `
INSERT INTO messages (id, conversation_id, user_id, role, content, created_at)
VALUES (?, ?, ?, ?, ?, ?);
`
	if _, err := tx.ExecContext(ctx, q, msg.ID, msg.ConversationID, msg.UserID, msg.Role, msg.Content, formatTime(msg.CreatedAt)); err != nil {
		if isUniqueViolation(err) {
			return state.Message{}, state.ErrConflict
		}
		return state.Message{}, fmt.Errorf("failed to save message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return state.Message{}, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]state.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("conversation_id is required")
	}
	const q = `
SELECT id, conversation_id, user_id, role, content, created_at
FROM messages
WHERE conversation_id = ?
ORDER BY created_at ASC, rowid ASC;
`
	rows, err := s.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	out := make([]state.Message, 0)
	for rows.Next() {
		var (
			msg        state.Message
			createdRaw string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &msg.Role, &msg.Content, &createdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if msg.CreatedAt, err = parseTime(createdRaw); err != nil {
			return nil, fmt.Errorf("failed to parse message created_at: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}

const recipeColumns = `id, title, description, apps, category, prompt_template, is_featured, is_active, created_at, updated_at`

func (s *Store) ListRecipes(ctx context.Context, query state.RecipeQuery) ([]state.Recipe, error) {
	where := []string{"is_active = 1"}
	var args []any
	if query.Category != "" {
		where = append(where, "category = ?")
		args = append(args, query.Category)
	}
	if query.FeaturedOnly {
		where = append(where, "is_featured = 1")
	}
	q := "SELECT " + recipeColumns + " FROM recipes WHERE " + strings.Join(where, " AND ") +
		" ORDER BY is_featured DESC, created_at DESC;"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	out := make([]state.Recipe, 0)
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipes: %w", err)
	}
	return out, nil
}

func (s *Store) GetRecipe(ctx context.Context, id string) (state.Recipe, error) {
	r, err := s.loadRecipe(ctx, id)
	if err != nil {
		return state.Recipe{}, err
	}
	if !r.IsActive {
		return state.Recipe{}, state.ErrNotFound
	}
	return r, nil
}

func (s *Store) loadRecipe(ctx context.Context, id string) (state.Recipe, error) {
	if strings.TrimSpace(id) == "" {
		return state.Recipe{}, fmt.Errorf("recipe id is required")
	}
	r, err := scanRecipe(s.db.QueryRowContext(ctx, "SELECT "+recipeColumns+" FROM recipes WHERE id = ?;", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Recipe{}, state.ErrNotFound
		}
		return state.Recipe{}, err
	}
	return r, nil
}

// RecipeCategories returns the distinct categories of active recipes,
// sorted.
func (s *Store) RecipeCategories(ctx context.Context) ([]string, error) {
	const q = `
SELECT DISTINCT category FROM recipes
WHERE is_active = 1
ORDER BY category;
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipe categories: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return out, nil
}

func (s *Store) CreateRecipe(ctx context.Context, r state.Recipe) (state.Recipe, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Apps == nil {
		r.Apps = []state.RecipeApp{}
	}
	appsRaw, err := json.Marshal(r.Apps)
	if err != nil {
		return state.Recipe{}, fmt.Errorf("failed to marshal recipe apps: %w", err)
	}

	q := "INSERT INTO recipes (" + recipeColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);"
	_, err = s.db.ExecContext(ctx, q,
		r.ID, r.Title, r.Description, string(appsRaw), r.Category, r.PromptTemplate,
		boolInt(r.IsFeatured), boolInt(r.IsActive), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return state.Recipe{}, state.ErrConflict
		}
		return state.Recipe{}, fmt.Errorf("failed to create recipe: %w", err)
	}
	return r, nil
}

// UpdateRecipe applies a partial update. Inactive recipes can be updated,
// which is how a soft-deleted recipe is restored.
func (s *Store) UpdateRecipe(ctx context.Context, id string, update state.RecipeUpdate) (state.Recipe, error) {
	current, err := s.loadRecipe(ctx, id)
	if err != nil {
		return state.Recipe{}, err
	}
	r := update.Apply(current)
	r.UpdatedAt = s.now()
	if r.Apps == nil {
		r.Apps = []state.RecipeApp{}
	}
	appsRaw, err := json.Marshal(r.Apps)
	if err != nil {
		return state.Recipe{}, fmt.Errorf("failed to marshal recipe apps: %w", err)
	}

	const q = `
UPDATE recipes SET
  title = ?, description = ?, apps = ?, category = ?, prompt_template = ?,
  is_featured = ?, is_active = ?, updated_at = ?
WHERE id = ?;
`
	_, err = s.db.ExecContext(ctx, q,
		r.Title, r.Description, string(appsRaw), r.Category, r.PromptTemplate,
		boolInt(r.IsFeatured), boolInt(r.IsActive), formatTime(r.UpdatedAt), id,
	)
	if err != nil {
		return state.Recipe{}, fmt.Errorf("failed to update recipe: %w", err)
	}
	return r, nil
}

func (s *Store) DeleteRecipe(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("recipe id is required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE recipes SET is_active = 0, updated_at = ? WHERE id = ?;`, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return state.ErrNotFound
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (state.Conversation, error) {
	var (
		conv                   state.Conversation
		createdRaw, updatedRaw string
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &createdRaw, &updatedRaw); err != nil {
		return state.Conversation{}, err
	}
	var err error
	if conv.CreatedAt, err = parseTime(createdRaw); err != nil {
		return state.Conversation{}, fmt.Errorf("failed to parse conversation created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return state.Conversation{}, fmt.Errorf("failed to parse conversation updated_at: %w", err)
	}
	return conv, nil
}

func scanRecipe(row rowScanner) (state.Recipe, error) {
	var (
		r                      state.Recipe
		appsRaw                string
		featured, active       int
		createdRaw, updatedRaw string
	)
	err := row.Scan(&r.ID, &r.Title, &r.Description, &appsRaw, &r.Category, &r.PromptTemplate,
		&featured, &active, &createdRaw, &updatedRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Recipe{}, err
		}
		return state.Recipe{}, fmt.Errorf("failed to scan recipe row: %w", err)
	}
	if err := json.Unmarshal([]byte(appsRaw), &r.Apps); err != nil {
		return state.Recipe{}, fmt.Errorf("failed to decode recipe apps: %w", err)
	}
	r.IsFeatured = featured != 0
	r.IsActive = active != 0
	if r.CreatedAt, err = parseTime(createdRaw); err != nil {
		return state.Recipe{}, fmt.Errorf("failed to parse recipe created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return state.Recipe{}, fmt.Errorf("failed to parse recipe updated_at: %w", err)
	}
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
