package sqlite

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/rube/auth"
)

//go:embed schema.sql
var schemaSQL string

const keyPrefix = "rk_"

type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("auth sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create auth db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), "PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize auth schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateKey(ctx context.Context, email, label string) (auth.KeyWithSecret, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return auth.KeyWithSecret{}, fmt.Errorf("invalid email %q: %w", email, err)
	}
	email = strings.ToLower(addr.Address)

	secret, err := generateSecret()
	if err != nil {
		return auth.KeyWithSecret{}, err
	}

	userID, err := s.userIDFor(ctx, email)
	if err != nil {
		return auth.KeyWithSecret{}, err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	const q = `INSERT INTO api_keys (id, key_hash, user_id, email, label, created_at) VALUES (?, ?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, q, id, hashSecret(secret), userID, email, label, now.Format(time.RFC3339Nano)); err != nil {
		return auth.KeyWithSecret{}, fmt.Errorf("create key: %w", err)
	}
	return auth.KeyWithSecret{
		APIKey: auth.APIKey{ID: id, UserID: userID, Email: email, Label: label, CreatedAt: now},
		Secret: secret,
	}, nil
}

func (s *Store) userIDFor(ctx context.Context, email string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM api_keys WHERE email = ? ORDER BY created_at ASC LIMIT 1;`, email).Scan(&userID)
	switch {
	case err == nil:
		return userID, nil
	case errors.Is(err, sql.ErrNoRows):
		return uuid.NewString(), nil
	default:
		return "", fmt.Errorf("lookup user: %w", err)
	}
}

const keyColumns = `id, user_id, email, label, created_at, last_used_at, disabled_at`

func (s *Store) ListKeys(ctx context.Context) ([]auth.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC;`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	out := []auth.APIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) DisableKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("key id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET disabled_at = ? WHERE id = ? AND disabled_at IS NULL;`, now, id)
	if err != nil {
		return fmt.Errorf("disable key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key %q: %w", id, auth.ErrKeyNotFound)
	}
	return nil
}

// VerifyKey also records when the key was last used.
func (s *Store) VerifyKey(ctx context.Context, secret string) (auth.APIKey, error) {
	if strings.TrimSpace(secret) == "" {
		return auth.APIKey{}, auth.ErrInvalidKey
	}
	keyHash := hashSecret(secret)
	k, err := scanKey(s.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_hash = ?;`, keyHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.APIKey{}, auth.ErrInvalidKey
		}
		return auth.APIKey{}, fmt.Errorf("verify key: %w", err)
	}
	if k.DisabledAt != nil {
		return auth.APIKey{}, auth.ErrInvalidKey
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?;`, now.Format(time.RFC3339Nano), k.ID); err == nil {
		k.LastUsedAt = &now
	}
	return k, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (auth.APIKey, error) {
	var (
		k          auth.APIKey
		createdRaw string
		usedRaw    sql.NullString
		disRaw     sql.NullString
	)
	if err := row.Scan(&k.ID, &k.UserID, &k.Email, &k.Label, &createdRaw, &usedRaw, &disRaw); err != nil {
		return auth.APIKey{}, err
	}
	k.CreatedAt = parseTime(createdRaw)
	if usedRaw.Valid {
		t := parseTime(usedRaw.String)
		k.LastUsedAt = &t
	}
	if disRaw.Valid {
		t := parseTime(disRaw.String)
		k.DisabledAt = &t
	}
	return k, nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
