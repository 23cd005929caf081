// Package auth resolves API keys to users.
package auth

import (
	"context"
	"errors"
)

var (
	// ErrInvalidKey covers unknown, empty and disabled keys alike.
	ErrInvalidKey  = errors.New("invalid api key")
	ErrKeyNotFound = errors.New("api key not found")
)

type Store interface {
	// CreateKey issues a key for email, reusing the user id of any earlier
	// key with the same email.
	CreateKey(ctx context.Context, email, label string) (KeyWithSecret, error)
	ListKeys(ctx context.Context) ([]APIKey, error)
	DisableKey(ctx context.Context, id string) error
	VerifyKey(ctx context.Context, secret string) (APIKey, error)
	Close() error
}
