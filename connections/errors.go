package connections

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrIdentityRequired = errors.New("user identity is required")
	ErrNoAuthConfig     = errors.New("no auth config found for this app")
	// ErrAccountNotFound hides accounts owned by another identity.
	ErrAccountNotFound = errors.New("connected account not found")
)

// ValidationError names the request field that was missing or malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is required", e.Field)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NoAuthConfigError struct {
	Slug string
}

func (e *NoAuthConfigError) Error() string { return ErrNoAuthConfig.Error() }

func (e *NoAuthConfigError) Is(target error) bool { return target == ErrNoAuthConfig }

// Details is the user-facing remedy.
func (e *NoAuthConfigError) Details() string {
	return fmt.Sprintf("Please create an auth config for %s in your Composio dashboard first.", e.Slug)
}
