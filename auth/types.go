package auth

import "time"

// User is the principal behind an API key. Email doubles as the entity id
// on the integration platform.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Email      string     `json:"email"`
	Label      string     `json:"label,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	DisabledAt *time.Time `json:"disabledAt,omitempty"`
}

func (k APIKey) User() User {
	return User{ID: k.UserID, Email: k.Email}
}

type KeyWithSecret struct {
	APIKey
	Secret string `json:"secret"`
}
