package auth

import (
	"context"
	"net/http"
	"strings"
)

// ExtractAPIKey reads the key from the Authorization bearer token, the
// X-API-Key header or the api_key query parameter, in that order.
func ExtractAPIKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		if key := strings.TrimSpace(authz[7:]); key != "" {
			return key
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}

type userKey struct{}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}
