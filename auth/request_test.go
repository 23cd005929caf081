package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		headers map[string]string
		want    string
	}{
		{"bearer", "/api/chat", map[string]string{"Authorization": "Bearer rk_abc"}, "rk_abc"},
		{"bearer case insensitive", "/api/chat", map[string]string{"Authorization": "bearer rk_abc"}, "rk_abc"},
		{"header", "/api/chat", map[string]string{"X-API-Key": " rk_def "}, "rk_def"},
		{"query", "/api/chat?api_key=rk_ghi", nil, "rk_ghi"},
		{"bearer wins", "/api/chat?api_key=q", map[string]string{"Authorization": "Bearer b", "X-API-Key": "h"}, "b"},
		{"basic ignored", "/api/chat", map[string]string{"Authorization": "Basic Zm9v"}, ""},
		{"none", "/api/chat", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractAPIKey(r))
		})
	}
	assert.Empty(t, ExtractAPIKey(nil))
}

func TestUserContext(t *testing.T) {
	_, ok := UserFrom(context.Background())
	assert.False(t, ok)

	ctx := WithUser(context.Background(), User{ID: "u1", Email: "a@b.c"})
	u, ok := UserFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", u.Email)
}
