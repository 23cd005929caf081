package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), Config{SQLitePath: filepath.Join(t.TempDir(), "rube.db")}, nil)
	require.NoError(t, err)
	defer s.Close()
}

func TestOpen_HybridFallsBackWhenRedisUnavailable(t *testing.T) {
	s, err := Open(context.Background(), Config{
		Backend:    "hybrid",
		SQLitePath: filepath.Join(t.TempDir(), "rube.db"),
		RedisAddr:  "127.0.0.1:1",
	}, nil)
	require.NoError(t, err)
	defer s.Close()
}

func TestOpen_InvalidBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "nope"}, nil)
	assert.Error(t, err)
}
