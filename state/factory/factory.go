// Package factory opens the configured state backend.
package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/state"
	"github.com/PipeOpsHQ/rube/state/hybrid"
	redisstore "github.com/PipeOpsHQ/rube/state/redis"
	sqlitestore "github.com/PipeOpsHQ/rube/state/sqlite"
)

const (
	BackendSQLite = "sqlite"
	BackendHybrid = "hybrid"
)

type Config struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// Open builds the store for cfg.Backend. The hybrid backend degrades to
// SQLite alone when Redis cannot be reached at startup.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (state.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendSQLite
	}

	switch backend {
	case BackendSQLite:
		return sqlitestore.New(cfg.SQLitePath)

	case BackendHybrid:
		durable, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		cache, err := redisstore.New(cfg.RedisAddr,
			redisstore.WithPassword(cfg.RedisPassword),
			redisstore.WithDB(cfg.RedisDB),
			redisstore.WithTTL(cfg.RedisTTL),
		)
		if err != nil {
			logger.Warn("redis unavailable, using sqlite only", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			return hybrid.New(durable, nil, logger)
		}
		return hybrid.New(durable, cache, logger)

	default:
		return nil, fmt.Errorf("unsupported store backend %q (use sqlite or hybrid)", backend)
	}
}
