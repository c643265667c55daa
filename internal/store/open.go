package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	KindSQLite = "sqlite"
	KindRedis  = "redis"
	KindMemory = "memory"
)

// Open returns the named backend. dbPath is used by sqlite, redis by redis.
func Open(ctx context.Context, kind, dbPath string, redis RedisConfig) (Gateway, error) {
	switch kind {
	case KindSQLite, "":
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: %w", err)
			}
		}
		return OpenSQLite(dbPath)
	case KindRedis:
		return OpenRedis(ctx, redis)
	case KindMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("store: unknown backend %q", kind)
}
