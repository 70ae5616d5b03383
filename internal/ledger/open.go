package ledger

import (
	"context"
	"fmt"
)

// Backend names a Store implementation.
type Backend string

// Supported backends.
const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Open creates the Store for backend. For the file and sqlite backends dsn is a path;
// for postgres and redis it is a connection URL.
func Open(ctx context.Context, backend Backend, dsn string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(dsn), nil
	case BackendSQLite:
		if dsn == "" {
			dsn = "applied.db"
		}
		return NewSQLiteStore(ctx, dsn)
	case BackendPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("ledger: postgres backend requires a database URL")
		}
		return NewPostgresStore(ctx, dsn)
	case BackendRedis:
		if dsn == "" {
			dsn = "redis://localhost:6379/0"
		}
		return NewRedisStore(ctx, dsn, DefaultRedisKey)
	default:
		return nil, fmt.Errorf("ledger: unknown backend %q", backend)
	}
}
