package store

import (
	"context"
	"fmt"

	"github.com/goliatone/go-runcore/model"
)

// Options selects and configures a store backend.
type Options struct {
	Driver        string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open returns the store named by opts.Driver: memory, sqlite, postgres or redis.
func Open(ctx context.Context, opts Options) (model.Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemory(), nil
	case string(DialectSQLite):
		dsn := opts.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		return OpenSQL(ctx, DialectSQLite, dsn)
	case string(DialectPostgres), "pgx":
		return OpenSQL(ctx, DialectPostgres, opts.DSN)
	case "redis":
		return OpenRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
