// Package correlation stores, per end user, the id of the latest group
// message relayed for them, so later messages thread under it.
package correlation

import (
	"context"
	"fmt"
	"log/slog"

	"tgwabridge/internal/domain"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Driver   string
	Path     string // sqlite
	DSN      string // postgres
	RedisURL string
	RedisKey string
}

// Counter is implemented by stores that can report their size.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Open builds the store named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (domain.CorrelationStore, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLiteStore(opts.Path, logger)
	case DriverPostgres:
		return NewPostgresStore(ctx, opts.DSN, logger)
	case DriverRedis:
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisKey, logger)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
