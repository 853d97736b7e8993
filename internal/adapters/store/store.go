// Package store holds the backends that keep room state documents between
// restarts. Every backend implements core.Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
)

var ErrUnknownDriver = errors.New("unknown store driver")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// New opens the backend named by cfg.Driver.
func New(ctx context.Context, cfg config.StoreConfig) (core.Store, error) {
	var (
		st  core.Store
		err error
	)
	switch cfg.Driver {
	case "memory":
		st = NewMemory()
	case "", "sqlite":
		st, err = OpenSQLite(ctx, cfg.DSN, cfg.Table)
	case "postgres":
		st, err = OpenPostgres(ctx, cfg.DSN, cfg.Table)
	case "redis":
		st, err = OpenRedis(ctx, RedisOptions{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Prefix: cfg.KeyPrefix})
	case "s3":
		st, err = OpenS3(S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	log.Info().Str("module", "adapters.store").Str("driver", cfg.Driver).Msg("store opened")
	return st, nil
}

func checkTable(table string) (string, error) {
	if table == "" {
		return "entries", nil
	}
	if !identRe.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}
