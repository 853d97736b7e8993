package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr   string
	DB     int
	Prefix string
}

// Redis stores each document as a plain string value under Prefix+key.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedis connects and verifies connectivity.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Redis{rdb: rdb, prefix: opts.Prefix}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Store(ctx context.Context, key string, value []byte) error {
	return r.rdb.Set(ctx, r.key(key), value, 0).Err()
}

func (r *Redis) Load(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
