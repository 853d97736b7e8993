package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents in a key/value table through a pgx pool.
type Postgres struct {
	pool    *pgxpool.Pool
	upsertQ string
	selectQ string
}

func OpenPostgres(ctx context.Context, url, table string) (*Postgres, error) {
	table, err := checkTable(table)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, errors.New("postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BYTEA NOT NULL)`, table)
	if _, err := pool.Exec(ctx, create); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	upsert, sel := postgresQueries(table)
	return &Postgres{pool: pool, upsertQ: upsert, selectQ: sel}, nil
}

func postgresQueries(table string) (upsert, sel string) {
	upsert = fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, table)
	sel = fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, table)
	return upsert, sel
}

func (p *Postgres) Store(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx, p.upsertQ, key, value)
	return err
}

func (p *Postgres) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, p.selectQ, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
