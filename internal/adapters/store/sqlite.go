package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite stores documents in a key/value table of a local database file.
type SQLite struct {
	db      *sql.DB
	upsertQ string
	selectQ string
}

func OpenSQLite(ctx context.Context, dsn, table string) (*SQLite, error) {
	table, err := checkTable(table)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes writes anyway
	db.SetMaxOpenConns(1)

	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BLOB NOT NULL)`, table)
	if _, err := db.ExecContext(ctx, create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return &SQLite{
		db:      db,
		upsertQ: fmt.Sprintf(`INSERT OR REPLACE INTO %s (key, value) VALUES (?, ?)`, table),
		selectQ: fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, table),
	}, nil
}

func (s *SQLite) Store(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.upsertQ, key, value)
	return err
}

func (s *SQLite) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.selectQ, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
