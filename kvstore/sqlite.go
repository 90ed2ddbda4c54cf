package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hazyhaar/snapline/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_records (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SQLiteBackend persists records in a single kv_records table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLite creates the backend and applies the schema.
// The *sql.DB is expected to come from dbopen.Open.
func NewSQLite(db *sql.DB) (*SQLiteBackend, error) {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("kvstore schema: %w", err)
		}
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM kv_records WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, key, value string) error {
	_, err := dbopen.Exec(ctx, b.db,
		`INSERT INTO kv_records (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := dbopen.Exec(ctx, b.db, `DELETE FROM kv_records WHERE key = ?`, key)
	return err
}

// DeleteBatch removes all keys in one transaction, so a partially applied
// eviction pass can never be observed or persisted.
func (b *SQLiteBackend) DeleteBatch(ctx context.Context, keys []string) error {
	return dbopen.RunTx(ctx, b.db, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_records WHERE key = ?`, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM kv_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *SQLiteBackend) Usage(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	// CAST to BLOB so LENGTH counts bytes, matching len() on the Go side.
	err := b.db.QueryRowContext(ctx,
		`SELECT SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))) FROM kv_records`).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
