// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a file-backed KV over a single SQLite table. This is the
// usual deployment shape: the legacy blob dump lives in one .db file next to
// the service.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the blob database at path. Use ":memory:"
// for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open blob database %s: %w", path, err)
	}
	// Single writer; the engine only reads, fixtures only write sequentially.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		k TEXT PRIMARY KEY,
		v BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT k FROM blobs ORDER BY k`
	args := []any{}
	if prefix != "" {
		// Half-open key range; avoids LIKE escaping for keys containing
		// wildcard characters.
		query = `SELECT k FROM blobs WHERE k >= ? AND k < ? ORDER BY k`
		args = []any{prefix, prefix + "\xff"}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("enumerate blob keys %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan blob key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM blobs WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get blob %q: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		key, value)
	if err != nil {
		return fmt.Errorf("put blob %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
