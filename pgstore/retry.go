// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxWriteAttempts = 3

// IsRetryable reports whether a write failed for a transient
// transaction-level reason and is safe to re-issue with the same arguments.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}

// withRetry re-invokes fn on transient failures, up to maxWriteAttempts.
// Unique violations and every other error class return immediately; retrying
// the same insert stays idempotent because the statements are ON CONFLICT
// DO NOTHING.
func withRetry(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !IsRetryable(err) || attempt == maxWriteAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
}

// execUpsert is the shared write path of the repositories' Upsert methods.
func execUpsert(ctx context.Context, pool *pgxpool.Pool, sql string, args pgx.NamedArgs) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := withRetry(ctx, func() error {
		var execErr error
		tag, execErr = pool.Exec(ctx, sql, args)
		return execErr
	})
	return tag, err
}
