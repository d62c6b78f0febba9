// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package pgstore exposes the relational store, the migration target, as
// typed per-entity repositories for the reconciliation engine. Upserts are
// atomic ON CONFLICT DO NOTHING inserts: existing rows are never overwritten,
// and the schema's primary keys back up the migrator's own existence re-check.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InitSchema creates the guild schema and tables if they don't exist.
// Natural keys are the primary keys throughout; no surrogate ids, so the
// canonical identity maps directly onto row identity.
func InitSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS guild`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS guild.event (
			event_id   TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT '',
			game       TEXT NOT NULL DEFAULT '',
			starts_at  TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			created_by TEXT NOT NULL DEFAULT ''
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS guild.registration (
			event_id      TEXT NOT NULL REFERENCES guild.event(event_id),
			member_key    TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT '',
			registered_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			PRIMARY KEY (event_id, member_key)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS guild.presence (
			event_id      TEXT NOT NULL REFERENCES guild.event(event_id),
			member_key    TEXT NOT NULL,
			checked_in_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			minutes       INT NOT NULL DEFAULT 0,
			PRIMARY KEY (event_id, member_key)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS guild.monthly_evaluation (
			month      TEXT NOT NULL,
			member_key TEXT NOT NULL,
			score      DOUBLE PRECISION NOT NULL DEFAULT 0,
			summary    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (month, member_key)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS guild.evaluation_section (
			month      TEXT NOT NULL,
			member_key TEXT NOT NULL,
			section    TEXT NOT NULL,
			points     DOUBLE PRECISION NOT NULL DEFAULT 0,
			details    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (month, member_key, section),
			FOREIGN KEY (month, member_key) REFERENCES guild.monthly_evaluation(month, member_key)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS guild.follow_validation (
			member_key   TEXT NOT NULL,
			channel      TEXT NOT NULL,
			validated    BOOLEAN NOT NULL DEFAULT FALSE,
			validated_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			PRIMARY KEY (member_key, channel)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS guild.member (
			member_key   TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			discord_id   TEXT NOT NULL DEFAULT '',
			twitch_login TEXT NOT NULL DEFAULT '',
			joined_at    TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
		)`,
	}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, migration := range migrations {
			if _, err := tx.Exec(ctx, migration); err != nil {
				return fmt.Errorf("execute migration: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("initialize guild schema: %w", err)
	}
	logger.Debug("Guild schema initialized")
	return nil
}
