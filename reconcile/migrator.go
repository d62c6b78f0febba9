// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MigratorConfig bounds the resource usage of a migrator.
type MigratorConfig struct {
	Concurrency int                  // max concurrent per-record migrations (default 4)
	OpTimeout   time.Duration        // per store read/write timeout (0 = none)
	Metrics     StageMetricsRecorder // optional stage timings
}

const defaultMigrateConcurrency = 4

// Migrator copies explicitly selected records from the source store into the
// target store, idempotently. For each id it re-fetches the source record
// (never trusting a stale enumeration from an earlier check), re-checks
// existence in the target (a previous partial run or a concurrent migration
// may have inserted it already), transforms and writes. One record's failure
// never aborts the batch.
type Migrator[T any] struct {
	desc   Descriptor[T]
	source Source[T]
	target Target[T]
	config *MigratorConfig
	logger *slog.Logger
}

// NewMigrator creates a migrator for one entity type over a source/target
// store pair.
func NewMigrator[T any](desc Descriptor[T], source Source[T], target Target[T], config *MigratorConfig, logger *slog.Logger) *Migrator[T] {
	if config == nil {
		config = &MigratorConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator[T]{
		desc:   desc,
		source: source,
		target: target,
		config: config,
		logger: logger,
	}
}

func (m *Migrator[T]) EntityType() EntityType { return m.desc.Type }

// ParentType returns the owning entity type, or "" for root entity types.
func (m *Migrator[T]) ParentType() EntityType { return m.desc.Parent }

// Migrate attempts each selected id and partitions the attempted ids into
// migrated, skipped, and errors. Records already present in the target are
// skipped, never overwritten, so invoking Migrate twice with the same ids
// yields migrated = [] on the second call and no duplicate rows.
//
// Cancellation is cooperative: an in-flight per-record write is allowed to
// complete, but no new per-record write starts once cancellation is observed;
// the partial result accumulated so far is returned with Aborted set.
func (m *Migrator[T]) Migrate(ctx context.Context, ids []CanonicalID) (*MigrationResult, error) {
	start := time.Now()
	res := newMigrationResult(m.desc.Type)
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return res, nil
	}

	m.logger.Info("Migrating batch", "entity_type", m.desc.Type, "count", len(ids))

	limit := m.config.Concurrency
	if limit <= 0 {
		limit = defaultMigrateConcurrency
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, id := range ids {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				res.Aborted = true
				mu.Unlock()
				return nil
			}
			m.migrateOne(ctx, id, res, &mu)
			return nil
		})
	}
	g.Wait()
	res.sortBuckets()

	observeStage(ctx, m.config.Metrics, MetricsOpMigrate, MetricsStageBatch, m.desc.Type, start, len(ids), len(res.Errors) > 0)
	m.logger.Info("Migration batch completed",
		"entity_type", m.desc.Type,
		"migrated", len(res.Migrated),
		"skipped", len(res.Skipped),
		"errors", len(res.Errors),
		"aborted", res.Aborted,
	)
	return res, nil
}

// dedupeIDs drops repeated ids while preserving selection order, so a
// duplicated id is attempted once and lands in exactly one bucket.
func dedupeIDs(ids []CanonicalID) []CanonicalID {
	seen := make(map[CanonicalID]struct{}, len(ids))
	out := make([]CanonicalID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// migrateOne lands id in exactly one bucket. Store operations run under the
// per-record timeout but are detached from batch cancellation so a write that
// already started is never killed halfway.
func (m *Migrator[T]) migrateOne(ctx context.Context, id CanonicalID, res *MigrationResult, mu *sync.Mutex) {
	start := time.Now()
	octx, cancel := opContext(context.WithoutCancel(ctx), m.config.OpTimeout)
	defer cancel()

	record := func(bucket *[]CanonicalID) {
		mu.Lock()
		*bucket = append(*bucket, id)
		mu.Unlock()
	}
	fail := func(reason string) {
		mu.Lock()
		res.Errors = append(res.Errors, RecordError{ID: id, Reason: reason})
		mu.Unlock()
	}

	rec, found, err := m.source.Get(octx, id)
	if err != nil {
		fail(ReasonSourceReadFailed + ": " + err.Error())
		observeStage(ctx, m.config.Metrics, MetricsOpMigrate, MetricsStageRecord, m.desc.Type, start, 1, true)
		return
	}
	if !found {
		fail(ReasonNotInSource)
		observeStage(ctx, m.config.Metrics, MetricsOpMigrate, MetricsStageRecord, m.desc.Type, start, 1, true)
		return
	}

	// A timed-out existence check lands in errors, not skipped, so operators
	// can distinguish "already migrated" from "could not verify".
	exists, err := m.target.Exists(octx, id)
	if err != nil {
		fail(ReasonTargetCheckFailed + ": " + err.Error())
		observeStage(ctx, m.config.Metrics, MetricsOpMigrate, MetricsStageRecord, m.desc.Type, start, 1, true)
		return
	}
	if exists {
		m.logger.Debug("Record already in target, skipping", "entity_type", m.desc.Type, "id", id)
		record(&res.Skipped)
		observeStage(ctx, m.config.Metrics, MetricsOpMigrate, MetricsStageRecord, m.desc.Type, start, 1, false)
		return
	}

	err = m.target.Upsert(octx, rec)
	switch {
	case err == nil:
		record(&res.Migrated)
	case errors.Is(err, ErrWriteConflict):
		// Raced with a concurrent migration run; the record exists exactly
		// once, which is the desired end state.
		m.logger.Debug("Write conflict treated as skipped", "entity_type", m.desc.Type, "id", id)
		record(&res.Skipped)
	default:
		fail(ReasonTargetWriteFailed + ": " + err.Error())
		observeStage(ctx, m.config.Metrics, MetricsOpMigrate, MetricsStageRecord, m.desc.Type, start, 1, true)
		return
	}
	observeStage(ctx, m.config.Metrics, MetricsOpMigrate, MetricsStageRecord, m.desc.Type, start, 1, false)
}
