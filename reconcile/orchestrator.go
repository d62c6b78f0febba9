// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// OrchestratorConfig bounds the cross-entity concurrency of the orchestrator.
type OrchestratorConfig struct {
	CheckConcurrency   int                  // concurrent entity-type checks in CheckAll (default 4)
	MigrateConcurrency int                  // concurrent entity families in MigrateSelected (default 2)
	Metrics            StageMetricsRecorder // optional stage timings
}

type entityBinding struct {
	typ     EntityType
	parent  EntityType
	check   func(ctx context.Context, scope CanonicalID) (*SyncReport, error)
	migrate func(ctx context.Context, ids []CanonicalID) (*MigrationResult, error)
}

// Orchestrator coordinates checkers and migrators across entity types. It
// enforces the two-phase protocol: checks produce reports, migrations act
// only on explicitly selected ids, and parent-before-child ordering is
// serialized within each entity family.
type Orchestrator struct {
	logger *slog.Logger
	config *OrchestratorConfig

	mu       sync.RWMutex
	entities map[EntityType]*entityBinding
	order    []EntityType
}

// NewOrchestrator creates an orchestrator with no registered entity types.
// Entity types are attached with RegisterEntity, parents before children.
func NewOrchestrator(config *OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if config == nil {
		config = &OrchestratorConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:   logger,
		config:   config,
		entities: make(map[EntityType]*entityBinding),
	}
}

// RegisterEntity binds a checker/migrator pair for one entity type. A child
// entity type requires its parent to be registered first so family ordering
// is well defined.
func RegisterEntity[T any](o *Orchestrator, checker *Checker[T], migrator *Migrator[T]) error {
	if checker.EntityType() != migrator.EntityType() {
		return fmt.Errorf("checker is for %s but migrator is for %s", checker.EntityType(), migrator.EntityType())
	}
	typ := checker.EntityType()
	parent := checker.ParentType()

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.entities[typ]; dup {
		return fmt.Errorf("entity type %s already registered", typ)
	}
	if parent != "" {
		if _, ok := o.entities[parent]; !ok {
			return fmt.Errorf("parent entity type %s must be registered before %s", parent, typ)
		}
	}
	o.entities[typ] = &entityBinding{
		typ:     typ,
		parent:  parent,
		check:   checker.Check,
		migrate: migrator.Migrate,
	}
	o.order = append(o.order, typ)
	return nil
}

// EntityTypes returns the registered entity types in registration order
// (parents before children).
func (o *Orchestrator) EntityTypes() []EntityType {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]EntityType, len(o.order))
	copy(out, o.order)
	return out
}

func (o *Orchestrator) binding(t EntityType) (*entityBinding, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.entities[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}
	return b, nil
}

// Check runs the sync check for a single entity type, optionally narrowed to
// a scope (e.g. one event id).
func (o *Orchestrator) Check(ctx context.Context, t EntityType, scope CanonicalID) (*SyncReport, error) {
	b, err := o.binding(t)
	if err != nil {
		return nil, err
	}
	return b.check(ctx, scope)
}

// CheckAll fans out one check per entity type under a bounded worker pool.
// Entity-type checks are read-only over disjoint record populations, so they
// need no coordination. A store being unreachable for one entity type
// degrades that type's report rather than aborting the others.
func (o *Orchestrator) CheckAll(ctx context.Context, types []EntityType) (map[EntityType]*SyncReport, error) {
	if len(types) == 0 {
		types = o.EntityTypes()
	}
	for _, t := range types {
		if _, err := o.binding(t); err != nil {
			return nil, err
		}
	}

	limit := o.config.CheckConcurrency
	if limit <= 0 {
		limit = 4
	}

	start := time.Now()
	reports := make(map[EntityType]*SyncReport, len(types))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, t := range types {
		g.Go(func() error {
			b, _ := o.binding(t)
			rep, err := b.check(ctx, "")
			if err != nil {
				if !errors.Is(err, ErrStoreUnavailable) {
					o.logger.Error("Check failed", "entity_type", t, "error", err)
				} else {
					o.logger.Warn("Check degraded, store unavailable", "entity_type", t, "error", err)
				}
				rep = degradedReport(t, "")
			}
			mu.Lock()
			reports[t] = rep
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	observeStage(ctx, o.config.Metrics, MetricsOpCheck, MetricsStageBatch, "", start, len(types), false)
	return reports, nil
}

// SuggestSelection defaults the migration selection to exactly the
// missing-in-target ids of each report. Pure helper.
func (o *Orchestrator) SuggestSelection(reports map[EntityType]*SyncReport) map[EntityType][]CanonicalID {
	return SuggestSelection(reports)
}

// MigrateSelected migrates only the explicitly selected ids, never "migrate
// everything implicitly": the operator must see the diff first and opt in.
// Independent entity families run concurrently; within one family the parent
// type is migrated before its children, and children of a parent whose
// migration failed are recorded as errors without being attempted.
func (o *Orchestrator) MigrateSelected(ctx context.Context, selections map[EntityType][]CanonicalID) (map[EntityType]*MigrationResult, error) {
	for t := range selections {
		if _, err := o.binding(t); err != nil {
			return nil, err
		}
	}

	families, err := o.groupFamilies(selections)
	if err != nil {
		return nil, err
	}

	limit := o.config.MigrateConcurrency
	if limit <= 0 {
		limit = 2
	}

	results := make(map[EntityType]*MigrationResult, len(selections))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, fam := range families {
		g.Go(func() error {
			famResults := o.migrateFamily(ctx, fam)
			mu.Lock()
			for t, res := range famResults {
				results[t] = res
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results, nil
}

// family is one root entity type plus the selected ids of its own type and of
// its child types.
type family struct {
	root     EntityType
	rootIDs  []CanonicalID
	children map[EntityType][]CanonicalID
}

func (o *Orchestrator) groupFamilies(selections map[EntityType][]CanonicalID) ([]*family, error) {
	byRoot := make(map[EntityType]*family)
	get := func(root EntityType) *family {
		f, ok := byRoot[root]
		if !ok {
			f = &family{root: root, children: make(map[EntityType][]CanonicalID)}
			byRoot[root] = f
		}
		return f
	}
	// Iterate in registration order for deterministic family construction.
	for _, t := range o.EntityTypes() {
		ids, ok := selections[t]
		if !ok || len(ids) == 0 {
			continue
		}
		b, err := o.binding(t)
		if err != nil {
			return nil, err
		}
		if b.parent == "" {
			get(t).rootIDs = ids
		} else {
			get(b.parent).children[t] = ids
		}
	}
	families := make([]*family, 0, len(byRoot))
	for _, t := range o.EntityTypes() {
		if f, ok := byRoot[t]; ok {
			families = append(families, f)
		}
	}
	return families, nil
}

// migrateFamily serializes parent-before-child: children must never exist in
// the target store referencing a non-existent parent.
func (o *Orchestrator) migrateFamily(ctx context.Context, fam *family) map[EntityType]*MigrationResult {
	results := make(map[EntityType]*MigrationResult)

	failedParents := make(map[CanonicalID]struct{})
	if len(fam.rootIDs) > 0 {
		b, _ := o.binding(fam.root)
		res, err := b.migrate(ctx, fam.rootIDs)
		if err != nil {
			// Migrators isolate per-record failures; an error here means the
			// whole batch could not start. Cascade to every selected child.
			o.logger.Error("Family root migration failed", "entity_type", fam.root, "error", err)
			res = FailedResult(fam.root, fam.rootIDs, err.Error())
		}
		results[fam.root] = res
		for _, re := range res.Errors {
			failedParents[re.ID] = struct{}{}
		}
	}

	for _, childType := range o.EntityTypes() {
		ids, ok := fam.children[childType]
		if !ok {
			continue
		}
		attempt := make([]CanonicalID, 0, len(ids))
		cascaded := make([]CanonicalID, 0)
		for _, id := range ids {
			if _, failed := failedParents[ParentOf(id)]; failed {
				cascaded = append(cascaded, id)
			} else {
				attempt = append(attempt, id)
			}
		}

		b, _ := o.binding(childType)
		res, err := b.migrate(ctx, attempt)
		if err != nil {
			o.logger.Error("Child migration failed", "entity_type", childType, "error", err)
			res = FailedResult(childType, attempt, err.Error())
		}
		if len(cascaded) > 0 {
			res.merge(FailedResult(childType, cascaded, ReasonParentMigrationFailed))
			res.sortBuckets()
		}
		results[childType] = res
	}
	return results
}
