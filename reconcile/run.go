// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RunState is the phase of one reconciliation run.
type RunState string

const (
	RunIdle       RunState = "idle"
	RunChecking   RunState = "checking"
	RunReviewed   RunState = "reviewed"
	RunMigrating  RunState = "migrating"
	RunReconciled RunState = "reconciled"
)

// Run walks one reconciliation through
// Idle -> Checking -> Reviewed -> Migrating -> Reconciled.
// Migrate always re-checks the migrated entity types before reaching
// Reconciled: the in-memory result of a migration is never trusted as the new
// ground truth, both stores are re-enumerated instead.
//
// A Run is not safe for concurrent use; it models a single operator flow.
type Run struct {
	ID    uuid.UUID
	orch  *Orchestrator
	state RunState

	reports  map[EntityType]*SyncReport
	results  map[EntityType]*MigrationResult
	verified map[EntityType]*SyncReport
}

// NewRun starts a reconciliation run in the Idle state.
func (o *Orchestrator) NewRun() *Run {
	return &Run{ID: uuid.New(), orch: o, state: RunIdle}
}

func (r *Run) State() RunState { return r.state }

// Reports returns the reports of the most recent Check.
func (r *Run) Reports() map[EntityType]*SyncReport { return r.reports }

// Results returns the migration results of the most recent Migrate.
func (r *Run) Results() map[EntityType]*MigrationResult { return r.results }

// Verified returns the post-migration re-check reports.
func (r *Run) Verified() map[EntityType]*SyncReport { return r.verified }

func (r *Run) transition(from []RunState, to RunState) error {
	for _, s := range from {
		if r.state == s {
			r.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
}

// Check runs the sync checks and moves the run to Reviewed. It may be invoked
// again from Reviewed or Reconciled to refresh the diff.
func (r *Run) Check(ctx context.Context, types []EntityType) (map[EntityType]*SyncReport, error) {
	if err := r.transition([]RunState{RunIdle, RunReviewed, RunReconciled}, RunChecking); err != nil {
		return nil, err
	}
	reports, err := r.orch.CheckAll(ctx, types)
	if err != nil {
		r.state = RunIdle
		return nil, err
	}
	r.reports = reports
	r.state = RunReviewed
	return reports, nil
}

// SuggestSelection defaults the selection to the missing ids of the reviewed
// reports. Requires a prior Check.
func (r *Run) SuggestSelection() (map[EntityType][]CanonicalID, error) {
	if r.state != RunReviewed {
		return nil, fmt.Errorf("%w: selection requires a reviewed check, run is %s", ErrInvalidTransition, r.state)
	}
	return SuggestSelection(r.reports), nil
}

// Migrate migrates the selected ids and then re-checks the affected entity
// types (the mandatory Migrating -> Checking transition), ending Reconciled.
func (r *Run) Migrate(ctx context.Context, selections map[EntityType][]CanonicalID) (map[EntityType]*MigrationResult, map[EntityType]*SyncReport, error) {
	if err := r.transition([]RunState{RunReviewed}, RunMigrating); err != nil {
		return nil, nil, err
	}
	results, err := r.orch.MigrateSelected(ctx, selections)
	if err != nil {
		r.state = RunReviewed
		return nil, nil, err
	}
	r.results = results

	r.state = RunChecking
	types := make([]EntityType, 0, len(selections))
	for _, t := range r.orch.EntityTypes() {
		if _, ok := selections[t]; ok {
			types = append(types, t)
		}
	}
	verified, err := r.orch.CheckAll(ctx, types)
	if err != nil {
		r.state = RunReviewed
		return results, nil, err
	}
	r.verified = verified
	r.state = RunReconciled
	return results, verified, nil
}
