// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import "errors"

// Error taxonomy for the reconciliation engine. Per-record failures are
// always isolated into MigrationResult.Errors and never abort a batch; only a
// failure to even begin enumerating a store surfaces as an error from Check.
var (
	// ErrStoreUnavailable wraps a store enumeration that timed out or failed.
	// CheckAll degrades the affected entity type's report instead of aborting
	// sibling entity types.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrWriteConflict is returned by Target.Upsert when a concurrent writer
	// already inserted the same identity. The end state is correct (the record
	// exists exactly once), so the migrator counts it as skipped, not errored.
	ErrWriteConflict = errors.New("write conflict")

	// ErrParentMigrationFailed cascades to all pending children of a parent
	// whose migration failed; the children are never attempted.
	ErrParentMigrationFailed = errors.New("parent migration failed")

	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrInvalidTransition is returned by Run methods invoked out of the
	// Idle -> Checking -> Reviewed -> Migrating -> Reconciled order.
	ErrInvalidTransition = errors.New("invalid reconciliation run transition")
)

// Per-record error reasons.
const (
	ReasonParentMigrationFailed = "parent migration failed"
	ReasonNotInSource           = "not found in source store"
	ReasonSourceReadFailed      = "source read failed"
	ReasonTargetCheckFailed     = "target existence check failed"
	ReasonTargetWriteFailed     = "target write failed"
)
