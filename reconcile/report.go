// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"slices"
	"sort"
)

// UnresolvableRecord references a record whose canonical identity could not
// be resolved, with a human-readable label of where it came from.
type UnresolvableRecord struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// SyncReport is the computed diff for one entity type, possibly nested over
// owned children. Reports are transient, request-scoped values and are never
// persisted; they are the primary observability artifact of a check.
type SyncReport struct {
	EntityType           EntityType           `json:"entityType"`
	Scope                CanonicalID          `json:"scope,omitempty"`
	CountInSource        int                  `json:"countInSource"`
	CountInTarget        int                  `json:"countInTarget"`
	MissingInTarget      []CanonicalID        `json:"missingInTarget"`
	ExtraInTarget        []CanonicalID        `json:"extraInTarget"`
	DivergentInTarget    []CanonicalID        `json:"divergentInTarget,omitempty"`
	UnresolvableInSource []UnresolvableRecord `json:"unresolvableInSource,omitempty"`
	UnresolvableInTarget []UnresolvableRecord `json:"unresolvableInTarget,omitempty"`
	Unavailable          bool                 `json:"unavailable,omitempty"`
	Children             []*SyncReport        `json:"children,omitempty"`
}

// degradedReport stands in for an entity type whose stores could not be
// enumerated, so the orchestrator can still report on healthy siblings.
func degradedReport(t EntityType, scope CanonicalID) *SyncReport {
	return &SyncReport{
		EntityType:      t,
		Scope:           scope,
		CountInSource:   -1,
		CountInTarget:   -1,
		MissingInTarget: []CanonicalID{},
		ExtraInTarget:   []CanonicalID{},
		Unavailable:     true,
	}
}

// RecordError pairs a canonical id with the reason its migration failed.
type RecordError struct {
	ID     CanonicalID `json:"id"`
	Reason string      `json:"reason"`
}

// MigrationResult partitions every attempted id into exactly one of three
// buckets. Like SyncReport it is transient and request-scoped.
type MigrationResult struct {
	EntityType EntityType    `json:"entityType"`
	Migrated   []CanonicalID `json:"migrated"`
	Skipped    []CanonicalID `json:"skipped"`
	Errors     []RecordError `json:"errors"`

	// Aborted is set when cooperative cancellation was observed before every
	// selected id could be attempted. The buckets still cover the attempted
	// ids; unattempted ids appear in no bucket.
	Aborted bool `json:"aborted,omitempty"`
}

func newMigrationResult(t EntityType) *MigrationResult {
	return &MigrationResult{
		EntityType: t,
		Migrated:   []CanonicalID{},
		Skipped:    []CanonicalID{},
		Errors:     []RecordError{},
	}
}

// FailedResult builds a MigrationResult in which every id errored with the
// same reason. Used for the parent-migration-failed cascade.
func FailedResult(t EntityType, ids []CanonicalID, reason string) *MigrationResult {
	res := newMigrationResult(t)
	for _, id := range ids {
		res.Errors = append(res.Errors, RecordError{ID: id, Reason: reason})
	}
	return res
}

func (r *MigrationResult) sortBuckets() {
	sortIDs(r.Migrated)
	sortIDs(r.Skipped)
	sort.Slice(r.Errors, func(i, j int) bool { return r.Errors[i].ID < r.Errors[j].ID })
}

// merge folds other into r. Both results must describe the same entity type.
func (r *MigrationResult) merge(other *MigrationResult) {
	r.Migrated = append(r.Migrated, other.Migrated...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Errors = append(r.Errors, other.Errors...)
	r.Aborted = r.Aborted || other.Aborted
}

// Summary is the cross-entity aggregation of a set of reports, suitable for a
// single operator-facing overview. Child reports are folded into the totals.
type Summary struct {
	EntityTypes   int `json:"entityTypes"`
	Unavailable   int `json:"unavailable"`
	CountInSource int `json:"countInSource"`
	CountInTarget int `json:"countInTarget"`
	Missing       int `json:"missing"`
	Extra         int `json:"extra"`
	Divergent     int `json:"divergent"`
	Unresolvable  int `json:"unresolvable"`
}

// Aggregate merges per-entity-type reports into one cross-entity summary.
// A child record can appear both in its own top-level report and nested under
// its parent's report; nested reports of a type that is also a top-level key
// are not folded in again, so every record counts once.
func Aggregate(reports map[EntityType]*SyncReport) *Summary {
	s := &Summary{}
	for _, rep := range reports {
		s.EntityTypes++
		aggregateInto(s, rep, reports)
	}
	return s
}

func aggregateInto(s *Summary, rep *SyncReport, topLevel map[EntityType]*SyncReport) {
	if rep.Unavailable {
		s.Unavailable++
	} else {
		s.CountInSource += rep.CountInSource
		s.CountInTarget += rep.CountInTarget
		s.Missing += len(rep.MissingInTarget)
		s.Extra += len(rep.ExtraInTarget)
		s.Divergent += len(rep.DivergentInTarget)
		s.Unresolvable += len(rep.UnresolvableInSource) + len(rep.UnresolvableInTarget)
	}
	for _, child := range rep.Children {
		if _, counted := topLevel[child.EntityType]; counted {
			continue
		}
		aggregateInto(s, child, topLevel)
	}
}

// SuggestSelection defaults a migration selection to exactly the
// missing-in-target ids of each report, including nested child reports, which
// land under the child's own entity type. Pure helper: it pre-populates an
// operator-facing choice without forcing it.
func SuggestSelection(reports map[EntityType]*SyncReport) map[EntityType][]CanonicalID {
	selection := make(map[EntityType][]CanonicalID)
	for _, rep := range reports {
		collectMissing(selection, rep)
	}
	// A child id can surface both in its own top-level report and nested under
	// its parent; keep each id once.
	for t := range selection {
		sortIDs(selection[t])
		selection[t] = slices.Compact(selection[t])
	}
	return selection
}

func collectMissing(selection map[EntityType][]CanonicalID, rep *SyncReport) {
	if len(rep.MissingInTarget) > 0 {
		selection[rep.EntityType] = append(selection[rep.EntityType], rep.MissingInTarget...)
	}
	for _, child := range rep.Children {
		collectMissing(selection, child)
	}
}

// ExpandSelection widens a selection so that migrating a parent implies
// migrating its missing children transitively: for every selected parent id,
// the missing ids of child reports scoped to that parent are added under the
// child's entity type. Already-selected ids are preserved and deduplicated.
func ExpandSelection(reports map[EntityType]*SyncReport, selection map[EntityType][]CanonicalID) map[EntityType][]CanonicalID {
	expanded := make(map[EntityType]map[CanonicalID]struct{})
	add := func(t EntityType, id CanonicalID) {
		if expanded[t] == nil {
			expanded[t] = make(map[CanonicalID]struct{})
		}
		expanded[t][id] = struct{}{}
	}
	for t, ids := range selection {
		for _, id := range ids {
			add(t, id)
		}
	}
	for _, rep := range reports {
		for _, child := range rep.Children {
			parents, ok := expanded[rep.EntityType]
			if !ok {
				continue
			}
			if _, selected := parents[child.Scope]; !selected {
				continue
			}
			for _, id := range child.MissingInTarget {
				add(child.EntityType, id)
			}
		}
	}
	out := make(map[EntityType][]CanonicalID, len(expanded))
	for t, set := range expanded {
		ids := make([]CanonicalID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sortIDs(ids)
		out[t] = ids
	}
	return out
}

func sortIDs(ids []CanonicalID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
