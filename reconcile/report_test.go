// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAggregateFoldsChildren(t *testing.T) {
	reports := map[EntityType]*SyncReport{
		TypeEvent: {
			EntityType:      TypeEvent,
			CountInSource:   3,
			CountInTarget:   1,
			MissingInTarget: []CanonicalID{"evt:e2", "evt:e3"},
			Children: []*SyncReport{
				{
					EntityType:      TypeRegistration,
					Scope:           "evt:e1",
					CountInSource:   2,
					CountInTarget:   1,
					MissingInTarget: []CanonicalID{"evt:e1/reg:wolf"},
					UnresolvableInSource: []UnresolvableRecord{
						{Label: "event/e1/registration/", Reason: "empty member key"},
					},
				},
			},
		},
		TypeMember: degradedReport(TypeMember, ""),
	}

	s := Aggregate(reports)
	require.Equal(t, 2, s.EntityTypes)
	require.Equal(t, 1, s.Unavailable)
	require.Equal(t, 5, s.CountInSource)
	require.Equal(t, 2, s.CountInTarget)
	require.Equal(t, 3, s.Missing)
	require.Equal(t, 1, s.Unresolvable)
}

func TestAggregateCountsOwnedChildrenOnce(t *testing.T) {
	f := newEventFamily(t)
	f.evSrc.add(testEvent("e1"))
	f.regSrc.add(testRegistration("e1", "fox"), testRegistration("e1", "wolf"))

	// Registrations surface twice in a full check: as their own top-level
	// report and nested under the event report. The summary counts the real
	// population of 3 records, not 5.
	reports, err := f.orch.CheckAll(context.Background(), nil)
	require.NoError(t, err)

	s := Aggregate(reports)
	require.Equal(t, 2, s.EntityTypes)
	require.Equal(t, 3, s.CountInSource)
	require.Equal(t, 0, s.CountInTarget)
	require.Equal(t, 3, s.Missing)
}

func TestSuggestSelectionIncludesNestedChildren(t *testing.T) {
	reports := map[EntityType]*SyncReport{
		TypeEvent: {
			EntityType:      TypeEvent,
			MissingInTarget: []CanonicalID{"evt:e2"},
			Children: []*SyncReport{
				{
					EntityType:      TypeRegistration,
					Scope:           "evt:e2",
					MissingInTarget: []CanonicalID{"evt:e2/reg:fox"},
				},
				{
					EntityType:      TypePresence,
					Scope:           "evt:e2",
					MissingInTarget: []CanonicalID{"evt:e2/prs:fox"},
				},
			},
		},
	}

	selection := SuggestSelection(reports)
	require.Equal(t, []CanonicalID{"evt:e2"}, selection[TypeEvent])
	require.Equal(t, []CanonicalID{"evt:e2/reg:fox"}, selection[TypeRegistration])
	require.Equal(t, []CanonicalID{"evt:e2/prs:fox"}, selection[TypePresence])
}

func TestExpandSelectionPullsInChildrenOfSelectedParents(t *testing.T) {
	reports := map[EntityType]*SyncReport{
		TypeEvent: {
			EntityType:      TypeEvent,
			MissingInTarget: []CanonicalID{"evt:e2", "evt:e3"},
			Children: []*SyncReport{
				{
					EntityType:      TypeRegistration,
					Scope:           "evt:e2",
					MissingInTarget: []CanonicalID{"evt:e2/reg:fox"},
				},
				{
					EntityType:      TypeRegistration,
					Scope:           "evt:e3",
					MissingInTarget: []CanonicalID{"evt:e3/reg:fox"},
				},
			},
		},
	}

	// Only e2 is selected; e3's children must not ride along.
	expanded := ExpandSelection(reports, map[EntityType][]CanonicalID{
		TypeEvent: {"evt:e2"},
	})
	require.Equal(t, []CanonicalID{"evt:e2"}, expanded[TypeEvent])
	require.Equal(t, []CanonicalID{"evt:e2/reg:fox"}, expanded[TypeRegistration])

	// Explicit child selections are preserved and deduplicated.
	expanded = ExpandSelection(reports, map[EntityType][]CanonicalID{
		TypeEvent:        {"evt:e2"},
		TypeRegistration: {"evt:e2/reg:fox", "evt:e3/reg:fox"},
	})
	require.Equal(t, []CanonicalID{"evt:e2/reg:fox", "evt:e3/reg:fox"}, expanded[TypeRegistration])
}

func TestFailedResultAndMerge(t *testing.T) {
	res := newMigrationResult(TypeRegistration)
	res.Migrated = append(res.Migrated, "evt:e3/reg:fox")

	res.merge(FailedResult(TypeRegistration, []CanonicalID{"evt:e2/reg:fox"}, ReasonParentMigrationFailed))
	res.sortBuckets()

	require.Equal(t, []CanonicalID{"evt:e3/reg:fox"}, res.Migrated)
	require.Len(t, res.Errors, 1)
	require.Equal(t, ReasonParentMigrationFailed, res.Errors[0].Reason)
	require.False(t, res.Aborted)
}
