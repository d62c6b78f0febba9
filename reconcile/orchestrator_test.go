// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// eventFamily is a two-type engine (events owning registrations) over fakes,
// the smallest setup that exercises family ordering.
type eventFamily struct {
	orch   *Orchestrator
	evSrc  *fakeSource[Event]
	evTgt  *fakeTarget[Event]
	regSrc *fakeSource[Registration]
	regTgt *fakeTarget[Registration]
	log    *opLog
}

func newEventFamily(t *testing.T) *eventFamily {
	t.Helper()
	f := &eventFamily{
		evSrc:  newFakeSource(EventDescriptor()),
		evTgt:  newFakeTarget(EventDescriptor()),
		regSrc: newFakeSource(RegistrationDescriptor()),
		regTgt: newFakeTarget(RegistrationDescriptor()),
		log:    &opLog{},
	}
	f.evTgt.log = f.log
	f.regTgt.log = f.log

	evChk := NewChecker(EventDescriptor(), f.evSrc, f.evTgt, nil, testLogger())
	regChk := NewChecker(RegistrationDescriptor(), f.regSrc, f.regTgt, nil, testLogger())
	evChk.AddChild(regChk)

	evMig := NewMigrator(EventDescriptor(), f.evSrc, f.evTgt, nil, testLogger())
	regMig := NewMigrator(RegistrationDescriptor(), f.regSrc, f.regTgt, nil, testLogger())

	f.orch = NewOrchestrator(nil, testLogger())
	require.NoError(t, RegisterEntity(f.orch, evChk, evMig))
	require.NoError(t, RegisterEntity(f.orch, regChk, regMig))
	return f
}

func TestRegisterEntityRequiresParentFirst(t *testing.T) {
	orch := NewOrchestrator(nil, testLogger())

	regChk := NewChecker(RegistrationDescriptor(),
		newFakeSource(RegistrationDescriptor()), newFakeTarget(RegistrationDescriptor()), nil, testLogger())
	regMig := NewMigrator(RegistrationDescriptor(),
		newFakeSource(RegistrationDescriptor()), newFakeTarget(RegistrationDescriptor()), nil, testLogger())

	err := RegisterEntity(orch, regChk, regMig)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parent entity type")
}

func TestCheckUnknownEntityType(t *testing.T) {
	f := newEventFamily(t)
	_, err := f.orch.Check(context.Background(), EntityType("bogus"), "")
	require.ErrorIs(t, err, ErrUnknownEntityType)
}

func TestCheckAllDegradesUnavailableType(t *testing.T) {
	f := newEventFamily(t)
	f.evSrc.add(testEvent("e1"))
	f.regSrc.enumErr = errors.New("blob store down")

	reports, err := f.orch.CheckAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	require.False(t, reports[TypeEvent].Unavailable)
	require.Equal(t, []CanonicalID{"evt:e1"}, reports[TypeEvent].MissingInTarget)

	require.True(t, reports[TypeRegistration].Unavailable)
	require.Equal(t, -1, reports[TypeRegistration].CountInSource)
}

func TestMigrateSelectedParentBeforeChild(t *testing.T) {
	f := newEventFamily(t)
	f.evSrc.add(testEvent("e2"))
	f.regSrc.add(testRegistration("e2", "fox"), testRegistration("e2", "wolf"))

	results, err := f.orch.MigrateSelected(context.Background(), map[EntityType][]CanonicalID{
		TypeEvent:        {"evt:e2"},
		TypeRegistration: {"evt:e2/reg:fox", "evt:e2/reg:wolf"},
	})
	require.NoError(t, err)
	require.Equal(t, []CanonicalID{"evt:e2"}, results[TypeEvent].Migrated)
	require.Len(t, results[TypeRegistration].Migrated, 2)

	parentAt := f.log.indexOf("evt:e2")
	require.NotEqual(t, -1, parentAt)
	for _, child := range []CanonicalID{"evt:e2/reg:fox", "evt:e2/reg:wolf"} {
		childAt := f.log.indexOf(child)
		require.Greater(t, childAt, parentAt, "child %s written before its event", child)
	}
}

func TestMigrateSelectedCascadesParentFailure(t *testing.T) {
	f := newEventFamily(t)
	f.evSrc.add(testEvent("e2"), testEvent("e3"))
	f.regSrc.add(testRegistration("e2", "fox"), testRegistration("e3", "fox"))
	f.evTgt.beforeUpsert = func(id CanonicalID) error {
		if id == "evt:e2" {
			return errors.New("constraint violation")
		}
		return nil
	}

	results, err := f.orch.MigrateSelected(context.Background(), map[EntityType][]CanonicalID{
		TypeEvent:        {"evt:e2", "evt:e3"},
		TypeRegistration: {"evt:e2/reg:fox", "evt:e3/reg:fox"},
	})
	require.NoError(t, err)

	require.Equal(t, []CanonicalID{"evt:e3"}, results[TypeEvent].Migrated)
	require.Len(t, results[TypeEvent].Errors, 1)

	// The healthy family branch migrates; the failed parent's child is
	// recorded without being attempted.
	regRes := results[TypeRegistration]
	require.Equal(t, []CanonicalID{"evt:e3/reg:fox"}, regRes.Migrated)
	require.Len(t, regRes.Errors, 1)
	require.Equal(t, CanonicalID("evt:e2/reg:fox"), regRes.Errors[0].ID)
	require.Equal(t, ReasonParentMigrationFailed, regRes.Errors[0].Reason)
	require.False(t, f.regTgt.has("evt:e2/reg:fox"))
}

func TestMigrateSelectedUnknownType(t *testing.T) {
	f := newEventFamily(t)
	_, err := f.orch.MigrateSelected(context.Background(), map[EntityType][]CanonicalID{
		EntityType("bogus"): {"x:1"},
	})
	require.ErrorIs(t, err, ErrUnknownEntityType)
}

func TestRunHappyPath(t *testing.T) {
	f := newEventFamily(t)
	f.evSrc.add(testEvent("e1"), testEvent("e2"), testEvent("e3"))
	require.NoError(t, f.evTgt.Upsert(context.Background(), testEvent("e1")))

	run := f.orch.NewRun()
	require.Equal(t, RunIdle, run.State())

	reports, err := run.Check(context.Background(), []EntityType{TypeEvent})
	require.NoError(t, err)
	require.Equal(t, RunReviewed, run.State())
	require.Equal(t, []CanonicalID{"evt:e2", "evt:e3"}, reports[TypeEvent].MissingInTarget)

	selection, err := run.SuggestSelection()
	require.NoError(t, err)
	require.Equal(t, []CanonicalID{"evt:e2", "evt:e3"}, selection[TypeEvent])

	results, verified, err := run.Migrate(context.Background(), selection)
	require.NoError(t, err)
	require.Equal(t, RunReconciled, run.State())
	require.Equal(t, []CanonicalID{"evt:e2", "evt:e3"}, results[TypeEvent].Migrated)

	// The post-migration re-check is the ground truth, not the result buckets.
	require.Equal(t, 3, verified[TypeEvent].CountInTarget)
	require.Empty(t, verified[TypeEvent].MissingInTarget)
}

func TestRunRejectsOutOfOrderTransitions(t *testing.T) {
	f := newEventFamily(t)
	run := f.orch.NewRun()

	_, err := run.SuggestSelection()
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = run.Migrate(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = run.Check(context.Background(), []EntityType{TypeEvent})
	require.NoError(t, err)

	// Migrate consumes the review; a second migrate needs a fresh check.
	_, _, err = run.Migrate(context.Background(), nil)
	require.NoError(t, err)
	_, _, err = run.Migrate(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
