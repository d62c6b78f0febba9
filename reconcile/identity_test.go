// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventIdentity(t *testing.T) {
	id, err := EventIdentity(Event{EventID: "1287465"})
	require.NoError(t, err)
	require.Equal(t, CanonicalID("evt:1287465"), id)

	// Casing and whitespace never influence identity.
	a, err := EventIdentity(Event{EventID: "Raid  Night"})
	require.NoError(t, err)
	b, err := EventIdentity(Event{EventID: "raid night"})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestIdentityRejectsMissingNaturalKey(t *testing.T) {
	_, err := EventIdentity(Event{Title: "has no id"})
	require.Error(t, err)

	var ambErr *AmbiguousIdentityError
	require.True(t, errors.As(err, &ambErr))
	require.Equal(t, TypeEvent, ambErr.EntityType)
	require.Equal(t, "eventId", ambErr.Field)
}

func TestIdentityRejectsReservedCharacters(t *testing.T) {
	for _, bad := range []string{"a/b", "a,b", "a@b"} {
		_, err := MemberIdentity(Member{MemberKey: bad})
		var ambErr *AmbiguousIdentityError
		require.True(t, errors.As(err, &ambErr), "member key %q", bad)
	}
}

func TestChildIdentityExtendsParent(t *testing.T) {
	reg, err := RegistrationIdentity(Registration{EventID: "1287465", MemberKey: "Shadow Fox"})
	require.NoError(t, err)
	require.Equal(t, CanonicalID("evt:1287465/reg:shadow fox"), reg)
	require.Equal(t, CanonicalID("evt:1287465"), ParentOf(reg))

	prs, err := PresenceIdentity(Presence{EventID: "1287465", MemberKey: "shadow fox"})
	require.NoError(t, err)
	require.Equal(t, CanonicalID("evt:1287465/prs:shadow fox"), prs)

	sec, err := SectionIdentity(EvaluationSection{Month: "2026-01", MemberKey: "shadow fox", Section: "Raids"})
	require.NoError(t, err)
	require.Equal(t, CanonicalID("eval:2026-01/mem:shadow fox/sec:raids"), sec)
	require.Equal(t, CanonicalID("eval:2026-01/mem:shadow fox"), ParentOf(sec))
}

func TestChildIdentityRequiresParentKey(t *testing.T) {
	_, err := RegistrationIdentity(Registration{MemberKey: "shadow fox"})
	require.Error(t, err)

	_, err = SectionIdentity(EvaluationSection{Section: "raids"})
	require.Error(t, err)
}

func TestFollowIdentity(t *testing.T) {
	id, err := FollowIdentity(FollowValidation{MemberKey: "Shadow Fox", Channel: "GuildTV"})
	require.NoError(t, err)
	require.Equal(t, CanonicalID("fv:shadow fox@guildtv"), id)
	// The @ joins two components of one segment; follows have no parent.
	require.Equal(t, CanonicalID(""), ParentOf(id))
}

func TestValue(t *testing.T) {
	id := CanonicalID("eval:2026-01/mem:shadow fox/sec:raids")

	v, ok := Value(id, "eval")
	require.True(t, ok)
	require.Equal(t, "2026-01", v)

	v, ok = Value(id, "mem")
	require.True(t, ok)
	require.Equal(t, "shadow fox", v)

	_, ok = Value(id, "evt")
	require.False(t, ok)
}

func TestNormalizeKey(t *testing.T) {
	require.Equal(t, "shadow fox", NormalizeKey("  Shadow\t FOX "))
	require.Equal(t, "", NormalizeKey("   "))
}
