// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"fmt"
)

// EntityType identifies one kind of guild record.
type EntityType string

const (
	TypeEvent             EntityType = "event"
	TypeRegistration      EntityType = "registration"
	TypePresence          EntityType = "presence"
	TypeMonthlyEvaluation EntityType = "monthly_evaluation"
	TypeEvaluationSection EntityType = "evaluation_section"
	TypeFollowValidation  EntityType = "follow_validation"
	TypeMember            EntityType = "member"
)

// AllEntityTypes returns every entity type in parent-before-child order.
func AllEntityTypes() []EntityType {
	return []EntityType{
		TypeEvent,
		TypeRegistration,
		TypePresence,
		TypeMonthlyEvaluation,
		TypeEvaluationSection,
		TypeFollowValidation,
		TypeMember,
	}
}

// ParseEntityType validates an operator-supplied entity type string.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	for _, known := range AllEntityTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

// Descriptor statically describes one entity kind: how to derive a canonical
// identity from a record, which entity type owns it (if any), how to test
// value equality between a source and a target record, and how to label a
// record for humans when its identity cannot be resolved.
//
// Equality is used only for divergence reporting, never for migration
// decisions.
type Descriptor[T any] struct {
	Type     EntityType
	Parent   EntityType // "" for root entity types
	Identity func(T) (CanonicalID, error)
	Equal    func(a, b T) bool
	Label    func(T) string
}

// Source is the read side of the store records are migrated from (the blob
// store). Enumerate returns all records, or only those under the given parent
// scope when scope is non-empty. Get re-fetches a single record by canonical
// id; the bool reports presence.
type Source[T any] interface {
	Enumerate(ctx context.Context, scope CanonicalID) ([]T, error)
	Get(ctx context.Context, id CanonicalID) (T, bool, error)
}

// Target is the store records are migrated into (the relational store).
// Upsert must be atomic at the store level: when a concurrent writer already
// inserted the same identity, it returns ErrWriteConflict and leaves the
// existing row untouched.
type Target[T any] interface {
	Enumerate(ctx context.Context, scope CanonicalID) ([]T, error)
	Exists(ctx context.Context, id CanonicalID) (bool, error)
	Upsert(ctx context.Context, record T) error
}

// Default descriptors, one per entity kind.

func EventDescriptor() Descriptor[Event] {
	return Descriptor[Event]{
		Type:     TypeEvent,
		Identity: EventIdentity,
		Equal: func(a, b Event) bool {
			return NormalizeKey(a.EventID) == NormalizeKey(b.EventID) &&
				a.Title == b.Title && a.Game == b.Game &&
				a.StartsAt.Equal(b.StartsAt) && a.CreatedBy == b.CreatedBy
		},
		Label: func(e Event) string { return labelOr(e.Origin, "event "+e.EventID) },
	}
}

func RegistrationDescriptor() Descriptor[Registration] {
	return Descriptor[Registration]{
		Type:     TypeRegistration,
		Parent:   TypeEvent,
		Identity: RegistrationIdentity,
		Equal: func(a, b Registration) bool {
			return NormalizeKey(a.EventID) == NormalizeKey(b.EventID) &&
				NormalizeKey(a.MemberKey) == NormalizeKey(b.MemberKey) &&
				a.Role == b.Role && a.RegisteredAt.Equal(b.RegisteredAt)
		},
		Label: func(r Registration) string {
			return labelOr(r.Origin, "registration "+r.EventID+"/"+r.MemberKey)
		},
	}
}

func PresenceDescriptor() Descriptor[Presence] {
	return Descriptor[Presence]{
		Type:     TypePresence,
		Parent:   TypeEvent,
		Identity: PresenceIdentity,
		Equal: func(a, b Presence) bool {
			return NormalizeKey(a.EventID) == NormalizeKey(b.EventID) &&
				NormalizeKey(a.MemberKey) == NormalizeKey(b.MemberKey) &&
				a.CheckedInAt.Equal(b.CheckedInAt) && a.Minutes == b.Minutes
		},
		Label: func(p Presence) string {
			return labelOr(p.Origin, "presence "+p.EventID+"/"+p.MemberKey)
		},
	}
}

func EvaluationDescriptor() Descriptor[MonthlyEvaluation] {
	return Descriptor[MonthlyEvaluation]{
		Type:     TypeMonthlyEvaluation,
		Identity: EvaluationIdentity,
		Equal: func(a, b MonthlyEvaluation) bool {
			return NormalizeKey(a.Month) == NormalizeKey(b.Month) &&
				NormalizeKey(a.MemberKey) == NormalizeKey(b.MemberKey) &&
				a.Score == b.Score && a.Summary == b.Summary
		},
		Label: func(e MonthlyEvaluation) string {
			return labelOr(e.Origin, "evaluation "+e.Month+"/"+e.MemberKey)
		},
	}
}

func SectionDescriptor() Descriptor[EvaluationSection] {
	return Descriptor[EvaluationSection]{
		Type:     TypeEvaluationSection,
		Parent:   TypeMonthlyEvaluation,
		Identity: SectionIdentity,
		Equal: func(a, b EvaluationSection) bool {
			return NormalizeKey(a.Month) == NormalizeKey(b.Month) &&
				NormalizeKey(a.MemberKey) == NormalizeKey(b.MemberKey) &&
				NormalizeKey(a.Section) == NormalizeKey(b.Section) &&
				a.Points == b.Points && a.Details == b.Details
		},
		Label: func(s EvaluationSection) string {
			return labelOr(s.Origin, "section "+s.Month+"/"+s.MemberKey+"/"+s.Section)
		},
	}
}

func FollowDescriptor() Descriptor[FollowValidation] {
	return Descriptor[FollowValidation]{
		Type:     TypeFollowValidation,
		Identity: FollowIdentity,
		Equal: func(a, b FollowValidation) bool {
			return NormalizeKey(a.MemberKey) == NormalizeKey(b.MemberKey) &&
				NormalizeKey(a.Channel) == NormalizeKey(b.Channel) &&
				a.Validated == b.Validated && a.ValidatedAt.Equal(b.ValidatedAt)
		},
		Label: func(f FollowValidation) string {
			return labelOr(f.Origin, "follow "+f.MemberKey+"@"+f.Channel)
		},
	}
}

func MemberDescriptor() Descriptor[Member] {
	return Descriptor[Member]{
		Type:     TypeMember,
		Identity: MemberIdentity,
		Equal: func(a, b Member) bool {
			return NormalizeKey(a.MemberKey) == NormalizeKey(b.MemberKey) &&
				a.DisplayName == b.DisplayName && a.DiscordID == b.DiscordID &&
				a.TwitchLogin == b.TwitchLogin && a.JoinedAt.Equal(b.JoinedAt)
		},
		Label: func(m Member) string { return labelOr(m.Origin, "member "+m.MemberKey) },
	}
}

func labelOr(origin, fallback string) string {
	if origin != "" {
		return origin
	}
	return fallback
}
