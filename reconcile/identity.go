// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"strings"
)

// CanonicalID is a store-independent, stable identity for one logical record.
// It is composed deterministically from natural-key fields, never from a
// store-assigned surrogate key. Two records representing the same real-world
// fact resolve to an equal CanonicalID regardless of which store they came
// from; casing and whitespace of string components are normalized first.
//
// Grammar: kind-tagged segments joined by "/", e.g.
//
//	evt:1287465
//	evt:1287465/reg:shadow fox
//	eval:2026-01/mem:shadow fox/sec:raids
//
// A child id always extends its parent's id, so the parent id is recoverable
// with ParentOf without a store round-trip.
type CanonicalID string

func (id CanonicalID) String() string { return string(id) }

// ParentOf returns the owning parent's id, or "" for a root id.
func ParentOf(id CanonicalID) CanonicalID {
	idx := strings.LastIndex(string(id), "/")
	if idx < 0 {
		return ""
	}
	return id[:idx]
}

// Value extracts the value of the segment tagged with kind ("evt", "reg", ...).
func Value(id CanonicalID, kind string) (string, bool) {
	for _, seg := range strings.Split(string(id), "/") {
		if v, ok := strings.CutPrefix(seg, kind+":"); ok {
			return v, true
		}
	}
	return "", false
}

// AmbiguousIdentityError reports a record whose natural key is absent or
// malformed. Such records are excluded from both the missing and extra sets
// and surfaced in the report's unresolvable bucket instead.
type AmbiguousIdentityError struct {
	EntityType EntityType
	Field      string
	Reason     string
}

func (e *AmbiguousIdentityError) Error() string {
	return fmt.Sprintf("ambiguous identity for %s: field %q %s", e.EntityType, e.Field, e.Reason)
}

func ambiguous(t EntityType, field, reason string) error {
	return &AmbiguousIdentityError{EntityType: t, Field: field, Reason: reason}
}

// NormalizeKey lowercases a natural-key string component and collapses
// whitespace runs, so identities compare equal regardless of which store
// produced the casing. Relational adapters apply the same normalization on
// write so existence checks by canonical value match.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Segment separators and the id-list separator in query strings must not
// appear inside a component.
func validComponent(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/,@")
}

func component(t EntityType, field, raw string) (string, error) {
	v := NormalizeKey(raw)
	if v == "" {
		return "", ambiguous(t, field, "is empty")
	}
	if !validComponent(v) {
		return "", ambiguous(t, field, "contains a reserved character")
	}
	return v, nil
}

// EventIdentity resolves an event to evt:<eventID>.
func EventIdentity(e Event) (CanonicalID, error) {
	id, err := component(TypeEvent, "eventId", e.EventID)
	if err != nil {
		return "", err
	}
	return CanonicalID("evt:" + id), nil
}

// RegistrationIdentity resolves a registration to evt:<eventID>/reg:<memberKey>.
func RegistrationIdentity(r Registration) (CanonicalID, error) {
	parent, err := EventIdentity(Event{EventID: r.EventID})
	if err != nil {
		return "", ambiguous(TypeRegistration, "eventId", "is missing or malformed")
	}
	member, err := component(TypeRegistration, "memberKey", r.MemberKey)
	if err != nil {
		return "", err
	}
	return parent + CanonicalID("/reg:"+member), nil
}

// PresenceIdentity resolves a presence to evt:<eventID>/prs:<memberKey>.
func PresenceIdentity(p Presence) (CanonicalID, error) {
	parent, err := EventIdentity(Event{EventID: p.EventID})
	if err != nil {
		return "", ambiguous(TypePresence, "eventId", "is missing or malformed")
	}
	member, err := component(TypePresence, "memberKey", p.MemberKey)
	if err != nil {
		return "", err
	}
	return parent + CanonicalID("/prs:"+member), nil
}

// EvaluationIdentity resolves a monthly evaluation to eval:<month>/mem:<memberKey>.
func EvaluationIdentity(e MonthlyEvaluation) (CanonicalID, error) {
	month, err := component(TypeMonthlyEvaluation, "month", e.Month)
	if err != nil {
		return "", err
	}
	member, err := component(TypeMonthlyEvaluation, "memberKey", e.MemberKey)
	if err != nil {
		return "", err
	}
	return CanonicalID("eval:" + month + "/mem:" + member), nil
}

// SectionIdentity resolves an evaluation section to
// eval:<month>/mem:<memberKey>/sec:<section>.
func SectionIdentity(s EvaluationSection) (CanonicalID, error) {
	parent, err := EvaluationIdentity(MonthlyEvaluation{Month: s.Month, MemberKey: s.MemberKey})
	if err != nil {
		return "", ambiguous(TypeEvaluationSection, "month/memberKey", "is missing or malformed")
	}
	section, err := component(TypeEvaluationSection, "section", s.Section)
	if err != nil {
		return "", err
	}
	return parent + CanonicalID("/sec:"+section), nil
}

// FollowIdentity resolves a follow validation to fv:<memberKey>@<channel>.
func FollowIdentity(f FollowValidation) (CanonicalID, error) {
	member, err := component(TypeFollowValidation, "memberKey", f.MemberKey)
	if err != nil {
		return "", err
	}
	channel, err := component(TypeFollowValidation, "channel", f.Channel)
	if err != nil {
		return "", err
	}
	return CanonicalID("fv:" + member + "@" + channel), nil
}

// MemberIdentity resolves a member profile to mem:<memberKey>.
func MemberIdentity(m Member) (CanonicalID, error) {
	member, err := component(TypeMember, "memberKey", m.MemberKey)
	if err != nil {
		return "", err
	}
	return CanonicalID("mem:" + member), nil
}
