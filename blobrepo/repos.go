// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package blobrepo exposes the guild's legacy blob store as typed, per-entity
// source repositories for the reconciliation engine.
//
// Blob key layout, as written by the original bot:
//
//	event/<eventID>
//	event/<eventID>/registration/<memberKey>
//	event/<eventID>/presence/<memberKey>
//	evaluation/<month>/<memberKey>
//	evaluation/<month>/<memberKey>/section/<name>
//	follow/<memberKey>/<channel>
//	member/<memberKey>
//
// The bot normalized member keys to lowercase on write, so canonical id
// components map directly onto key path segments.
package blobrepo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/guildtools/guildsync/blobstore"
	"github.com/guildtools/guildsync/reconcile"
)

// repo is the shared enumerate/get machinery; one instance per entity kind.
type repo[T any] struct {
	kv        blobstore.KV
	logger    *slog.Logger
	entity    reconcile.EntityType
	parented  bool
	allPrefix string
	// scopePrefix maps a canonical scope id (the parent id for parented
	// kinds, the record's own id for root kinds) to a blob key prefix.
	scopePrefix func(scope reconcile.CanonicalID) (string, error)
	match       func(parts []string) bool
	decode      func(key string, data []byte) T
	identity    func(T) (reconcile.CanonicalID, error)
}

func (r *repo[T]) Enumerate(ctx context.Context, scope reconcile.CanonicalID) ([]T, error) {
	prefix := r.allPrefix
	var exact reconcile.CanonicalID
	if scope != "" {
		p, err := r.scopePrefix(scope)
		if err != nil {
			return nil, err
		}
		prefix = p
		if !r.parented {
			// For root kinds a scope narrows to a single record.
			exact = scope
		}
	}

	keys, err := r.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s blobs: %w", r.entity, err)
	}

	var out []T
	for _, key := range keys {
		if !r.match(strings.Split(key, "/")) {
			continue
		}
		data, ok, err := r.kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s blob %q: %w", r.entity, key, err)
		}
		if !ok {
			continue
		}
		rec := r.decode(key, data)
		if exact != "" {
			id, err := r.identity(rec)
			if err != nil || id != exact {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *repo[T]) Get(ctx context.Context, id reconcile.CanonicalID) (T, bool, error) {
	var zero T
	scope := id
	if r.parented {
		scope = reconcile.ParentOf(id)
		if scope == "" {
			return zero, false, fmt.Errorf("malformed %s id %q", r.entity, id)
		}
	}
	recs, err := r.Enumerate(ctx, scope)
	if err != nil {
		return zero, false, err
	}
	for _, rec := range recs {
		rid, err := r.identity(rec)
		if err == nil && rid == id {
			return rec, true, nil
		}
	}
	return zero, false, nil
}

func scopeValue(scope reconcile.CanonicalID, kind string) (string, error) {
	v, ok := reconcile.Value(scope, kind)
	if !ok {
		return "", fmt.Errorf("scope %q has no %s component", scope, kind)
	}
	return v, nil
}

// Events reads event blobs.
type Events struct{ repo[reconcile.Event] }

func NewEvents(kv blobstore.KV, logger *slog.Logger) *Events {
	return &Events{repo[reconcile.Event]{
		kv: kv, logger: logger,
		entity:    reconcile.TypeEvent,
		allPrefix: "event/",
		scopePrefix: func(scope reconcile.CanonicalID) (string, error) {
			id, err := scopeValue(scope, "evt")
			if err != nil {
				return "", err
			}
			return "event/" + id, nil
		},
		match:    func(parts []string) bool { return len(parts) == 2 },
		decode:   decodeEvent,
		identity: reconcile.EventIdentity,
	}}
}

// Registrations reads registration blobs, owned by events.
type Registrations struct{ repo[reconcile.Registration] }

func NewRegistrations(kv blobstore.KV, logger *slog.Logger) *Registrations {
	return &Registrations{repo[reconcile.Registration]{
		kv: kv, logger: logger,
		entity:    reconcile.TypeRegistration,
		parented:  true,
		allPrefix: "event/",
		scopePrefix: func(scope reconcile.CanonicalID) (string, error) {
			id, err := scopeValue(scope, "evt")
			if err != nil {
				return "", err
			}
			return "event/" + id + "/registration/", nil
		},
		match:    func(parts []string) bool { return len(parts) == 4 && parts[2] == "registration" },
		decode:   decodeRegistration,
		identity: reconcile.RegistrationIdentity,
	}}
}

// Presences reads presence blobs, owned by events.
type Presences struct{ repo[reconcile.Presence] }

func NewPresences(kv blobstore.KV, logger *slog.Logger) *Presences {
	return &Presences{repo[reconcile.Presence]{
		kv: kv, logger: logger,
		entity:    reconcile.TypePresence,
		parented:  true,
		allPrefix: "event/",
		scopePrefix: func(scope reconcile.CanonicalID) (string, error) {
			id, err := scopeValue(scope, "evt")
			if err != nil {
				return "", err
			}
			return "event/" + id + "/presence/", nil
		},
		match:    func(parts []string) bool { return len(parts) == 4 && parts[2] == "presence" },
		decode:   decodePresence,
		identity: reconcile.PresenceIdentity,
	}}
}

// Evaluations reads monthly evaluation blobs.
type Evaluations struct{ repo[reconcile.MonthlyEvaluation] }

func NewEvaluations(kv blobstore.KV, logger *slog.Logger) *Evaluations {
	return &Evaluations{repo[reconcile.MonthlyEvaluation]{
		kv: kv, logger: logger,
		entity:    reconcile.TypeMonthlyEvaluation,
		allPrefix: "evaluation/",
		scopePrefix: func(scope reconcile.CanonicalID) (string, error) {
			month, err := scopeValue(scope, "eval")
			if err != nil {
				return "", err
			}
			member, err := scopeValue(scope, "mem")
			if err != nil {
				return "", err
			}
			return "evaluation/" + month + "/" + member, nil
		},
		match:    func(parts []string) bool { return len(parts) == 3 },
		decode:   decodeEvaluation,
		identity: reconcile.EvaluationIdentity,
	}}
}

// Sections reads evaluation section blobs, owned by monthly evaluations.
type Sections struct{ repo[reconcile.EvaluationSection] }

func NewSections(kv blobstore.KV, logger *slog.Logger) *Sections {
	return &Sections{repo[reconcile.EvaluationSection]{
		kv: kv, logger: logger,
		entity:    reconcile.TypeEvaluationSection,
		parented:  true,
		allPrefix: "evaluation/",
		scopePrefix: func(scope reconcile.CanonicalID) (string, error) {
			month, err := scopeValue(scope, "eval")
			if err != nil {
				return "", err
			}
			member, err := scopeValue(scope, "mem")
			if err != nil {
				return "", err
			}
			return "evaluation/" + month + "/" + member + "/section/", nil
		},
		match:    func(parts []string) bool { return len(parts) == 5 && parts[3] == "section" },
		decode:   decodeSection,
		identity: reconcile.SectionIdentity,
	}}
}

// Follows reads follow validation blobs.
type Follows struct{ repo[reconcile.FollowValidation] }

func NewFollows(kv blobstore.KV, logger *slog.Logger) *Follows {
	return &Follows{repo[reconcile.FollowValidation]{
		kv: kv, logger: logger,
		entity:    reconcile.TypeFollowValidation,
		allPrefix: "follow/",
		scopePrefix: func(scope reconcile.CanonicalID) (string, error) {
			v, err := scopeValue(scope, "fv")
			if err != nil {
				return "", err
			}
			member, channel, ok := strings.Cut(v, "@")
			if !ok {
				return "", fmt.Errorf("scope %q is not a follow id", scope)
			}
			return "follow/" + member + "/" + channel, nil
		},
		match:    func(parts []string) bool { return len(parts) == 3 },
		decode:   decodeFollow,
		identity: reconcile.FollowIdentity,
	}}
}

// Members reads member profile blobs.
type Members struct{ repo[reconcile.Member] }

func NewMembers(kv blobstore.KV, logger *slog.Logger) *Members {
	return &Members{repo[reconcile.Member]{
		kv: kv, logger: logger,
		entity:    reconcile.TypeMember,
		allPrefix: "member/",
		scopePrefix: func(scope reconcile.CanonicalID) (string, error) {
			member, err := scopeValue(scope, "mem")
			if err != nil {
				return "", err
			}
			return "member/" + member, nil
		},
		match:    func(parts []string) bool { return len(parts) == 2 },
		decode:   decodeMember,
		identity: reconcile.MemberIdentity,
	}}
}
