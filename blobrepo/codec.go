// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package blobrepo

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/guildtools/guildsync/reconcile"
)

// Legacy blob payload shapes, as the original bot wrote them. Natural keys
// live in the blob key path; payloads carry the value fields under their
// historical names. Field renames and date coercion happen here, at the
// adapter boundary, so untyped legacy shapes never reach the engine.

type eventBlob struct {
	Title  string `json:"title"`
	Game   string `json:"game"`
	Date   string `json:"date"`
	Author string `json:"author"`
}

type registrationBlob struct {
	Role string `json:"role"`
	Date string `json:"date"`
}

type presenceBlob struct {
	Checkin  string `json:"checkin"`
	Duration int    `json:"duration"`
}

type evaluationBlob struct {
	Score   float64 `json:"score"`
	Summary string  `json:"summary"`
}

type sectionBlob struct {
	Points  float64 `json:"points"`
	Details string  `json:"details"`
}

type followBlob struct {
	OK        bool   `json:"ok"`
	CheckedAt string `json:"checkedAt"`
}

type memberBlob struct {
	Name    string `json:"name"`
	Discord string `json:"discord"`
	Twitch  string `json:"twitch"`
	Joined  string `json:"joined"`
}

// The bot wrote dates in several formats over the years.
var legacyTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceTime parses a legacy date string, returning the zero time when the
// value is absent or unparseable. Dates are never part of a natural key, so
// a bad date degrades the value, not the identity.
func coerceTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// A blob whose payload cannot be decoded keeps only its Origin; the engine
// resolves it to an AmbiguousIdentityError and surfaces it as unresolvable
// rather than migrating garbage values.

func decodeEvent(key string, data []byte) reconcile.Event {
	parts := strings.Split(key, "/")
	var b eventBlob
	if len(parts) != 2 || json.Unmarshal(data, &b) != nil {
		return reconcile.Event{Origin: key}
	}
	return reconcile.Event{
		EventID:   parts[1],
		Title:     b.Title,
		Game:      b.Game,
		StartsAt:  coerceTime(b.Date),
		CreatedBy: b.Author,
		Origin:    key,
	}
}

func decodeRegistration(key string, data []byte) reconcile.Registration {
	parts := strings.Split(key, "/")
	var b registrationBlob
	if len(parts) != 4 || json.Unmarshal(data, &b) != nil {
		return reconcile.Registration{Origin: key}
	}
	return reconcile.Registration{
		EventID:      parts[1],
		MemberKey:    parts[3],
		Role:         b.Role,
		RegisteredAt: coerceTime(b.Date),
		Origin:       key,
	}
}

func decodePresence(key string, data []byte) reconcile.Presence {
	parts := strings.Split(key, "/")
	var b presenceBlob
	if len(parts) != 4 || json.Unmarshal(data, &b) != nil {
		return reconcile.Presence{Origin: key}
	}
	return reconcile.Presence{
		EventID:     parts[1],
		MemberKey:   parts[3],
		CheckedInAt: coerceTime(b.Checkin),
		Minutes:     b.Duration,
		Origin:      key,
	}
}

func decodeEvaluation(key string, data []byte) reconcile.MonthlyEvaluation {
	parts := strings.Split(key, "/")
	var b evaluationBlob
	if len(parts) != 3 || json.Unmarshal(data, &b) != nil {
		return reconcile.MonthlyEvaluation{Origin: key}
	}
	return reconcile.MonthlyEvaluation{
		Month:     parts[1],
		MemberKey: parts[2],
		Score:     b.Score,
		Summary:   b.Summary,
		Origin:    key,
	}
}

func decodeSection(key string, data []byte) reconcile.EvaluationSection {
	parts := strings.Split(key, "/")
	var b sectionBlob
	if len(parts) != 5 || json.Unmarshal(data, &b) != nil {
		return reconcile.EvaluationSection{Origin: key}
	}
	return reconcile.EvaluationSection{
		Month:     parts[1],
		MemberKey: parts[2],
		Section:   parts[4],
		Points:    b.Points,
		Details:   b.Details,
		Origin:    key,
	}
}

func decodeFollow(key string, data []byte) reconcile.FollowValidation {
	parts := strings.Split(key, "/")
	var b followBlob
	if len(parts) != 3 || json.Unmarshal(data, &b) != nil {
		return reconcile.FollowValidation{Origin: key}
	}
	return reconcile.FollowValidation{
		MemberKey:   parts[1],
		Channel:     parts[2],
		Validated:   b.OK,
		ValidatedAt: coerceTime(b.CheckedAt),
		Origin:      key,
	}
}

func decodeMember(key string, data []byte) reconcile.Member {
	parts := strings.Split(key, "/")
	var b memberBlob
	if len(parts) != 2 || json.Unmarshal(data, &b) != nil {
		return reconcile.Member{Origin: key}
	}
	return reconcile.Member{
		MemberKey:   parts[1],
		DisplayName: b.Name,
		DiscordID:   b.Discord,
		TwitchLogin: b.Twitch,
		JoinedAt:    coerceTime(b.Joined),
		Origin:      key,
	}
}
