// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package blobrepo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guildtools/guildsync/blobstore"
	"github.com/guildtools/guildsync/reconcile"
)

func newTestKV(t *testing.T, blobs map[string]string) blobstore.KV {
	t.Helper()
	kv, err := blobstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	ctx := context.Background()
	for k, v := range blobs {
		require.NoError(t, kv.Put(ctx, k, []byte(v)))
	}
	return kv
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventsEnumerate(t *testing.T) {
	kv := newTestKV(t, map[string]string{
		"event/1287465":                  `{"title":"Raid night","game":"WoW","date":"2026-01-10T20:00:00Z","author":"Shadow"}`,
		"event/99":                       `{"title":"Movie night","game":"","date":"2026-01-12"}`,
		"event/1287465/registration/fox": `{"role":"dps","date":"2026-01-09"}`,
		"member/fox":                     `{"name":"Fox"}`,
	})

	events, err := NewEvents(kv, discard()).Enumerate(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, "1287465", events[0].EventID)
	require.Equal(t, "Raid night", events[0].Title)
	require.Equal(t, "WoW", events[0].Game)
	require.Equal(t, "Shadow", events[0].CreatedBy)
	require.Equal(t, time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC), events[0].StartsAt)
	require.Equal(t, "event/1287465", events[0].Origin)

	// Date-only legacy format.
	require.Equal(t, time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), events[1].StartsAt)
}

func TestEventsEnumerateScoped(t *testing.T) {
	kv := newTestKV(t, map[string]string{
		"event/1": `{"title":"A"}`,
		"event/2": `{"title":"B"}`,
	})

	events, err := NewEvents(kv, discard()).Enumerate(context.Background(), "evt:2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "2", events[0].EventID)
}

func TestEventsGet(t *testing.T) {
	kv := newTestKV(t, map[string]string{
		"event/1": `{"title":"A"}`,
	})
	repo := NewEvents(kv, discard())

	ev, ok, err := repo.Get(context.Background(), "evt:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "A", ev.Title)

	_, ok, err = repo.Get(context.Background(), "evt:404")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRegistrationsScopedToEvent(t *testing.T) {
	kv := newTestKV(t, map[string]string{
		"event/1":                   `{"title":"A"}`,
		"event/1/registration/fox":  `{"role":"dps","date":"2026-01-09T10:00:00Z"}`,
		"event/1/registration/wolf": `{"role":"tank"}`,
		"event/1/presence/fox":      `{"checkin":"2026-01-10T20:05:00Z","duration":90}`,
		"event/2/registration/fox":  `{"role":"heal"}`,
	})
	repo := NewRegistrations(kv, discard())

	regs, err := repo.Enumerate(context.Background(), "evt:1")
	require.NoError(t, err)
	require.Len(t, regs, 2)
	require.Equal(t, "fox", regs[0].MemberKey)
	require.Equal(t, "dps", regs[0].Role)
	require.Equal(t, "wolf", regs[1].MemberKey)

	all, err := repo.Enumerate(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	reg, ok, err := repo.Get(context.Background(), "evt:2/reg:fox")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "heal", reg.Role)
}

func TestPresencesIgnoreRegistrationKeys(t *testing.T) {
	kv := newTestKV(t, map[string]string{
		"event/1/registration/fox": `{"role":"dps"}`,
		"event/1/presence/fox":     `{"checkin":"2026-01-10T20:05:00Z","duration":90}`,
	})

	prs, err := NewPresences(kv, discard()).Enumerate(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, prs, 1)
	require.Equal(t, 90, prs[0].Minutes)
	require.Equal(t, "fox", prs[0].MemberKey)
}

func TestEvaluationsAndSections(t *testing.T) {
	kv := newTestKV(t, map[string]string{
		"evaluation/2026-01/fox":               `{"score":17.5,"summary":"solid month"}`,
		"evaluation/2026-01/fox/section/raids": `{"points":9,"details":"all raids"}`,
		"evaluation/2026-01/fox/section/chat":  `{"points":8.5}`,
	})

	evals, err := NewEvaluations(kv, discard()).Enumerate(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, evals, 1)
	require.Equal(t, "2026-01", evals[0].Month)
	require.Equal(t, 17.5, evals[0].Score)

	secs, err := NewSections(kv, discard()).Enumerate(context.Background(), "eval:2026-01/mem:fox")
	require.NoError(t, err)
	require.Len(t, secs, 2)

	sec, ok, err := NewSections(kv, discard()).Get(context.Background(), "eval:2026-01/mem:fox/sec:raids")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float64(9), sec.Points)
}

func TestFollowsAndMembers(t *testing.T) {
	kv := newTestKV(t, map[string]string{
		"follow/fox/guildtv": `{"ok":true,"checkedAt":"2026-01-05T12:00:00Z"}`,
		"member/fox":         `{"name":"Fox","discord":"fox#123","twitch":"foxtv","joined":"2024-06-01"}`,
	})

	follows, err := NewFollows(kv, discard()).Enumerate(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, follows, 1)
	require.True(t, follows[0].Validated)
	require.Equal(t, "guildtv", follows[0].Channel)

	follow, ok, err := NewFollows(kv, discard()).Get(context.Background(), "fv:fox@guildtv")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fox", follow.MemberKey)

	members, err := NewMembers(kv, discard()).Enumerate(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "Fox", members[0].DisplayName)
	require.Equal(t, "foxtv", members[0].TwitchLogin)
}

func TestCorruptPayloadYieldsUnresolvableRecord(t *testing.T) {
	kv := newTestKV(t, map[string]string{
		"event/1": `{"title":"A"}`,
		"event/2": `not json at all`,
	})

	events, err := NewEvents(kv, discard()).Enumerate(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, events, 2)

	// The corrupt blob keeps only its origin; its identity does not resolve,
	// so a checker surfaces it instead of migrating garbage.
	var corrupt reconcile.Event
	for _, ev := range events {
		if ev.Origin == "event/2" {
			corrupt = ev
		}
	}
	require.Empty(t, corrupt.EventID)
	_, err = reconcile.EventIdentity(corrupt)
	require.Error(t, err)
}

func TestCoerceTimeLegacyLayouts(t *testing.T) {
	require.Equal(t, time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC), coerceTime("2026-01-10T20:00:00Z"))
	require.Equal(t, time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC), coerceTime("2026-01-10T20:00:00"))
	require.Equal(t, time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC), coerceTime("2026-01-10 20:00:00"))
	require.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), coerceTime("2026-01-10"))
	require.True(t, coerceTime("").IsZero())
	require.True(t, coerceTime("garbage").IsZero())
}
