// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import "time"

// Domain records shared by both store adapters. Blob adapters decode and
// coerce legacy JSON shapes into these types; relational adapters map rows.
// Untyped maps never cross into the diff/migrate core.
//
// Origin carries the opaque source key (blob key or row reference) a record
// was read from. It is diagnostic only and excluded from value equality.

// Event is a scheduled guild event announced on the platform.
type Event struct {
	EventID   string    `json:"eventId"`
	Title     string    `json:"title"`
	Game      string    `json:"game"`
	StartsAt  time.Time `json:"startsAt"`
	CreatedBy string    `json:"createdBy"`
	Origin    string    `json:"-"`
}

// Registration is a member signing up for an event. Owned by Event.
type Registration struct {
	EventID      string    `json:"eventId"`
	MemberKey    string    `json:"memberKey"`
	Role         string    `json:"role"`
	RegisteredAt time.Time `json:"registeredAt"`
	Origin       string    `json:"-"`
}

// Presence is a member's attendance record for an event. Owned by Event.
type Presence struct {
	EventID     string    `json:"eventId"`
	MemberKey   string    `json:"memberKey"`
	CheckedInAt time.Time `json:"checkedInAt"`
	Minutes     int       `json:"minutes"`
	Origin      string    `json:"-"`
}

// MonthlyEvaluation is a member's evaluation for one month ("2026-01").
type MonthlyEvaluation struct {
	Month     string  `json:"month"`
	MemberKey string  `json:"memberKey"`
	Score     float64 `json:"score"`
	Summary   string  `json:"summary"`
	Origin    string  `json:"-"`
}

// EvaluationSection is one scored section of a monthly evaluation.
// Owned by MonthlyEvaluation.
type EvaluationSection struct {
	Month     string  `json:"month"`
	MemberKey string  `json:"memberKey"`
	Section   string  `json:"section"`
	Points    float64 `json:"points"`
	Details   string  `json:"details"`
	Origin    string  `json:"-"`
}

// FollowValidation records whether a member's follow of a guild channel
// has been verified.
type FollowValidation struct {
	MemberKey   string    `json:"memberKey"`
	Channel     string    `json:"channel"`
	Validated   bool      `json:"validated"`
	ValidatedAt time.Time `json:"validatedAt"`
	Origin      string    `json:"-"`
}

// Member is a guild member profile.
type Member struct {
	MemberKey   string    `json:"memberKey"`
	DisplayName string    `json:"displayName"`
	DiscordID   string    `json:"discordId"`
	TwitchLogin string    `json:"twitchLogin"`
	JoinedAt    time.Time `json:"joinedAt"`
	Origin      string    `json:"-"`
}
