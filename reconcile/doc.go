// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package reconcile implements the dual-store synchronization and
// reconciliation engine for guild platform records.
//
// The guild's records (events, registrations, presences, monthly evaluations,
// evaluation sections, follow validations, members) live in two independent
// stores: a schemaless key/blob store written first, and a relational store
// the data is being progressively migrated to. This package computes the
// authoritative record set on each side, diffs them by store-independent
// canonical identity, migrates explicitly selected missing records into the
// relational store under an idempotent at-most-once-per-record guarantee, and
// reports the outcome for operator review.
//
// Migration is copy, not move: the source store is never mutated here.
package reconcile
