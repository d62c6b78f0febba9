// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package blobstore provides the schemaless key/blob store the guild's
// records were originally written to. Values are opaque JSON blobs addressed
// by string keys; keys are enumerable by prefix but not queryable.
package blobstore

import "context"

// KV is the minimal contract the reconciliation engine needs from the blob
// store: prefix enumeration, point reads, and writes (writes are used by
// fixtures and tooling only; the engine itself never mutates this store).
type KV interface {
	// Keys returns all keys with the given prefix in ascending order.
	// An empty prefix enumerates the whole store.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Get returns the blob stored under key; the bool reports presence.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any existing blob.
	Put(ctx context.Context, key string, value []byte) error

	Close() error
}
