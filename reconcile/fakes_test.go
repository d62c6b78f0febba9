// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// In-memory store fakes shared by the checker, migrator and orchestrator
// tests. The target's Upsert is atomic under a mutex, like the relational
// adapter's ON CONFLICT insert.

type fakeSource[T any] struct {
	desc Descriptor[T]

	mu      sync.Mutex
	records []T
	enumErr error
	getErr  error
}

func newFakeSource[T any](desc Descriptor[T], records ...T) *fakeSource[T] {
	return &fakeSource[T]{desc: desc, records: records}
}

func (f *fakeSource[T]) add(records ...T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
}

func (f *fakeSource[T]) Enumerate(_ context.Context, scope CanonicalID) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	if scope == "" {
		return append([]T(nil), f.records...), nil
	}
	var out []T
	for _, rec := range f.records {
		id, err := f.desc.Identity(rec)
		if err != nil {
			continue
		}
		if id == scope || ParentOf(id) == scope {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeSource[T]) Get(_ context.Context, id CanonicalID) (T, bool, error) {
	var zero T
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return zero, false, f.getErr
	}
	for _, rec := range f.records {
		if rid, err := f.desc.Identity(rec); err == nil && rid == id {
			return rec, true, nil
		}
	}
	return zero, false, nil
}

// opLog records the order of successful target writes across entity types.
type opLog struct {
	mu  sync.Mutex
	ids []CanonicalID
}

func (l *opLog) add(id CanonicalID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *opLog) indexOf(id CanonicalID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.ids {
		if got == id {
			return i
		}
	}
	return -1
}

type fakeTarget[T any] struct {
	desc Descriptor[T]

	mu        sync.Mutex
	rows      map[CanonicalID]T
	enumErr   error
	existsErr error
	// beforeUpsert can reject an individual id before the write; it runs
	// outside the row lock.
	beforeUpsert func(id CanonicalID) error
	log          *opLog
}

func newFakeTarget[T any](desc Descriptor[T], records ...T) *fakeTarget[T] {
	f := &fakeTarget[T]{desc: desc, rows: make(map[CanonicalID]T)}
	for _, rec := range records {
		id, err := desc.Identity(rec)
		if err != nil {
			panic(err)
		}
		f.rows[id] = rec
	}
	return f
}

func (f *fakeTarget[T]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeTarget[T]) has(id CanonicalID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[id]
	return ok
}

func (f *fakeTarget[T]) Enumerate(_ context.Context, scope CanonicalID) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	var out []T
	for id, rec := range f.rows {
		if scope == "" || id == scope || ParentOf(id) == scope {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeTarget[T]) Exists(_ context.Context, id CanonicalID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.rows[id]
	return ok, nil
}

func (f *fakeTarget[T]) Upsert(_ context.Context, rec T) error {
	id, err := f.desc.Identity(rec)
	if err != nil {
		return err
	}
	if f.beforeUpsert != nil {
		if err := f.beforeUpsert(id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[id]; exists {
		return fmt.Errorf("%w: %s", ErrWriteConflict, id)
	}
	f.rows[id] = rec
	if f.log != nil {
		f.log.add(id)
	}
	return nil
}

func testEvent(id string) Event {
	return Event{EventID: id, Title: "Raid night " + id, Game: "wow", CreatedBy: "shadow"}
}

func testRegistration(eventID, member string) Registration {
	return Registration{EventID: eventID, MemberKey: member, Role: "dps"}
}
