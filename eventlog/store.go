// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import "context"

// Store persists the event DAG for every session (spec §4.D). All
// operations are safe for concurrent use; callers needing
// read-your-writes ordering across Append/Import calls serialize
// through their own write lock (the sync engine does this — see
// package syncengine).
type Store interface {
	// Append persists record and one edge per parent, atomically.
	Append(ctx context.Context, record *EventRecord) error

	// LookupExistingIDs reports which of candidateIDs are already
	// present in the store, regardless of session. Used to deduplicate
	// imports before the expensive per-event work.
	LookupExistingIDs(ctx context.Context, candidateIDs []string) (map[string]bool, error)

	// List returns every event in session, ordered by (lamport_clock
	// ASC, event_id ordinal ASC).
	List(ctx context.Context, sessionID int64) ([]*EventRecord, error)

	// ListMissing is List excluding any event whose id is in knownIDs.
	ListMissing(ctx context.Context, sessionID int64, knownIDs map[string]bool) ([]*EventRecord, error)

	// Heads returns the event ids in session that are not a parent of
	// any other event in session, sorted ordinally ascending. Empty
	// for a session with no events. Heads are the only valid parent
	// set for a new local event (spec invariant I4).
	Heads(ctx context.Context, sessionID int64) ([]string, error)

	// MaxLamportClock returns the highest lamport_clock across every
	// session in the store, or 0 if the store is empty. Used by the
	// sync engine to seed its monotone counter on initialize.
	MaxLamportClock(ctx context.Context) (int64, error)
}
