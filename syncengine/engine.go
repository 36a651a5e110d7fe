// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tabletop-sync/core/clock"
	"github.com/tabletop-sync/core/eventlog"
	"github.com/tabletop-sync/core/identity"
	"github.com/tabletop-sync/core/materializer"
	"github.com/tabletop-sync/core/syncerr"
	"github.com/tabletop-sync/core/vectorclock"
)

// State is one of the engine's lifecycle states (spec §4.F, §5).
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
)

// Engine is the sync facade: one per local identity, shared by every
// caller that appends to or reads from the event log. Engine is safe
// for concurrent use.
type Engine struct {
	store    eventlog.Store
	identity *identity.Identity
	clk      clock.Clock
	logger   *slog.Logger

	// writeGate serializes AppendLocalEvent and Import (spec §5). Reads
	// do not take it.
	writeGate sync.Mutex

	stateMu sync.Mutex
	state   State

	globalLamport atomic.Int64

	clocksMu      sync.Mutex
	sessionClocks map[int64]vectorclock.Clock
}

// New constructs an Engine in the Uninitialized state. Call Initialize
// before any other method. A nil logger discards log output; a nil
// clk defaults to clock.Real().
func New(store eventlog.Store, id *identity.Identity, clk clock.Clock, logger *slog.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		store:         store,
		identity:      id,
		clk:           clk,
		logger:        logger,
		sessionClocks: make(map[int64]vectorclock.Clock),
	}
}

// Initialize loads the highest lamport clock across every session so
// global_lamport never decreases across a restart (spec §4.F). It is
// idempotent: a call after the engine is already Ready returns
// immediately.
//
// Unlike identity.Initialize's one-shot latch (a package-level
// singleton), this is a per-Engine idempotent state transition — each
// Engine instance may be initialized once.
func (e *Engine) Initialize(ctx context.Context) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if e.state == Ready {
		return nil
	}
	e.state = Initializing

	maxLamport, err := e.store.MaxLamportClock(ctx)
	if err != nil {
		e.state = Uninitialized
		return syncerr.Wrap("syncengine.Initialize", syncerr.StorageFailure, "loading max lamport clock: %v", err)
	}
	e.globalLamport.Store(maxLamport)

	e.state = Ready
	return nil
}

func (e *Engine) requireReady() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != Ready {
		return syncerr.Wrap("syncengine", syncerr.NotInitialized, "engine is not initialized")
	}
	return nil
}

// sessionClockLocked returns the cached vector clock for sessionID,
// loading it from the store (merging the vector clocks of every
// persisted event) on first access. Caller must hold clocksMu.
func (e *Engine) sessionClockLocked(ctx context.Context, sessionID int64) (vectorclock.Clock, error) {
	if cached, ok := e.sessionClocks[sessionID]; ok {
		return cached, nil
	}

	records, err := e.store.List(ctx, sessionID)
	if err != nil {
		return vectorclock.Clock{}, syncerr.Wrap("syncengine", syncerr.StorageFailure, "loading session %d for clock preload: %v", sessionID, err)
	}

	merged := vectorclock.New()
	for _, record := range records {
		merged = merged.Merge(record.VectorClock)
	}
	e.sessionClocks[sessionID] = merged
	return merged, nil
}

// AppendLocalEvent creates, persists, and returns a new event
// originating at this peer (spec §4.F). parents is always the
// session's current heads — the only valid parent set for a local
// event (invariant I4).
func (e *Engine) AppendLocalEvent(ctx context.Context, sessionID int64, body eventlog.Body) (*eventlog.EventRecord, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}

	e.writeGate.Lock()
	defer e.writeGate.Unlock()

	parents, err := e.store.Heads(ctx, sessionID)
	if err != nil {
		return nil, syncerr.Wrap("syncengine.AppendLocalEvent", syncerr.StorageFailure, "reading heads: %v", err)
	}

	e.clocksMu.Lock()
	current, err := e.sessionClockLocked(ctx, sessionID)
	if err != nil {
		e.clocksMu.Unlock()
		return nil, err
	}
	vectorClock := current.Increment(e.identity.PeerID)
	e.clocksMu.Unlock()

	lamport := e.globalLamport.Add(1)

	record := &eventlog.EventRecord{
		SessionID:    sessionID,
		Kind:         body.Kind(),
		LamportClock: lamport,
		Timestamp:    e.clk.Now().UTC(),
		Parents:      parents,
		VectorClock:  vectorClock,
		Body:         body,
	}

	eventID, err := eventlog.ComputeEventID(record)
	if err != nil {
		return nil, err
	}
	record.EventID = eventID

	if err := e.store.Append(ctx, record); err != nil {
		return nil, syncerr.Wrap("syncengine.AppendLocalEvent", syncerr.StorageFailure, "persisting event: %v", err)
	}

	e.clocksMu.Lock()
	e.sessionClocks[sessionID] = vectorClock
	e.clocksMu.Unlock()

	return record, nil
}

// Import merges a batch of remote events into the log (spec §4.F).
// Every event's claimed id is recomputed from its canonical bytes
// before any event in the batch is persisted — if any disagree, the
// entire import is rejected with ContentHashMismatch and nothing is
// written. Returns the count of newly stored events (already-known
// events are silently skipped, not counted).
func (e *Engine) Import(ctx context.Context, events []*eventlog.EventRecord) (int, error) {
	if err := e.requireReady(); err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	sorted := append([]*eventlog.EventRecord(nil), events...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].LamportClock != sorted[j].LamportClock {
			return sorted[i].LamportClock < sorted[j].LamportClock
		}
		return sorted[i].EventID < sorted[j].EventID
	})

	ids := make([]string, len(sorted))
	for i, record := range sorted {
		ids[i] = record.EventID
	}
	existing, err := e.store.LookupExistingIDs(ctx, ids)
	if err != nil {
		return 0, syncerr.Wrap("syncengine.Import", syncerr.StorageFailure, "looking up existing ids: %v", err)
	}

	var newRecords []*eventlog.EventRecord
	for _, record := range sorted {
		if existing[record.EventID] {
			continue
		}
		if err := eventlog.VerifyEventID(record); err != nil {
			return 0, err
		}
		record.IsImported = true
		newRecords = append(newRecords, record)
	}

	if len(newRecords) == 0 {
		return 0, nil
	}

	e.writeGate.Lock()
	defer e.writeGate.Unlock()

	for _, record := range newRecords {
		if err := e.store.Append(ctx, record); err != nil {
			return 0, syncerr.Wrap("syncengine.Import", syncerr.StorageFailure, "persisting imported event %s: %v", record.EventID, err)
		}

		e.clocksMu.Lock()
		current, clockErr := e.sessionClockLocked(ctx, record.SessionID)
		if clockErr == nil {
			e.sessionClocks[record.SessionID] = current.Merge(record.VectorClock)
		}
		e.clocksMu.Unlock()

		for {
			observed := e.globalLamport.Load()
			if record.LamportClock <= observed {
				break
			}
			if e.globalLamport.CompareAndSwap(observed, record.LamportClock) {
				break
			}
		}
	}

	return len(newRecords), nil
}

// GetEvents returns every event in sessionID, ordered by (lamport_clock
// ASC, event_id ordinal ASC).
func (e *Engine) GetEvents(ctx context.Context, sessionID int64) ([]*eventlog.EventRecord, error) {
	return e.store.List(ctx, sessionID)
}

// GetMissingEvents is GetEvents excluding any event whose id is in
// knownIDs — the payload of a gossip response (spec §4.H).
func (e *Engine) GetMissingEvents(ctx context.Context, sessionID int64, knownIDs map[string]bool) ([]*eventlog.EventRecord, error) {
	return e.store.ListMissing(ctx, sessionID, knownIDs)
}

// GetHeadEventIDs returns sessionID's current heads.
func (e *Engine) GetHeadEventIDs(ctx context.Context, sessionID int64) ([]string, error) {
	return e.store.Heads(ctx, sessionID)
}

// GetSessionState pulls every event in sessionID and folds it into a
// SessionState (spec §4.F, §4.E).
func (e *Engine) GetSessionState(ctx context.Context, sessionID int64) (*materializer.SessionState, error) {
	records, err := e.store.List(ctx, sessionID)
	if err != nil {
		return nil, syncerr.Wrap("syncengine.GetSessionState", syncerr.StorageFailure, "loading session %d: %v", sessionID, err)
	}
	return materializer.Materialize(records, e.logger), nil
}
