// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tabletop-sync/core/clock"
	"github.com/tabletop-sync/core/eventlog"
	"github.com/tabletop-sync/core/identity"
)

type memSecureStorage struct {
	entries map[string]string
}

func (s *memSecureStorage) Set(_ context.Context, key, value string) error {
	s.entries[key] = value
	return nil
}
func (s *memSecureStorage) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := s.entries[key]
	return value, ok, nil
}
func (s *memSecureStorage) Remove(_ context.Context, key string) error {
	delete(s.entries, key)
	return nil
}

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	storage := &memSecureStorage{entries: make(map[string]string)}
	id, err := identity.InitializeWithClock(context.Background(), storage, "Peer-0001", clock.Fake(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("identity.InitializeWithClock: %v", err)
	}
	return id
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := eventlog.OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := New(store, newTestIdentity(t), clock.Fake(time.Unix(1700000000, 0)), nil)
	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return engine
}

func TestAppendLocalEventBeforeInitializeFails(t *testing.T) {
	store, err := eventlog.OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer store.Close()

	engine := New(store, newTestIdentity(t), nil, nil)
	_, err = engine.AppendLocalEvent(context.Background(), 1, eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "x"})
	if err == nil {
		t.Fatal("expected AppendLocalEvent to fail before Initialize")
	}
}

func TestAppendLocalEventIncreasesLamportAndParents(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.AppendLocalEvent(ctx, 1, eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "first"})
	if err != nil {
		t.Fatalf("AppendLocalEvent: %v", err)
	}
	if len(first.Parents) != 0 {
		t.Errorf("expected no parents for the first event, got %v", first.Parents)
	}

	second, err := engine.AppendLocalEvent(ctx, 1, eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "second"})
	if err != nil {
		t.Fatalf("AppendLocalEvent: %v", err)
	}
	if len(second.Parents) != 1 || second.Parents[0] != first.EventID {
		t.Errorf("expected second event's parent to be %s, got %v", first.EventID, second.Parents)
	}
	if second.LamportClock <= first.LamportClock {
		t.Errorf("expected strictly increasing lamport clocks: %d then %d", first.LamportClock, second.LamportClock)
	}
}

func TestInitializeLoadsMaxLamportAcrossRestart(t *testing.T) {
	store, err := eventlog.OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer store.Close()

	id := newTestIdentity(t)
	ctx := context.Background()

	first := New(store, id, clock.Fake(time.Unix(1, 0)), nil)
	if err := first.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := first.AppendLocalEvent(ctx, 1, eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "x"}); err != nil {
		t.Fatalf("AppendLocalEvent: %v", err)
	}

	second := New(store, id, clock.Fake(time.Unix(2, 0)), nil)
	if err := second.Initialize(ctx); err != nil {
		t.Fatalf("Initialize (second engine): %v", err)
	}
	next, err := second.AppendLocalEvent(ctx, 1, eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "y"})
	if err != nil {
		t.Fatalf("AppendLocalEvent (second engine): %v", err)
	}
	if next.LamportClock != 2 {
		t.Errorf("LamportClock = %d, want 2 (continuing from the restored max)", next.LamportClock)
	}
}

func TestImportRejectsTamperedEventID(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	record := &eventlog.EventRecord{
		EventID:      "NOT-THE-REAL-HASH",
		SessionID:    1,
		Kind:         eventlog.KindChatMessage,
		LamportClock: 1,
		Timestamp:    time.Now().UTC(),
		Body:         eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "forged"},
	}

	if _, err := engine.Import(ctx, []*eventlog.EventRecord{record}); err == nil {
		t.Fatal("expected Import to reject a tampered event id")
	}

	events, err := engine.GetEvents(ctx, 1)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 0 {
		t.Error("expected no events persisted after a rejected import")
	}
}

func TestImportIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	record := &eventlog.EventRecord{
		SessionID:    1,
		Kind:         eventlog.KindChatMessage,
		LamportClock: 1,
		Timestamp:    time.Now().UTC(),
		Body:         eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "hello"},
	}
	id, err := eventlog.ComputeEventID(record)
	if err != nil {
		t.Fatalf("ComputeEventID: %v", err)
	}
	record.EventID = id

	count, err := engine.Import(ctx, []*eventlog.EventRecord{record})
	if err != nil {
		t.Fatalf("Import (first): %v", err)
	}
	if count != 1 {
		t.Errorf("first import count = %d, want 1", count)
	}

	count, err = engine.Import(ctx, []*eventlog.EventRecord{record})
	if err != nil {
		t.Fatalf("Import (second): %v", err)
	}
	if count != 0 {
		t.Errorf("re-import count = %d, want 0 (idempotent)", count)
	}
}

func TestGetSessionStateMaterializesImportedEvents(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	local, err := engine.AppendLocalEvent(ctx, 1, eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "local"})
	if err != nil {
		t.Fatalf("AppendLocalEvent: %v", err)
	}

	remote := &eventlog.EventRecord{
		SessionID:    1,
		Kind:         eventlog.KindChatMessage,
		LamportClock: local.LamportClock + 1,
		Timestamp:    time.Now().UTC(),
		Parents:      []string{local.EventID},
		Body:         eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "remote"},
	}
	remoteID, err := eventlog.ComputeEventID(remote)
	if err != nil {
		t.Fatalf("ComputeEventID: %v", err)
	}
	remote.EventID = remoteID

	if _, err := engine.Import(ctx, []*eventlog.EventRecord{remote}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	state, err := engine.GetSessionState(ctx, 1)
	if err != nil {
		t.Fatalf("GetSessionState: %v", err)
	}
	if len(state.Chat) != 2 {
		t.Fatalf("len(Chat) = %d, want 2", len(state.Chat))
	}
}
